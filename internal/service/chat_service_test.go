package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/learnstack/tutord/internal/model"
	appErr "github.com/learnstack/tutord/internal/pkg/errors"
)

func chatFixture() (*ChatService, *fakeConvStore, *fakeMsgStore, *fakeRetriever, *fakeGenerator) {
	convs := newFakeConvStore()
	msgs := &fakeMsgStore{}
	retriever := &fakeRetriever{}
	generator := &fakeGenerator{}
	svc := NewChatService(convs, msgs, retriever, generator, 20)
	return svc, convs, msgs, retriever, generator
}

func TestChatCreatesConversationWhenNoneGiven(t *testing.T) {
	svc, convs, msgs, _, _ := chatFixture()
	resp, err := svc.Chat(context.Background(), &ChatRequest{
		UserID: "u1", ClassID: "class-1", Message: "what is a derivative?",
		Filters: model.AllSources(),
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.ConversationID)

	conv := convs.convs[resp.ConversationID]
	require.NotNil(t, conv)
	require.Equal(t, "New Conversation", conv.Title)
	require.Equal(t, 2, conv.MessageCount)
	require.Len(t, msgs.messages, 2)
}

func TestChatReusesOwnedConversation(t *testing.T) {
	svc, convs, _, _, _ := chatFixture()
	require.NoError(t, convs.Create(context.Background(), &model.Conversation{
		ID: "conv-1", UserID: "u1", ClassID: "class-1", Title: "Limits",
	}))
	resp, err := svc.Chat(context.Background(), &ChatRequest{
		UserID: "u1", ClassID: "class-1", ConversationID: "conv-1", Message: "and the chain rule?",
		Filters: model.AllSources(),
	})
	require.NoError(t, err)
	require.Equal(t, "conv-1", resp.ConversationID)
	require.Equal(t, 1, len(convs.convs))
}

func TestChatForeignConversationBecomesNew(t *testing.T) {
	svc, convs, _, _, _ := chatFixture()
	require.NoError(t, convs.Create(context.Background(), &model.Conversation{
		ID: "conv-1", UserID: "someone-else", ClassID: "class-1",
	}))
	resp, err := svc.Chat(context.Background(), &ChatRequest{
		UserID: "u1", ClassID: "class-1", ConversationID: "conv-1", Message: "hello",
		Filters: model.AllSources(),
	})
	require.NoError(t, err)
	require.NotEqual(t, "conv-1", resp.ConversationID)
}

func TestChatPersistsTurnInOrder(t *testing.T) {
	svc, _, msgs, retriever, _ := chatFixture()
	retriever.result = &RetrievalResult{
		ContextText: "[Source 1 - Lecture: Week 3]\nderivatives measure change",
		Citations:   []model.Citation{{Type: model.SourceAudio, ID: "audio-1", Title: "Week 3", RelevanceScore: 0.9}},
	}
	resp, err := svc.Chat(context.Background(), &ChatRequest{
		UserID: "u1", ClassID: "class-1", Message: "what is a derivative?",
		Filters: model.AllSources(),
	})
	require.NoError(t, err)
	require.Len(t, msgs.messages, 2)

	user, assistant := msgs.messages[0], msgs.messages[1]
	require.Equal(t, model.RoleUser, user.Role)
	require.Equal(t, "what is a derivative?", user.Content)
	require.Empty(t, user.Citations)
	require.Equal(t, model.RoleAssistant, assistant.Role)
	require.Equal(t, resp.Content, assistant.Content)
	require.Len(t, assistant.Citations, 1)
	require.Greater(t, assistant.Ctime, user.Ctime)
	require.Equal(t, assistant.ID, resp.MessageID)
}

func TestChatGroundedPromptCarriesContext(t *testing.T) {
	svc, _, _, retriever, generator := chatFixture()
	retriever.result = &RetrievalResult{ContextText: "[Source 1 - Textbook: Ch 4]\nphotosynthesis overview"}
	_, err := svc.Chat(context.Background(), &ChatRequest{
		UserID: "u1", ClassID: "class-1", Message: "explain photosynthesis",
		Filters: model.AllSources(),
	})
	require.NoError(t, err)
	require.Contains(t, generator.lastSys, "photosynthesis overview")
	require.Contains(t, generator.lastSys, "[Source 1 - Textbook: Ch 4]")
}

func TestChatEmptyRetrievalUsesGeneralPrompt(t *testing.T) {
	svc, _, _, _, generator := chatFixture()
	_, err := svc.Chat(context.Background(), &ChatRequest{
		UserID: "u1", ClassID: "class-1", Message: "who was Napoleon?",
		Filters: model.AllSources(),
	})
	require.NoError(t, err)
	require.NotContains(t, generator.lastSys, "Class material:")
	require.Contains(t, generator.lastSys, "general knowledge")
}

func TestChatSendsRecentHistory(t *testing.T) {
	svc, convs, msgs, _, generator := chatFixture()
	require.NoError(t, convs.Create(context.Background(), &model.Conversation{
		ID: "conv-1", UserID: "u1", ClassID: "class-1",
	}))
	for i := 0; i < 30; i++ {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		msgs.messages = append(msgs.messages, model.Message{
			ID: newID(), ConversationID: "conv-1", Role: role,
			Content: strings.Repeat("x", i+1), Ctime: int64(i),
		})
	}
	_, err := svc.Chat(context.Background(), &ChatRequest{
		UserID: "u1", ClassID: "class-1", ConversationID: "conv-1", Message: "next question",
		Filters: model.AllSources(),
	})
	require.NoError(t, err)
	// 20 history messages plus the new user turn.
	require.Len(t, generator.history, 21)
	require.Equal(t, "next question", generator.history[20].Content)
}

func TestChatGenerationFailureIsUnavailable(t *testing.T) {
	svc, _, msgs, _, generator := chatFixture()
	generator.err = errBoom
	_, err := svc.Chat(context.Background(), &ChatRequest{
		UserID: "u1", ClassID: "class-1", Message: "hello",
		Filters: model.AllSources(),
	})
	require.ErrorIs(t, err, appErr.ErrUnavailable)
	// Nothing persisted when no reply was produced.
	require.Empty(t, msgs.messages)
}

func TestChatPersistenceFailureFailsTurn(t *testing.T) {
	svc, convs, msgs, _, _ := chatFixture()
	msgs.createErr = errBoom
	msgs.failAfter = 1
	_, err := svc.Chat(context.Background(), &ChatRequest{
		UserID: "u1", ClassID: "class-1", Message: "hello",
		Filters: model.AllSources(),
	})
	require.ErrorIs(t, err, appErr.ErrPersistence)
	for _, conv := range convs.convs {
		require.Zero(t, conv.MessageCount)
	}
}

func TestChatRejectsBlankMessage(t *testing.T) {
	svc, _, _, _, _ := chatFixture()
	_, err := svc.Chat(context.Background(), &ChatRequest{
		UserID: "u1", ClassID: "class-1", Message: "   ",
	})
	require.ErrorIs(t, err, appErr.ErrInvalid)
}

func TestGetConversationWithTranscript(t *testing.T) {
	svc, convs, msgs, _, _ := chatFixture()
	require.NoError(t, convs.Create(context.Background(), &model.Conversation{
		ID: "conv-1", UserID: "u1", ClassID: "class-1",
	}))
	msgs.messages = []model.Message{
		{ID: "m1", ConversationID: "conv-1", Role: model.RoleUser, Content: "q"},
		{ID: "m2", ConversationID: "conv-1", Role: model.RoleAssistant, Content: "a"},
	}
	detail, err := svc.GetConversation(context.Background(), "u1", "class-1", "conv-1")
	require.NoError(t, err)
	require.Len(t, detail.Messages, 2)

	_, err = svc.GetConversation(context.Background(), "u2", "class-1", "conv-1")
	require.ErrorIs(t, err, appErr.ErrNotFound)
}

func TestDeleteConversationChecksOwnership(t *testing.T) {
	svc, convs, _, _, _ := chatFixture()
	require.NoError(t, convs.Create(context.Background(), &model.Conversation{
		ID: "conv-1", UserID: "u1", ClassID: "class-1",
	}))
	require.ErrorIs(t, svc.DeleteConversation(context.Background(), "u2", "conv-1"), appErr.ErrNotFound)
	require.NoError(t, svc.DeleteConversation(context.Background(), "u1", "conv-1"))
}
