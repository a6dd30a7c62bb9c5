package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/learnstack/tutord/internal/ai"
	"github.com/learnstack/tutord/internal/embedding"
	"github.com/learnstack/tutord/internal/model"
	appErr "github.com/learnstack/tutord/internal/pkg/errors"
)

const (
	defaultHistoryLimit = 20
	defaultTitle        = "New Conversation"

	genTemperature     = 0.7
	genMaxOutputTokens = 1000
)

const groundedPromptFormat = `You are a helpful tutor for a student. Answer the question using the class material below. Cite the sources you use by their bracketed number, like [Source 1]. If the material does not cover the question, say so and answer from general knowledge.

Class material:
%s`

const generalPrompt = `You are a helpful tutor for a student. No class material matched this question, so answer from general knowledge and mention that the class material does not cover it.`

// ConversationStore persists conversation aggregates.
type ConversationStore interface {
	Create(ctx context.Context, conv *model.Conversation) error
	GetOwned(ctx context.Context, userID, classID, convID string) (*model.Conversation, error)
	ListByClass(ctx context.Context, userID, classID string) ([]model.Conversation, error)
	ApplyTurn(ctx context.Context, convID string, lastMessageAt int64) error
	Delete(ctx context.Context, userID, convID string) error
}

// MessageStore persists the immutable message log.
type MessageStore interface {
	Create(ctx context.Context, msg *model.Message) error
	ListRecent(ctx context.Context, convID string, limit int) ([]model.Message, error)
	ListByConversation(ctx context.Context, convID string) ([]model.Message, error)
}

// Retriever produces grounded context for a query.
type Retriever interface {
	Retrieve(ctx context.Context, classID, query string, filters model.SourceFilters) (*RetrievalResult, error)
}

// Generator produces one assistant reply from a prompt and history.
type Generator interface {
	Chat(ctx context.Context, system string, msgs []ai.ChatMessage, opts ai.GenOptions) (*ai.GenResult, error)
}

type ChatRequest struct {
	UserID         string
	ClassID        string
	ConversationID string
	Message        string
	Filters        model.SourceFilters
}

type ChatResponse struct {
	ConversationID string           `json:"conversation_id"`
	MessageID      string           `json:"message_id"`
	Content        string           `json:"content"`
	Citations      []model.Citation `json:"citations,omitempty"`
	Degraded       bool             `json:"degraded,omitempty"`
}

// ConversationDetail is a conversation with its full ordered transcript.
type ConversationDetail struct {
	Conversation model.Conversation `json:"conversation"`
	Messages     []model.Message    `json:"messages"`
}

type ChatService struct {
	conversations ConversationStore
	messages      MessageStore
	retriever     Retriever
	generator     Generator
	historyLimit  int
}

func NewChatService(conversations ConversationStore, messages MessageStore, retriever Retriever, generator Generator, historyLimit int) *ChatService {
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	return &ChatService{
		conversations: conversations,
		messages:      messages,
		retriever:     retriever,
		generator:     generator,
		historyLimit:  historyLimit,
	}
}

// Chat runs one tutoring turn: resolve the conversation, retrieve grounded
// context, generate a reply, then persist the exchange. A turn only counts
// once both messages are stored; if persistence fails the turn fails even
// though a reply was generated.
func (s *ChatService) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if req == nil || req.UserID == "" || req.ClassID == "" || strings.TrimSpace(req.Message) == "" {
		return nil, appErr.ErrInvalid
	}

	conv, err := s.resolveConversation(ctx, req)
	if err != nil {
		return nil, err
	}
	history, err := s.messages.ListRecent(ctx, conv.ID, s.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: load history: %v", appErr.ErrPersistence, err)
	}

	retrieval, err := s.retriever.Retrieve(ctx, req.ClassID, req.Message, req.Filters)
	if err != nil {
		return nil, err
	}

	msgs := make([]ai.ChatMessage, 0, len(history)+1)
	for _, msg := range history {
		msgs = append(msgs, ai.ChatMessage{Role: msg.Role, Content: msg.Content})
	}
	msgs = append(msgs, ai.ChatMessage{Role: model.RoleUser, Content: req.Message})

	result, err := s.generator.Chat(ctx, s.systemPrompt(retrieval), msgs, ai.GenOptions{
		Temperature:     genTemperature,
		MaxOutputTokens: genMaxOutputTokens,
	})
	if err != nil {
		logutil.GetLogger(ctx).Error("generation failed",
			zap.String("conversation_id", conv.ID), zap.Error(err))
		return nil, fmt.Errorf("%w: generation: %v", appErr.ErrUnavailable, err)
	}

	now := time.Now().UnixMilli()
	userMsg := &model.Message{
		ID:             newID(),
		ConversationID: conv.ID,
		Role:           model.RoleUser,
		Content:        req.Message,
		TokenCount:     embedding.EstimateTokens(req.Message),
		Ctime:          now,
	}
	if err := s.messages.Create(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("%w: save user message: %v", appErr.ErrPersistence, err)
	}
	tokenCount := result.OutputTokens
	if tokenCount == 0 {
		tokenCount = embedding.EstimateTokens(result.Text)
	}
	assistantMsg := &model.Message{
		ID:             newID(),
		ConversationID: conv.ID,
		Role:           model.RoleAssistant,
		Content:        result.Text,
		Citations:      retrieval.Citations,
		TokenCount:     tokenCount,
		// One past the user message so transcript order survives a
		// same-millisecond write.
		Ctime: now + 1,
	}
	if err := s.messages.Create(ctx, assistantMsg); err != nil {
		return nil, fmt.Errorf("%w: save assistant message: %v", appErr.ErrPersistence, err)
	}
	if err := s.conversations.ApplyTurn(ctx, conv.ID, assistantMsg.Ctime); err != nil {
		return nil, fmt.Errorf("%w: update conversation: %v", appErr.ErrPersistence, err)
	}

	return &ChatResponse{
		ConversationID: conv.ID,
		MessageID:      assistantMsg.ID,
		Content:        result.Text,
		Citations:      retrieval.Citations,
		Degraded:       retrieval.Degraded,
	}, nil
}

// resolveConversation finds the caller's conversation or starts a fresh
// one. A stale or foreign id silently becomes a new conversation, so a
// turn never fails on conversation lookup.
func (s *ChatService) resolveConversation(ctx context.Context, req *ChatRequest) (*model.Conversation, error) {
	if req.ConversationID != "" {
		conv, err := s.conversations.GetOwned(ctx, req.UserID, req.ClassID, req.ConversationID)
		if err == nil {
			return conv, nil
		}
		if !appErr.IsNotFound(err) {
			return nil, fmt.Errorf("%w: load conversation: %v", appErr.ErrPersistence, err)
		}
	}
	conv := &model.Conversation{
		ID:      newID(),
		UserID:  req.UserID,
		ClassID: req.ClassID,
		Title:   defaultTitle,
		Ctime:   time.Now().UnixMilli(),
	}
	if err := s.conversations.Create(ctx, conv); err != nil {
		return nil, fmt.Errorf("%w: create conversation: %v", appErr.ErrPersistence, err)
	}
	return conv, nil
}

func (s *ChatService) systemPrompt(retrieval *RetrievalResult) string {
	if retrieval == nil || retrieval.ContextText == "" {
		return generalPrompt
	}
	return fmt.Sprintf(groundedPromptFormat, retrieval.ContextText)
}

// GetConversation returns one owned conversation with its transcript.
func (s *ChatService) GetConversation(ctx context.Context, userID, classID, convID string) (*ConversationDetail, error) {
	if userID == "" || classID == "" || convID == "" {
		return nil, appErr.ErrInvalid
	}
	conv, err := s.conversations.GetOwned(ctx, userID, classID, convID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.messages.ListByConversation(ctx, convID)
	if err != nil {
		return nil, fmt.Errorf("%w: load messages: %v", appErr.ErrPersistence, err)
	}
	return &ConversationDetail{Conversation: *conv, Messages: msgs}, nil
}

// ListConversations lists the caller's conversations for a class, most
// recently active first.
func (s *ChatService) ListConversations(ctx context.Context, userID, classID string) ([]model.Conversation, error) {
	if userID == "" || classID == "" {
		return nil, appErr.ErrInvalid
	}
	return s.conversations.ListByClass(ctx, userID, classID)
}

// DeleteConversation removes an owned conversation and its messages.
func (s *ChatService) DeleteConversation(ctx context.Context, userID, convID string) error {
	if userID == "" || convID == "" {
		return appErr.ErrInvalid
	}
	return s.conversations.Delete(ctx, userID, convID)
}
