package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/learnstack/tutord/internal/ai"
	"github.com/learnstack/tutord/internal/model"
	appErr "github.com/learnstack/tutord/internal/pkg/errors"
	"github.com/learnstack/tutord/internal/queue"
	"github.com/learnstack/tutord/internal/vectorindex"
)

type fakeIndex struct {
	mu        sync.Mutex
	byType      map[model.SourceType][]model.SearchResult
	upserted    []model.VectorDocument
	deleted     []string
	wiped       []string
	searchErr   error
	upsertErr   error
	searchCalls int
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{byType: make(map[model.SourceType][]model.SearchResult)}
}

func (f *fakeIndex) Upsert(ctx context.Context, docs []model.VectorDocument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserted = append(f.upserted, docs...)
	return nil
}

func (f *fakeIndex) Search(ctx context.Context, classID string, queryVec []float32, topK int, filter vectorindex.Filter) ([]model.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls++
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	results := f.byType[filter.SourceType]
	if len(results) > topK {
		results = results[:topK]
	}
	return append([]model.SearchResult(nil), results...), nil
}

func (f *fakeIndex) DeleteBySource(ctx context.Context, classID, sourceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, sourceID)
	return nil
}

func (f *fakeIndex) DeletePartition(ctx context.Context, classID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wiped = append(f.wiped, classID)
	return nil
}

func (f *fakeIndex) Count(ctx context.Context, classID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.upserted), nil
}

type fakeEmbedder struct {
	dimension int
	degraded  bool
	calls     int
}

func (f *fakeEmbedder) vector() []float32 {
	dim := f.dimension
	if dim <= 0 {
		dim = 4
	}
	vec := make([]float32, dim)
	if !f.degraded {
		vec[0] = 1
	}
	return vec
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string, taskType string) ([][]float32, bool) {
	f.calls++
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vector()
	}
	return out, f.degraded
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, bool) {
	f.calls++
	return f.vector(), f.degraded
}

type fakeIngestionStore struct {
	mu      sync.Mutex
	records map[string]*model.IngestionRecord
}

func newFakeIngestionStore() *fakeIngestionStore {
	return &fakeIngestionStore{records: make(map[string]*model.IngestionRecord)}
}

func (f *fakeIngestionStore) Upsert(ctx context.Context, rec *model.IngestionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *rec
	f.records[rec.SourceID] = &clone
	return nil
}

func (f *fakeIngestionStore) Get(ctx context.Context, sourceID string) (*model.IngestionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[sourceID]
	if !ok {
		return nil, appErr.ErrNotFound
	}
	clone := *rec
	return &clone, nil
}

func (f *fakeIngestionStore) UpdateStatus(ctx context.Context, sourceID string, from, to model.IngestionStatus, reason string, mtime int64) error {
	if !from.CanTransition(to) {
		return appErr.ErrInvalid
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[sourceID]
	if !ok || rec.Status != from {
		return appErr.ErrNotFound
	}
	rec.Status = to
	rec.Reason = reason
	rec.Mtime = mtime
	return nil
}

func (f *fakeIngestionStore) ListByStatus(ctx context.Context, status model.IngestionStatus, limit int) ([]model.IngestionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.IngestionRecord, 0)
	for _, rec := range f.records {
		if rec.Status == status && len(out) < limit {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (f *fakeIngestionStore) ListStatuses(ctx context.Context, sourceIDs []string) (map[string]model.IngestionStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]model.IngestionStatus)
	for _, id := range sourceIDs {
		if rec, ok := f.records[id]; ok {
			out[id] = rec.Status
		}
	}
	return out, nil
}

func (f *fakeIngestionStore) Delete(ctx context.Context, sourceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, sourceID)
	return nil
}

type fakeSourceStore struct {
	mu       sync.Mutex
	titles   map[string]string
	sources  map[string]*model.Source
	titleErr error
}

func newFakeSourceStore() *fakeSourceStore {
	return &fakeSourceStore{titles: make(map[string]string), sources: make(map[string]*model.Source)}
}

func (f *fakeSourceStore) Upsert(ctx context.Context, src *model.Source) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *src
	f.sources[src.ID] = &clone
	f.titles[src.ID] = src.Title
	return nil
}

func (f *fakeSourceStore) GetTitle(ctx context.Context, sourceType model.SourceType, sourceID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.titleErr != nil {
		return "", f.titleErr
	}
	title, ok := f.titles[sourceID]
	if !ok {
		return "", appErr.ErrNotFound
	}
	return title, nil
}

func (f *fakeSourceStore) ListByClass(ctx context.Context, classID string) ([]model.Source, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Source, 0)
	for _, src := range f.sources {
		if src.ClassID == classID {
			out = append(out, *src)
		}
	}
	return out, nil
}

func (f *fakeSourceStore) Delete(ctx context.Context, userID, sourceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	src, ok := f.sources[sourceID]
	if !ok || src.UserID != userID {
		return appErr.ErrNotFound
	}
	delete(f.sources, sourceID)
	delete(f.titles, sourceID)
	return nil
}

// syncQueue runs submitted tasks inline so tests see the final state
// without sleeping. Attempts are capped at two to exercise the retry
// path, then the failure hook fires like the real queue.
type syncQueue struct {
	submitErr error
	submitted int
}

func (q *syncQueue) SubmitTracked(name string, fn queue.TaskFunc, onFail queue.FailFunc) error {
	if q.submitErr != nil {
		return q.submitErr
	}
	q.submitted++
	ctx := context.Background()
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
	}
	if onFail != nil {
		onFail(ctx, err)
	}
	return nil
}

type fakeConvStore struct {
	mu       sync.Mutex
	convs    map[string]*model.Conversation
	turns    map[string]int
	applyErr error
}

func newFakeConvStore() *fakeConvStore {
	return &fakeConvStore{convs: make(map[string]*model.Conversation), turns: make(map[string]int)}
}

func (f *fakeConvStore) Create(ctx context.Context, conv *model.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *conv
	f.convs[conv.ID] = &clone
	return nil
}

func (f *fakeConvStore) GetOwned(ctx context.Context, userID, classID, convID string) (*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.convs[convID]
	if !ok || conv.UserID != userID || conv.ClassID != classID {
		return nil, appErr.ErrNotFound
	}
	clone := *conv
	return &clone, nil
}

func (f *fakeConvStore) ListByClass(ctx context.Context, userID, classID string) ([]model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Conversation, 0)
	for _, conv := range f.convs {
		if conv.UserID == userID && conv.ClassID == classID {
			out = append(out, *conv)
		}
	}
	return out, nil
}

func (f *fakeConvStore) ApplyTurn(ctx context.Context, convID string, lastMessageAt int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyErr != nil {
		return f.applyErr
	}
	conv, ok := f.convs[convID]
	if !ok {
		return appErr.ErrNotFound
	}
	conv.MessageCount += 2
	conv.LastMessageAt = lastMessageAt
	f.turns[convID]++
	return nil
}

func (f *fakeConvStore) Delete(ctx context.Context, userID, convID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.convs[convID]
	if !ok || conv.UserID != userID {
		return appErr.ErrNotFound
	}
	delete(f.convs, convID)
	return nil
}

type fakeMsgStore struct {
	mu        sync.Mutex
	messages  []model.Message
	createErr error
	failAfter int
}

func (f *fakeMsgStore) Create(ctx context.Context, msg *model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil && len(f.messages) >= f.failAfter {
		return f.createErr
	}
	f.messages = append(f.messages, *msg)
	return nil
}

func (f *fakeMsgStore) ListRecent(ctx context.Context, convID string, limit int) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Message, 0)
	for _, msg := range f.messages {
		if msg.ConversationID == convID {
			out = append(out, msg)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeMsgStore) ListByConversation(ctx context.Context, convID string) ([]model.Message, error) {
	return f.ListRecent(ctx, convID, 1<<30)
}

type fakeRetriever struct {
	result *RetrievalResult
	err    error
}

func (f *fakeRetriever) Retrieve(ctx context.Context, classID, query string, filters model.SourceFilters) (*RetrievalResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &RetrievalResult{}, nil
}

type fakeGenerator struct {
	reply   string
	err     error
	lastSys string
	history []ai.ChatMessage
	calls   int
}

func (f *fakeGenerator) Chat(ctx context.Context, system string, msgs []ai.ChatMessage, opts ai.GenOptions) (*ai.GenResult, error) {
	f.calls++
	f.lastSys = system
	f.history = append([]ai.ChatMessage(nil), msgs...)
	if f.err != nil {
		return nil, f.err
	}
	reply := f.reply
	if reply == "" {
		reply = "generated reply"
	}
	return &ai.GenResult{Text: reply, OutputTokens: len(reply) / 4}, nil
}

var errBoom = errors.New("boom")

func searchHit(sourceType model.SourceType, sourceID string, index int, score float32) model.SearchResult {
	return model.SearchResult{
		Chunk: model.ContentChunk{
			ID:         model.ChunkID(sourceID, index),
			ClassID:    "class-1",
			SourceType: sourceType,
			SourceID:   sourceID,
			ChunkIndex: index,
			Text:       fmt.Sprintf("%s chunk %d", sourceID, index),
		},
		Score: score,
	}
}
