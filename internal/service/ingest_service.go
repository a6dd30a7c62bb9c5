package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/learnstack/tutord/internal/chunker"
	"github.com/learnstack/tutord/internal/embedding"
	"github.com/learnstack/tutord/internal/model"
	appErr "github.com/learnstack/tutord/internal/pkg/errors"
	"github.com/learnstack/tutord/internal/queue"
	"github.com/learnstack/tutord/internal/vectorindex"
)

// minPageChars filters out near-empty textbook pages (headers, page
// numbers) before they waste chunks.
const minPageChars = 50

// requeueStaleAfter is how long a pending record must sit untouched before
// the cron job resubmits it. Fresher records still have their original task
// in the queue buffer; resubmitting those would race two pipelines over the
// same source.
const requeueStaleAfter = 10 * time.Minute

// VectorIndex is the slice of the vector store the ingest and retrieval
// services use.
type VectorIndex interface {
	Upsert(ctx context.Context, docs []model.VectorDocument) error
	Search(ctx context.Context, classID string, queryVec []float32, topK int, filter vectorindex.Filter) ([]model.SearchResult, error)
	DeleteBySource(ctx context.Context, classID, sourceID string) error
	DeletePartition(ctx context.Context, classID string) error
	Count(ctx context.Context, classID string) (int, error)
}

// Embedder abstracts the embedding generator. The bool return reports
// degraded mode (zero vectors from a failed backend).
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string, taskType string) ([][]float32, bool)
	EmbedQuery(ctx context.Context, text string) ([]float32, bool)
}

// IngestionStore tracks per-source ingestion state.
type IngestionStore interface {
	Upsert(ctx context.Context, rec *model.IngestionRecord) error
	Get(ctx context.Context, sourceID string) (*model.IngestionRecord, error)
	UpdateStatus(ctx context.Context, sourceID string, from, to model.IngestionStatus, reason string, mtime int64) error
	ListByStatus(ctx context.Context, status model.IngestionStatus, limit int) ([]model.IngestionRecord, error)
	ListStatuses(ctx context.Context, sourceIDs []string) (map[string]model.IngestionStatus, error)
	Delete(ctx context.Context, sourceID string) error
}

// SourceStore keeps source metadata for citation titles and ownership.
type SourceStore interface {
	Upsert(ctx context.Context, src *model.Source) error
	GetTitle(ctx context.Context, sourceType model.SourceType, sourceID string) (string, error)
	ListByClass(ctx context.Context, classID string) ([]model.Source, error)
	Delete(ctx context.Context, userID, sourceID string) error
}

// TaskQueue is the background executor ingestion work runs on.
type TaskQueue interface {
	SubmitTracked(name string, fn queue.TaskFunc, onFail queue.FailFunc) error
}

// Page is one page of extracted textbook text.
type Page struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// IngestRequest carries already-extracted text; extraction (transcription,
// OCR, PDF parsing) happens upstream.
type IngestRequest struct {
	UserID     string
	ClassID    string
	SourceType model.SourceType
	SourceID   string
	Title      string
	Text       string
	Timestamp  string
	Pages      []Page
}

type IngestService struct {
	records  IngestionStore
	sources  SourceStore
	splitter *chunker.Chunker
	embedder Embedder
	index    VectorIndex
	queue    TaskQueue
}

func NewIngestService(records IngestionStore, sources SourceStore, splitter *chunker.Chunker, embedder Embedder, index VectorIndex, queue TaskQueue) *IngestService {
	return &IngestService{
		records:  records,
		sources:  sources,
		splitter: splitter,
		embedder: embedder,
		index:    index,
		queue:    queue,
	}
}

// Register records the source as pending and enqueues the processing task.
// It returns once the work is queued; callers poll Status for the outcome.
func (s *IngestService) Register(ctx context.Context, req *IngestRequest) error {
	if err := s.validate(req); err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "Untitled"
	}
	if err := s.sources.Upsert(ctx, &model.Source{
		ID:         req.SourceID,
		UserID:     req.UserID,
		ClassID:    req.ClassID,
		SourceType: req.SourceType,
		Title:      title,
		Ctime:      now,
	}); err != nil {
		return fmt.Errorf("%w: save source: %v", appErr.ErrPersistence, err)
	}
	if err := s.records.Upsert(ctx, &model.IngestionRecord{
		SourceID:      req.SourceID,
		SourceType:    req.SourceType,
		ClassID:       req.ClassID,
		Status:        model.IngestionPending,
		ExtractedText: encodePayload(req),
		Ctime:         now,
		Mtime:         now,
	}); err != nil {
		return fmt.Errorf("%w: save ingestion record: %v", appErr.ErrPersistence, err)
	}
	return s.enqueue(ctx, req)
}

func (s *IngestService) enqueue(ctx context.Context, req *IngestRequest) error {
	request := *req
	err := s.queue.SubmitTracked("ingest:"+req.SourceID,
		func(taskCtx context.Context) error {
			return s.Process(taskCtx, &request)
		},
		func(taskCtx context.Context, taskErr error) {
			s.markError(taskCtx, request.SourceID, taskErr)
		})
	if err != nil {
		logutil.GetLogger(ctx).Error("enqueue ingestion failed",
			zap.String("source_id", req.SourceID), zap.Error(err))
		return fmt.Errorf("%w: %v", appErr.ErrUnavailable, err)
	}
	return nil
}

// Process runs the chunk/embed/store pipeline for one source. An error
// return leaves the record in processing so a retry can pick it up; the
// queue's failure hook writes the terminal error state once attempts run
// out.
func (s *IngestService) Process(ctx context.Context, req *IngestRequest) error {
	now := time.Now().UnixMilli()
	if err := s.claim(ctx, req.SourceID, now); err != nil {
		return err
	}

	docs, degraded := s.buildDocuments(ctx, req)
	if err := s.index.DeleteBySource(ctx, req.ClassID, req.SourceID); err != nil {
		return fmt.Errorf("clear previous chunks: %w", err)
	}
	if err := s.index.Upsert(ctx, docs); err != nil {
		return fmt.Errorf("store chunks: %w", err)
	}

	reason := ""
	if degraded {
		reason = "embedded in degraded mode"
	}
	if err := s.records.UpdateStatus(ctx, req.SourceID,
		model.IngestionProcessing, model.IngestionComplete, reason, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("mark complete: %w", err)
	}
	logutil.GetLogger(ctx).Info("source ingested",
		zap.String("source_id", req.SourceID),
		zap.String("class_id", req.ClassID),
		zap.Int("chunks", len(docs)),
		zap.Bool("degraded", degraded))
	return nil
}

// claim moves the record into processing. A record already in processing
// belongs to an earlier attempt of this same task and is claimed as-is.
func (s *IngestService) claim(ctx context.Context, sourceID string, now int64) error {
	err := s.records.UpdateStatus(ctx, sourceID,
		model.IngestionPending, model.IngestionProcessing, "", now)
	if err == nil {
		return nil
	}
	if !appErr.IsNotFound(err) {
		return err
	}
	rec, getErr := s.records.Get(ctx, sourceID)
	if getErr != nil {
		return getErr
	}
	if rec.Status == model.IngestionProcessing {
		return nil
	}
	return fmt.Errorf("%w: source %s is %s", appErr.ErrInvalid, sourceID, rec.Status)
}

func (s *IngestService) markError(ctx context.Context, sourceID string, cause error) {
	reason := "ingestion failed"
	if cause != nil {
		reason = cause.Error()
	}
	err := s.records.UpdateStatus(ctx, sourceID,
		model.IngestionProcessing, model.IngestionError, reason, time.Now().UnixMilli())
	if err != nil {
		logutil.GetLogger(ctx).Error("record ingestion failure",
			zap.String("source_id", sourceID), zap.Error(err))
	}
}

// buildDocuments chunks the request text and embeds every chunk in one
// batch. Empty input yields an empty batch, which completes as an empty
// source rather than an error.
func (s *IngestService) buildDocuments(ctx context.Context, req *IngestRequest) ([]model.VectorDocument, bool) {
	type span struct {
		text string
		page int
	}
	var spans []span
	if len(req.Pages) > 0 {
		for _, page := range req.Pages {
			if len(strings.TrimSpace(page.Text)) < minPageChars {
				continue
			}
			for _, text := range s.splitter.Split(chunker.Normalize(page.Text)) {
				spans = append(spans, span{text: text, page: page.Number})
			}
		}
	} else {
		for _, text := range s.splitter.Split(chunker.Normalize(req.Text)) {
			spans = append(spans, span{text: text})
		}
	}
	if len(spans) == 0 {
		return nil, false
	}

	texts := make([]string, 0, len(spans))
	for _, sp := range spans {
		texts = append(texts, sp.text)
	}
	vectors, degraded := s.embedder.EmbedBatch(ctx, texts, embedding.TaskDocument)

	docs := make([]model.VectorDocument, 0, len(spans))
	for i, sp := range spans {
		docs = append(docs, model.VectorDocument{
			Chunk: model.ContentChunk{
				ID:         model.ChunkID(req.SourceID, i),
				ClassID:    req.ClassID,
				SourceType: req.SourceType,
				SourceID:   req.SourceID,
				ChunkIndex: i,
				Text:       sp.text,
				Timestamp:  req.Timestamp,
				PageNumber: sp.page,
			},
			Embedding: vectors[i],
		})
	}
	return docs, degraded
}

// Status returns the tracking record for one source.
func (s *IngestService) Status(ctx context.Context, sourceID string) (*model.IngestionRecord, error) {
	if sourceID == "" {
		return nil, appErr.ErrInvalid
	}
	return s.records.Get(ctx, sourceID)
}

// ListSources lists the uploaded items of a class, newest first.
func (s *IngestService) ListSources(ctx context.Context, classID string) ([]model.Source, error) {
	if classID == "" {
		return nil, appErr.ErrInvalid
	}
	return s.sources.ListByClass(ctx, classID)
}

// DeleteSource removes a source the user owns: metadata, tracking record
// and every indexed chunk.
func (s *IngestService) DeleteSource(ctx context.Context, userID, classID, sourceID string) error {
	if userID == "" || classID == "" || sourceID == "" {
		return appErr.ErrInvalid
	}
	if err := s.sources.Delete(ctx, userID, sourceID); err != nil {
		return err
	}
	if err := s.index.DeleteBySource(ctx, classID, sourceID); err != nil {
		return fmt.Errorf("%w: remove chunks: %v", appErr.ErrPersistence, err)
	}
	if err := s.records.Delete(ctx, sourceID); err != nil {
		return fmt.Errorf("%w: remove ingestion record: %v", appErr.ErrPersistence, err)
	}
	return nil
}

// WipeClass drops the whole vector partition of a class.
func (s *IngestService) WipeClass(ctx context.Context, classID string) error {
	if classID == "" {
		return appErr.ErrInvalid
	}
	return s.index.DeletePartition(ctx, classID)
}

// ClassChunkCount reports how many chunks a class currently holds.
func (s *IngestService) ClassChunkCount(ctx context.Context, classID string) (int, error) {
	if classID == "" {
		return 0, appErr.ErrInvalid
	}
	return s.index.Count(ctx, classID)
}

// Requeue re-submits stale pending records, picking up work lost to a full
// buffer or a restart. Runs from the cron scheduler. Records touched within
// requeueStaleAfter are left alone: their original task is assumed queued.
func (s *IngestService) Requeue(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 50
	}
	recs, err := s.records.ListByStatus(ctx, model.IngestionPending, limit)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-requeueStaleAfter).UnixMilli()
	requeued := 0
	for i := range recs {
		rec := recs[i]
		if rec.Mtime > cutoff {
			continue
		}
		payload := decodePayload(rec.ExtractedText)
		req := &IngestRequest{
			ClassID:    rec.ClassID,
			SourceType: rec.SourceType,
			SourceID:   rec.SourceID,
			Text:       payload.Text,
			Timestamp:  payload.Timestamp,
			Pages:      payload.Pages,
		}
		if err := s.enqueue(ctx, req); err != nil {
			// Buffer is full again; the next tick retries the rest.
			return requeued, nil
		}
		requeued++
	}
	return requeued, nil
}

func (s *IngestService) validate(req *IngestRequest) error {
	if req == nil || req.UserID == "" || req.ClassID == "" || req.SourceID == "" {
		return appErr.ErrInvalid
	}
	if !req.SourceType.Valid() {
		return fmt.Errorf("%w: unknown source type %q", appErr.ErrInvalid, req.SourceType)
	}
	if strings.TrimSpace(req.Text) == "" && len(req.Pages) == 0 {
		return fmt.Errorf("%w: no text to ingest", appErr.ErrInvalid)
	}
	return nil
}

// ingestPayload is the durable form of a request's text, kept on the
// ingestion record so a requeued source re-ingests exactly as registered:
// page structure and timestamps survive the round trip.
type ingestPayload struct {
	Text      string `json:"text,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Pages     []Page `json:"pages,omitempty"`
}

func encodePayload(req *IngestRequest) string {
	blob, err := json.Marshal(ingestPayload{
		Text:      req.Text,
		Timestamp: req.Timestamp,
		Pages:     req.Pages,
	})
	if err != nil {
		return req.Text
	}
	return string(blob)
}

func decodePayload(raw string) ingestPayload {
	var payload ingestPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		// Not JSON: treat the whole value as plain text.
		return ingestPayload{Text: raw}
	}
	return payload
}
