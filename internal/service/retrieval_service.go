package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/learnstack/tutord/internal/model"
	appErr "github.com/learnstack/tutord/internal/pkg/errors"
	"github.com/learnstack/tutord/internal/vectorindex"
)

const defaultTopN = 5

// RetrievalResult is the merged, title-resolved context for one query.
// ContextText is empty when nothing relevant was found; the chat layer
// switches prompt mode on that.
type RetrievalResult struct {
	ContextText string
	Citations   []model.Citation
	Degraded    bool
}

type RetrievalService struct {
	embedder Embedder
	index    VectorIndex
	records  IngestionStore
	sources  SourceStore
	topN     int
}

func NewRetrievalService(embedder Embedder, index VectorIndex, records IngestionStore, sources SourceStore, topN int) *RetrievalService {
	if topN <= 0 {
		topN = defaultTopN
	}
	return &RetrievalService{
		embedder: embedder,
		index:    index,
		records:  records,
		sources:  sources,
		topN:     topN,
	}
}

// Retrieve embeds the query once, searches each enabled source type under
// its own quota, then merges the candidates into a global top-N. Per-type
// quotas keep one abundant type from crowding out the others.
func (s *RetrievalService) Retrieve(ctx context.Context, classID, query string, filters model.SourceFilters) (*RetrievalResult, error) {
	if classID == "" || strings.TrimSpace(query) == "" {
		return nil, appErr.ErrInvalid
	}
	queryVec, degraded := s.embedder.EmbedQuery(ctx, query)
	if degraded {
		// A zero query vector has no cosine direction, so searching
		// with it yields meaningless scores. Surface the ungrounded
		// case instead and let the chat layer fall back.
		logutil.GetLogger(ctx).Warn("query embedding degraded, skipping retrieval",
			zap.String("class_id", classID))
		return &RetrievalResult{Degraded: true}, nil
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		merged   []model.SearchResult
		firstErr error
	)
	for _, sourceType := range model.AllSourceTypes() {
		if !filters.Enabled(sourceType) {
			continue
		}
		sourceType := sourceType
		wg.Add(1)
		go func() {
			defer wg.Done()
			results, err := s.index.Search(ctx, classID, queryVec, sourceType.Info().Quota,
				vectorindex.Filter{SourceType: sourceType})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			merged = append(merged, results...)
		}()
	}
	wg.Wait()
	if firstErr != nil {
		return nil, fmt.Errorf("%w: vector search: %v", appErr.ErrUnavailable, firstErr)
	}

	merged, err := s.filterIngested(ctx, merged)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Chunk.SourceType != b.Chunk.SourceType {
			return a.Chunk.SourceType.Info().Priority < b.Chunk.SourceType.Info().Priority
		}
		return a.Chunk.ChunkIndex < b.Chunk.ChunkIndex
	})
	if len(merged) > s.topN {
		merged = merged[:s.topN]
	}
	return s.assemble(ctx, merged, degraded), nil
}

// filterIngested drops chunks whose source has not finished ingesting, so
// half-written sources never leak into answers. Statuses are resolved in
// one batched lookup.
func (s *RetrievalService) filterIngested(ctx context.Context, results []model.SearchResult) ([]model.SearchResult, error) {
	if len(results) == 0 {
		return results, nil
	}
	seen := make(map[string]struct{})
	ids := make([]string, 0, len(results))
	for _, item := range results {
		if _, ok := seen[item.Chunk.SourceID]; ok {
			continue
		}
		seen[item.Chunk.SourceID] = struct{}{}
		ids = append(ids, item.Chunk.SourceID)
	}
	statuses, err := s.records.ListStatuses(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve ingestion statuses: %v", appErr.ErrPersistence, err)
	}
	kept := results[:0]
	for _, item := range results {
		if statuses[item.Chunk.SourceID] == model.IngestionComplete {
			kept = append(kept, item)
		}
	}
	return kept, nil
}

// assemble renders the numbered context block and the matching citations.
// A title that cannot be resolved falls back to "Unknown" instead of
// failing the retrieval.
func (s *RetrievalService) assemble(ctx context.Context, results []model.SearchResult, degraded bool) *RetrievalResult {
	out := &RetrievalResult{Degraded: degraded}
	if len(results) == 0 {
		return out
	}
	blocks := make([]string, 0, len(results))
	out.Citations = make([]model.Citation, 0, len(results))
	for i, item := range results {
		chunk := item.Chunk
		title, err := s.sources.GetTitle(ctx, chunk.SourceType, chunk.SourceID)
		if err != nil {
			if !appErr.IsNotFound(err) {
				logutil.GetLogger(ctx).Warn("resolve source title failed",
					zap.String("source_id", chunk.SourceID), zap.Error(err))
			}
			title = "Unknown"
		}
		blocks = append(blocks, fmt.Sprintf("[Source %d - %s: %s]\n%s",
			i+1, chunk.SourceType.Info().Label, title, chunk.Text))
		out.Citations = append(out.Citations, model.Citation{
			Type:           chunk.SourceType,
			ID:             chunk.SourceID,
			Title:          title,
			RelevanceScore: item.Score,
			Timestamp:      chunk.Timestamp,
			PageNumber:     chunk.PageNumber,
		})
	}
	out.ContextText = strings.Join(blocks, "\n\n")
	return out
}
