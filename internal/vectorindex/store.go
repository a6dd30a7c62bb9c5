package vectorindex

import (
	"context"
	"database/sql"
	"fmt"
	"math"

	"github.com/pgvector/pgvector-go"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/learnstack/tutord/internal/model"
	appErr "github.com/learnstack/tutord/internal/pkg/errors"
)

// Filter restricts a similarity search to one source type and/or one source.
type Filter struct {
	SourceType model.SourceType
	SourceID   string
}

// Store keeps per-class partitions of (chunk, embedding) pairs in a single
// pgvector table keyed by class id. Partitions come into existence with the
// first write and vanish with DeletePartition; there is no separate create
// step.
type Store struct {
	db        *sql.DB
	dimension int
}

func New(db *sql.DB, dimension int) *Store {
	return &Store{db: db, dimension: dimension}
}

// Upsert writes one batch of documents. Every document must belong to the
// same class; a mixed batch is a validation error, never silently split.
// Chunk ids are the natural source:index key, so re-running an ingestion
// replaces rows instead of duplicating them.
func (s *Store) Upsert(ctx context.Context, docs []model.VectorDocument) error {
	if len(docs) == 0 {
		return nil
	}
	classID := docs[0].Chunk.ClassID
	if classID == "" {
		return appErr.ErrInvalid
	}
	for _, doc := range docs {
		if doc.Chunk.ClassID != classID {
			return fmt.Errorf("%w: mixed class ids in upsert batch", appErr.ErrInvalid)
		}
		if len(doc.Embedding) != s.dimension {
			return fmt.Errorf("%w: embedding dimension %d, want %d", appErr.ErrInvalid, len(doc.Embedding), s.dimension)
		}
	}

	const query = `
		INSERT INTO content_chunks (id, class_id, source_type, source_id, chunk_index, content, source_timestamp, page_number, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			source_timestamp = EXCLUDED.source_timestamp,
			page_number = EXCLUDED.page_number,
			embedding = EXCLUDED.embedding
	`
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, doc := range docs {
		chunk := doc.Chunk
		_, err := tx.ExecContext(ctx, query,
			chunk.ID,
			chunk.ClassID,
			string(chunk.SourceType),
			chunk.SourceID,
			chunk.ChunkIndex,
			chunk.Text,
			chunk.Timestamp,
			chunk.PageNumber,
			pgvector.NewVector(doc.Embedding),
		)
		if err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	logutil.GetLogger(ctx).Debug("stored chunks",
		zap.String("class_id", classID), zap.Int("count", len(docs)))
	return nil
}

// Search returns up to topK candidates ordered by relevance. pgvector's
// cosine operator yields a distance, so scores are flipped to 1-distance
// here: every caller sees higher-is-better and can merge results from
// independent searches directly.
func (s *Store) Search(ctx context.Context, classID string, queryVec []float32, topK int, filter Filter) ([]model.SearchResult, error) {
	if classID == "" || len(queryVec) == 0 {
		return nil, appErr.ErrInvalid
	}
	if topK <= 0 {
		topK = 5
	}
	query := `
		SELECT id, class_id, source_type, source_id, chunk_index, content, source_timestamp, page_number,
			1 - (embedding <=> $1) AS score
		FROM content_chunks
		WHERE class_id = $2
	`
	args := []interface{}{pgvector.NewVector(queryVec), classID}
	if filter.SourceType != "" {
		args = append(args, string(filter.SourceType))
		query += fmt.Sprintf(" AND source_type = $%d", len(args))
	}
	if filter.SourceID != "" {
		args = append(args, filter.SourceID)
		query += fmt.Sprintf(" AND source_id = $%d", len(args))
	}
	args = append(args, topK)
	query += fmt.Sprintf(" ORDER BY embedding <=> $1 LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := make([]model.SearchResult, 0, topK)
	for rows.Next() {
		var item model.SearchResult
		var sourceType string
		if err := rows.Scan(
			&item.Chunk.ID,
			&item.Chunk.ClassID,
			&sourceType,
			&item.Chunk.SourceID,
			&item.Chunk.ChunkIndex,
			&item.Chunk.Text,
			&item.Chunk.Timestamp,
			&item.Chunk.PageNumber,
			&item.Score,
		); err != nil {
			return nil, err
		}
		// Cosine distance against a zero vector is NaN; such rows come
		// from a degraded ingestion and carry no usable relevance, so
		// they are dropped rather than handed to score-merging callers.
		if math.IsNaN(float64(item.Score)) {
			continue
		}
		item.Chunk.SourceType = model.SourceType(sourceType)
		results = append(results, item)
	}
	return results, rows.Err()
}

// DeleteBySource removes every chunk of one source from the class partition
// in a single statement, so a source disappears atomically.
func (s *Store) DeleteBySource(ctx context.Context, classID, sourceID string) error {
	if classID == "" || sourceID == "" {
		return appErr.ErrInvalid
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM content_chunks WHERE class_id = $1 AND source_id = $2`, classID, sourceID)
	return err
}

// DeletePartition wipes a class partition. Deleting an absent partition is
// not an error.
func (s *Store) DeletePartition(ctx context.Context, classID string) error {
	if classID == "" {
		return appErr.ErrInvalid
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM content_chunks WHERE class_id = $1`, classID)
	return err
}

// Count reports how many chunks a class partition holds.
func (s *Store) Count(ctx context.Context, classID string) (int, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM content_chunks WHERE class_id = $1`, classID)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
