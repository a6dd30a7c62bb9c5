package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/learnstack/tutord/internal/model"
	"github.com/learnstack/tutord/internal/pkg/dbutil"
	appErr "github.com/learnstack/tutord/internal/pkg/errors"
)

var ingestionFields = []string{"source_id", "source_type", "class_id", "status", "reason", "extracted_text", "ctime", "mtime"}

type IngestionRepo struct {
	db *sql.DB
}

func NewIngestionRepo(db *sql.DB) *IngestionRepo {
	return &IngestionRepo{db: db}
}

// Upsert registers or refreshes the tracking record for a source item. A
// re-registered source goes back to pending with fresh text.
func (r *IngestionRepo) Upsert(ctx context.Context, rec *model.IngestionRecord) error {
	const query = `
		INSERT INTO ingestion_records (source_id, source_type, class_id, status, reason, extracted_text, ctime, mtime)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (source_id) DO UPDATE SET
			status = EXCLUDED.status,
			reason = EXCLUDED.reason,
			extracted_text = EXCLUDED.extracted_text,
			mtime = EXCLUDED.mtime
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.SourceID,
		string(rec.SourceType),
		rec.ClassID,
		string(rec.Status),
		rec.Reason,
		rec.ExtractedText,
		rec.Ctime,
		rec.Mtime,
	)
	return err
}

func (r *IngestionRepo) Get(ctx context.Context, sourceID string) (*model.IngestionRecord, error) {
	where := map[string]interface{}{
		"source_id": sourceID,
	}
	sqlStr, args, err := builder.BuildSelect("ingestion_records", where, ingestionFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, appErr.ErrNotFound
	}
	return scanIngestionRecord(rows)
}

// UpdateStatus performs a guarded transition: the row only moves when it is
// still in the expected state, so two workers claiming the same source race
// safely.
func (r *IngestionRepo) UpdateStatus(ctx context.Context, sourceID string, from, to model.IngestionStatus, reason string, mtime int64) error {
	if !from.CanTransition(to) {
		return appErr.ErrInvalid
	}
	const query = `
		UPDATE ingestion_records SET status = $1, reason = $2, mtime = $3
		WHERE source_id = $4 AND status = $5
	`
	result, err := r.db.ExecContext(ctx, query, string(to), reason, mtime, sourceID, string(from))
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

// ListByStatus returns at most limit records in the given state, oldest
// first, for the requeue job.
func (r *IngestionRepo) ListByStatus(ctx context.Context, status model.IngestionStatus, limit int) ([]model.IngestionRecord, error) {
	where := map[string]interface{}{
		"status":   string(status),
		"_orderby": "mtime asc",
		"_limit":   []uint{0, uint(limit)},
	}
	sqlStr, args, err := builder.BuildSelect("ingestion_records", where, ingestionFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	recs := make([]model.IngestionRecord, 0)
	for rows.Next() {
		rec, err := scanIngestionRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

// ListStatuses resolves the status of many sources in one query; sources
// without a record are absent from the result.
func (r *IngestionRepo) ListStatuses(ctx context.Context, sourceIDs []string) (map[string]model.IngestionStatus, error) {
	out := make(map[string]model.IngestionStatus, len(sourceIDs))
	if len(sourceIDs) == 0 {
		return out, nil
	}
	ids := make([]interface{}, 0, len(sourceIDs))
	for _, id := range sourceIDs {
		ids = append(ids, id)
	}
	where := map[string]interface{}{
		"source_id in": ids,
	}
	sqlStr, args, err := builder.BuildSelect("ingestion_records", where, []string{"source_id", "status"})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var sourceID, status string
		if err := rows.Scan(&sourceID, &status); err != nil {
			return nil, err
		}
		out[sourceID] = model.IngestionStatus(status)
	}
	return out, rows.Err()
}

func (r *IngestionRepo) Delete(ctx context.Context, sourceID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM ingestion_records WHERE source_id = $1`, sourceID)
	return err
}

func scanIngestionRecord(rows *sql.Rows) (*model.IngestionRecord, error) {
	var rec model.IngestionRecord
	var sourceType, status string
	if err := rows.Scan(&rec.SourceID, &sourceType, &rec.ClassID, &status, &rec.Reason, &rec.ExtractedText, &rec.Ctime, &rec.Mtime); err != nil {
		return nil, err
	}
	rec.SourceType = model.SourceType(sourceType)
	rec.Status = model.IngestionStatus(status)
	return &rec, nil
}
