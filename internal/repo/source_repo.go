package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/learnstack/tutord/internal/model"
	"github.com/learnstack/tutord/internal/pkg/dbutil"
	appErr "github.com/learnstack/tutord/internal/pkg/errors"
)

var sourceFields = []string{"id", "user_id", "class_id", "source_type", "title", "ctime"}

type SourceRepo struct {
	db *sql.DB
}

func NewSourceRepo(db *sql.DB) *SourceRepo {
	return &SourceRepo{db: db}
}

func (r *SourceRepo) Upsert(ctx context.Context, src *model.Source) error {
	const query = `
		INSERT INTO sources (id, user_id, class_id, source_type, title, ctime)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title
	`
	_, err := r.db.ExecContext(ctx, query,
		src.ID, src.UserID, src.ClassID, string(src.SourceType), src.Title, src.Ctime)
	return err
}

func (r *SourceRepo) Get(ctx context.Context, sourceID string) (*model.Source, error) {
	where := map[string]interface{}{
		"id": sourceID,
	}
	sqlStr, args, err := builder.BuildSelect("sources", where, sourceFields)
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
	var src model.Source
	var sourceType string
	if err := rows.Scan(&src.ID, &src.UserID, &src.ClassID, &sourceType, &src.Title, &src.Ctime); err != nil {
		return nil, err
	}
	src.SourceType = model.SourceType(sourceType)
	return &src, nil
}

// GetTitle resolves the display title for a citation. The source type is
// checked so an id from one table cannot masquerade as another kind.
func (r *SourceRepo) GetTitle(ctx context.Context, sourceType model.SourceType, sourceID string) (string, error) {
	where := map[string]interface{}{
		"id":          sourceID,
		"source_type": string(sourceType),
	}
	sqlStr, args, err := builder.BuildSelect("sources", where, []string{"title"})
	if err != nil {
		return "", err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return "", err
	}
	defer rows.Close()
	if !rows.Next() {
		return "", appErr.ErrNotFound
	}
	var title string
	if err := rows.Scan(&title); err != nil {
		return "", err
	}
	return title, nil
}

func (r *SourceRepo) ListByClass(ctx context.Context, classID string) ([]model.Source, error) {
	where := map[string]interface{}{
		"class_id": classID,
		"_orderby": "ctime desc",
	}
	sqlStr, args, err := builder.BuildSelect("sources", where, sourceFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	sources := make([]model.Source, 0)
	for rows.Next() {
		var src model.Source
		var sourceType string
		if err := rows.Scan(&src.ID, &src.UserID, &src.ClassID, &sourceType, &src.Title, &src.Ctime); err != nil {
			return nil, err
		}
		src.SourceType = model.SourceType(sourceType)
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

func (r *SourceRepo) Delete(ctx context.Context, userID, sourceID string) error {
	const query = `DELETE FROM sources WHERE id = $1 AND user_id = $2`
	result, err := r.db.ExecContext(ctx, query, sourceID, userID)
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
