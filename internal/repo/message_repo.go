package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/didi/gendry/builder"

	"github.com/learnstack/tutord/internal/model"
	"github.com/learnstack/tutord/internal/pkg/dbutil"
	appErr "github.com/learnstack/tutord/internal/pkg/errors"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

func (r *MessageRepo) Create(ctx context.Context, msg *model.Message) error {
	var citations interface{}
	if len(msg.Citations) > 0 {
		blob, err := json.Marshal(msg.Citations)
		if err != nil {
			return err
		}
		citations = string(blob)
	}
	data := map[string]interface{}{
		"id":              msg.ID,
		"conversation_id": msg.ConversationID,
		"role":            msg.Role,
		"content":         msg.Content,
		"citations":       citations,
		"token_count":     msg.TokenCount,
		"ctime":           msg.Ctime,
	}
	sqlStr, args, err := builder.BuildInsert("messages", []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	if _, err := r.db.ExecContext(ctx, sqlStr, args...); err != nil {
		if dbutil.IsConflict(err) {
			return appErr.ErrInvalid
		}
		return err
	}
	return nil
}

// ListRecent returns the latest limit messages of a conversation ordered
// oldest-first, ready to prepend to a generation call.
func (r *MessageRepo) ListRecent(ctx context.Context, convID string, limit int) ([]model.Message, error) {
	const query = `
		SELECT id, conversation_id, role, content, citations, token_count, ctime
		FROM messages
		WHERE conversation_id = $1
		ORDER BY ctime DESC, id DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, convID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (r *MessageRepo) ListByConversation(ctx context.Context, convID string) ([]model.Message, error) {
	const query = `
		SELECT id, conversation_id, role, content, citations, token_count, ctime
		FROM messages
		WHERE conversation_id = $1
		ORDER BY ctime ASC, id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, convID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]model.Message, error) {
	msgs := make([]model.Message, 0)
	for rows.Next() {
		var msg model.Message
		var citations sql.NullString
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &citations, &msg.TokenCount, &msg.Ctime); err != nil {
			return nil, err
		}
		if citations.Valid && citations.String != "" {
			if err := json.Unmarshal([]byte(citations.String), &msg.Citations); err != nil {
				return nil, err
			}
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}
