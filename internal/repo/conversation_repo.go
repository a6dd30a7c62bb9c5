package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/learnstack/tutord/internal/model"
	"github.com/learnstack/tutord/internal/pkg/dbutil"
	appErr "github.com/learnstack/tutord/internal/pkg/errors"
)

var conversationFields = []string{"id", "user_id", "class_id", "title", "message_count", "last_message_at", "ctime"}

type ConversationRepo struct {
	db *sql.DB
}

func NewConversationRepo(db *sql.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

func (r *ConversationRepo) Create(ctx context.Context, conv *model.Conversation) error {
	data := map[string]interface{}{
		"id":              conv.ID,
		"user_id":         conv.UserID,
		"class_id":        conv.ClassID,
		"title":           conv.Title,
		"message_count":   conv.MessageCount,
		"last_message_at": conv.LastMessageAt,
		"ctime":           conv.Ctime,
	}
	sqlStr, args, err := builder.BuildInsert("conversations", []map[string]interface{}{data})
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

// GetOwned fetches a conversation only when it belongs to the given user
// and class. Anything else is a single not-found, so a caller cannot tell
// a missing conversation from someone else's.
func (r *ConversationRepo) GetOwned(ctx context.Context, userID, classID, convID string) (*model.Conversation, error) {
	where := map[string]interface{}{
		"id":       convID,
		"user_id":  userID,
		"class_id": classID,
	}
	sqlStr, args, err := builder.BuildSelect("conversations", where, conversationFields)
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
	var conv model.Conversation
	if err := rows.Scan(&conv.ID, &conv.UserID, &conv.ClassID, &conv.Title, &conv.MessageCount, &conv.LastMessageAt, &conv.Ctime); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *ConversationRepo) ListByClass(ctx context.Context, userID, classID string) ([]model.Conversation, error) {
	where := map[string]interface{}{
		"user_id":  userID,
		"class_id": classID,
		"_orderby": "last_message_at desc",
	}
	sqlStr, args, err := builder.BuildSelect("conversations", where, conversationFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	convs := make([]model.Conversation, 0)
	for rows.Next() {
		var conv model.Conversation
		if err := rows.Scan(&conv.ID, &conv.UserID, &conv.ClassID, &conv.Title, &conv.MessageCount, &conv.LastMessageAt, &conv.Ctime); err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// ApplyTurn bumps the aggregate after a persisted exchange: one user and
// one assistant message.
func (r *ConversationRepo) ApplyTurn(ctx context.Context, convID string, lastMessageAt int64) error {
	const query = `UPDATE conversations SET message_count = message_count + 2, last_message_at = $1 WHERE id = $2`
	result, err := r.db.ExecContext(ctx, query, lastMessageAt, convID)
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

func (r *ConversationRepo) Delete(ctx context.Context, userID, convID string) error {
	const query = `DELETE FROM conversations WHERE id = $1 AND user_id = $2`
	result, err := r.db.ExecContext(ctx, query, convID, userID)
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
	_, err = r.db.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = $1`, convID)
	return err
}
