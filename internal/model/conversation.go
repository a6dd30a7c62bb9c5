package model

type Conversation struct {
	ID            string `json:"id"`
	UserID        string `json:"user_id"`
	ClassID       string `json:"class_id"`
	Title         string `json:"title"`
	MessageCount  int    `json:"message_count"`
	LastMessageAt int64  `json:"last_message_at"`
	Ctime         int64  `json:"ctime"`
}
