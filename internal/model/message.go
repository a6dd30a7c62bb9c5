package model

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Citation ties part of an answer back to the uploaded source it came from.
// Only assistant messages carry citations.
type Citation struct {
	Type           SourceType `json:"type"`
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	RelevanceScore float32    `json:"relevance_score"`
	Timestamp      string     `json:"timestamp,omitempty"`
	PageNumber     int        `json:"page_number,omitempty"`
}

// Message is immutable once persisted.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	Role           string     `json:"role"`
	Content        string     `json:"content"`
	Citations      []Citation `json:"citations,omitempty"`
	TokenCount     int        `json:"token_count"`
	Ctime          int64      `json:"ctime"`
}
