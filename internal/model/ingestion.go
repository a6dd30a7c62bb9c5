package model

// IngestionStatus is the per-source state machine:
// pending -> processing -> {complete, error}. The two final states are
// terminal; error keeps a human-readable reason.
type IngestionStatus string

const (
	IngestionPending    IngestionStatus = "pending"
	IngestionProcessing IngestionStatus = "processing"
	IngestionComplete   IngestionStatus = "complete"
	IngestionError      IngestionStatus = "error"
)

var ingestionTransitions = map[IngestionStatus][]IngestionStatus{
	IngestionPending:    {IngestionProcessing},
	IngestionProcessing: {IngestionComplete, IngestionError},
}

// CanTransition reports whether moving from one status to another is legal.
func (s IngestionStatus) CanTransition(to IngestionStatus) bool {
	for _, next := range ingestionTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s IngestionStatus) Terminal() bool {
	return s == IngestionComplete || s == IngestionError
}

type IngestionRecord struct {
	SourceID      string          `json:"source_id"`
	SourceType    SourceType      `json:"source_type"`
	ClassID       string          `json:"class_id"`
	Status        IngestionStatus `json:"status"`
	Reason        string          `json:"reason,omitempty"`
	ExtractedText string          `json:"-"`
	Ctime         int64           `json:"ctime"`
	Mtime         int64           `json:"mtime"`
}
