package model

import "fmt"

// ContentChunk is one bounded span of extracted text with its provenance.
// Chunks are immutable once written; the ID is derived from the source and
// the chunk index so re-ingesting a source overwrites rather than duplicates.
type ContentChunk struct {
	ID         string     `json:"id"`
	ClassID    string     `json:"class_id"`
	SourceType SourceType `json:"source_type"`
	SourceID   string     `json:"source_id"`
	ChunkIndex int        `json:"chunk_index"`
	Text       string     `json:"text"`
	Timestamp  string     `json:"timestamp,omitempty"`
	PageNumber int        `json:"page_number,omitempty"`
}

func ChunkID(sourceID string, index int) string {
	return fmt.Sprintf("%s:%d", sourceID, index)
}

// VectorDocument pairs a chunk with its embedding for index writes.
type VectorDocument struct {
	Chunk     ContentChunk
	Embedding []float32
}

// SearchResult is an ephemeral retrieval candidate. Score is normalized to
// higher-is-better regardless of the underlying distance metric.
type SearchResult struct {
	Chunk ContentChunk
	Score float32
}
