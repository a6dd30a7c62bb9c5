package model

import "fmt"

// SourceType identifies the kind of uploaded material a chunk came from.
type SourceType string

const (
	SourceAudio    SourceType = "audio"
	SourcePhoto    SourceType = "photo"
	SourceTextbook SourceType = "textbook"
)

// SourceTypeInfo carries the per-type retrieval parameters. Quota bounds how
// many candidates a single type may contribute before the global merge, so a
// chatty type cannot crowd out the others. Priority orders tie-broken merges.
type SourceTypeInfo struct {
	Label    string
	Quota    int
	Priority int
}

var sourceTypes = map[SourceType]SourceTypeInfo{
	SourceAudio:    {Label: "Lecture", Quota: 3, Priority: 0},
	SourcePhoto:    {Label: "Photo", Quota: 2, Priority: 1},
	SourceTextbook: {Label: "Textbook", Quota: 3, Priority: 2},
}

// AllSourceTypes returns the closed set of source types in priority order.
func AllSourceTypes() []SourceType {
	return []SourceType{SourceAudio, SourcePhoto, SourceTextbook}
}

func (t SourceType) Valid() bool {
	_, ok := sourceTypes[t]
	return ok
}

func (t SourceType) Info() SourceTypeInfo {
	return sourceTypes[t]
}

func ParseSourceType(raw string) (SourceType, error) {
	t := SourceType(raw)
	if !t.Valid() {
		return "", fmt.Errorf("unknown source type: %s", raw)
	}
	return t, nil
}

// SourceFilters toggles which source types participate in a retrieval call.
// The zero value disables everything; use AllSources for the default.
type SourceFilters struct {
	Audio    bool `json:"audio"`
	Photo    bool `json:"photo"`
	Textbook bool `json:"textbook"`
}

func AllSources() SourceFilters {
	return SourceFilters{Audio: true, Photo: true, Textbook: true}
}

func (f SourceFilters) Enabled(t SourceType) bool {
	switch t {
	case SourceAudio:
		return f.Audio
	case SourcePhoto:
		return f.Photo
	case SourceTextbook:
		return f.Textbook
	}
	return false
}

// Source is the metadata row for one uploaded item, used to resolve
// human-readable citation titles.
type Source struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	ClassID    string     `json:"class_id"`
	SourceType SourceType `json:"source_type"`
	Title      string     `json:"title"`
	Ctime      int64      `json:"ctime"`
}
