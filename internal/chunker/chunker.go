package chunker

import "strings"

// Chunker splits normalized text into overlapping bounded-size spans. It
// tries separators in priority order (paragraph break, line break, sentence
// end, word break, single character) so semantic units stay whole when they
// fit, and carries a fixed overlap between consecutive spans so a concept
// straddling a boundary is present in both.
type Chunker struct {
	chunkSize  int
	overlap    int
	separators []string
}

const (
	DefaultChunkSize = 2048
	DefaultOverlap   = 200
)

func New(chunkSize, overlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = DefaultOverlap
	}
	return &Chunker{
		chunkSize:  chunkSize,
		overlap:    overlap,
		separators: []string{"\n\n", "\n", ". ", " ", ""},
	}
}

// Split returns the ordered spans of text. Empty or whitespace-only input
// yields nil; input within the chunk size yields a single span.
func (c *Chunker) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if len(text) <= c.chunkSize {
		return []string{text}
	}
	return c.split(text, c.separators)
}

// split breaks text on the highest-priority separator present, recursing
// with the remaining separators for any piece still over the chunk size.
// Pieces keep their trailing separator so concatenation is lossless.
func (c *Chunker) split(text string, separators []string) []string {
	sep := separators[len(separators)-1]
	rest := separators
	for i, s := range separators {
		if s == "" || strings.Contains(text, s) {
			sep = s
			rest = separators[i+1:]
			break
		}
	}

	var pieces []string
	if sep == "" {
		pieces = splitRunes(text, c.chunkSize)
	} else {
		pieces = splitKeepSep(text, sep)
	}

	var out []string
	var pending []string
	for _, piece := range pieces {
		if len(piece) <= c.chunkSize {
			pending = append(pending, piece)
			continue
		}
		out = append(out, c.merge(pending)...)
		pending = nil
		if len(rest) == 0 {
			out = append(out, piece)
			continue
		}
		out = append(out, c.split(piece, rest)...)
	}
	out = append(out, c.merge(pending)...)
	return out
}

// merge packs small pieces into chunks up to chunkSize, retaining a tail of
// at most overlap characters when starting the next chunk.
func (c *Chunker) merge(pieces []string) []string {
	if len(pieces) == 0 {
		return nil
	}
	var chunks []string
	var current []string
	total := 0
	for _, piece := range pieces {
		if total+len(piece) > c.chunkSize && len(current) > 0 {
			chunk := strings.Join(current, "")
			if strings.TrimSpace(chunk) != "" {
				chunks = append(chunks, chunk)
			}
			for len(current) > 0 && (total > c.overlap || total+len(piece) > c.chunkSize) {
				total -= len(current[0])
				current = current[1:]
			}
		}
		current = append(current, piece)
		total += len(piece)
	}
	if len(current) > 0 {
		chunk := strings.Join(current, "")
		if strings.TrimSpace(chunk) != "" {
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}

func splitKeepSep(text, sep string) []string {
	parts := strings.Split(text, sep)
	out := make([]string, 0, len(parts))
	for i, part := range parts {
		if i < len(parts)-1 {
			part += sep
		}
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func splitRunes(text string, size int) []string {
	runes := []rune(text)
	var out []string
	for start := 0; start < len(runes); {
		end := start
		length := 0
		for end < len(runes) && length < size {
			length += len(string(runes[end]))
			end++
		}
		out = append(out, string(runes[start:end]))
		start = end
	}
	return out
}
