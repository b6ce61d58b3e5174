package services

import (
	"strings"
	"unicode"

	"ai-tutor-platform/models"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// TextChunker splits text into overlapping windows measured in runes.
// Windows end on the strongest nearby boundary (paragraph, line, sentence,
// word) and fall back to a hard cut when a run has no whitespace at all.
type TextChunker struct {
	size    int
	overlap int
}

func NewTextChunker(size, overlap int) *TextChunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 5
	}
	return &TextChunker{size: size, overlap: overlap}
}

func (c *TextChunker) Size() int    { return c.size }
func (c *TextChunker) Overlap() int { return c.overlap }

// Chunk returns the windows of text in order. Each chunk starts at or before
// the end of the previous one, so the chunks cover every rune of the input.
// Empty or whitespace-only text yields no chunks.
func (c *TextChunker) Chunk(text string) []models.Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	n := len(runes)
	var chunks []models.Chunk

	start := 0
	for {
		end := start + c.size
		if end >= n {
			end = n
		} else {
			end = c.splitPoint(runes, start, end)
		}

		chunks = append(chunks, models.Chunk{
			Index: len(chunks),
			Text:  string(runes[start:end]),
			Start: start,
			End:   end,
		})

		if end == n {
			return chunks
		}
		start = c.nextStart(runes, start, end)
	}
}

// splitPoint picks where a window that would end at limit actually ends.
// Only the back half of the window is searched, and never before
// start+overlap, so the following window always advances.
func (c *TextChunker) splitPoint(runes []rune, start, limit int) int {
	lo := start + c.size/2
	if floor := start + c.overlap + 1; lo < floor {
		lo = floor
	}

	best, bestRank := limit, 0
	for p := limit; p >= lo; p-- {
		if rank := boundaryRank(runes, p); rank > bestRank {
			best, bestRank = p, rank
			if rank == rankParagraph {
				break
			}
		}
	}
	return best
}

// nextStart backs up by the overlap, then moves forward to the start of a
// word so the next chunk does not begin mid-word.
func (c *TextChunker) nextStart(runes []rune, start, end int) int {
	next := end - c.overlap
	if next <= start {
		next = start + 1
	}
	for q := next; q < end; q++ {
		if isWordStart(runes, q) {
			return q
		}
	}
	return next
}

const (
	rankNone = iota
	rankWord
	rankSentence
	rankLine
	rankParagraph
)

// boundaryRank scores cutting runes at position p (chunk ends before p).
func boundaryRank(runes []rune, p int) int {
	if p <= 0 || p > len(runes) {
		return rankNone
	}
	prev := runes[p-1]
	switch {
	case prev == '\n' && p >= 2 && runes[p-2] == '\n':
		return rankParagraph
	case prev == '\n':
		return rankLine
	case unicode.IsSpace(prev) && p >= 2 && strings.ContainsRune(".?!", runes[p-2]):
		return rankSentence
	case unicode.IsSpace(prev):
		return rankWord
	case p < len(runes) && unicode.IsSpace(runes[p]):
		return rankWord
	}
	return rankNone
}

func isWordStart(runes []rune, q int) bool {
	if q <= 0 {
		return true
	}
	return unicode.IsSpace(runes[q-1]) && !unicode.IsSpace(runes[q])
}
