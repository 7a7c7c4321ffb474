// Package ingest consumes ingestion jobs: it pages messages out of the mail
// adapter, chunks and embeds them, upserts vectors, maintains rollups, and
// advances the tenant checkpoint.
package ingest

import (
	"fmt"
	"unicode/utf8"
)

// Chunk sizing. Each message body yields 1..N chunks of at most ChunkSize
// runes with ChunkOverlap runes shared between neighbors.
const (
	ChunkSize    = 3500
	ChunkOverlap = 400
)

// Chunk is one slice of a message body.
type Chunk struct {
	Index int
	Text  string
}

// ChunkID is the stable vector id of a chunk: "<messageID>#<index>".
func ChunkID(messageID string, index int) string {
	return fmt.Sprintf("%s#%d", messageID, index)
}

// SplitText splits text into overlapping chunks on rune boundaries. Empty
// input produces no chunks. Concatenating the chunks with the overlap
// trimmed from every chunk after the first reconstructs the input.
func SplitText(text string) []Chunk {
	return splitText(text, ChunkSize, ChunkOverlap)
}

func splitText(text string, size, overlap int) []Chunk {
	if text == "" {
		return nil
	}
	if size <= 0 {
		size = 1
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size - 1
	}
	step := size - overlap

	// Precompute rune boundaries so windows never split inside a rune.
	idxs := make([]int, 0, utf8.RuneCountInString(text)+1)
	idxs = append(idxs, 0)
	for i := 0; i < len(text); {
		_, w := utf8.DecodeRuneInString(text[i:])
		i += w
		idxs = append(idxs, i)
	}
	runeCount := len(idxs) - 1

	var chunks []Chunk
	for start := 0; start < runeCount; start += step {
		end := start + size
		if end > runeCount {
			end = runeCount
		}
		chunks = append(chunks, Chunk{Index: len(chunks), Text: text[idxs[start]:idxs[end]]})
		if end == runeCount {
			break
		}
	}
	return chunks
}

// JoinChunks reconstructs the original text from a chunk sequence produced
// by SplitText with the same overlap.
func JoinChunks(chunks []Chunk) string {
	return joinChunks(chunks, ChunkOverlap)
}

func joinChunks(chunks []Chunk, overlap int) string {
	if len(chunks) == 0 {
		return ""
	}
	out := chunks[0].Text
	for _, c := range chunks[1:] {
		runes := []rune(c.Text)
		if len(runes) <= overlap {
			continue
		}
		out += string(runes[overlap:])
	}
	return out
}
