package index

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/carbonview/cbam-cli/internal/model"
)

// Splitter cuts document text into bounded, overlapping chunks. Windows are
// measured in runes and close at a whitespace boundary where one exists in
// the back half of the window, so words are not cut mid-token.
type Splitter struct {
	Size    int // max chunk length in runes
	Overlap int // runes carried over into the next chunk
}

// NewSplitter returns a splitter with the given window size and overlap.
// Overlap is clamped below size.
func NewSplitter(size, overlap int) Splitter {
	if size <= 0 {
		size = 1200
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 4
	}
	return Splitter{Size: size, Overlap: overlap}
}

// Split chunks one document. Chunk IDs are deterministic
// ("<doc-id>#<ordinal>") so rebuilt indexes cite stably.
func (s Splitter) Split(doc model.Document, docOrdinal int) []model.Chunk {
	runes := []rune(doc.Text)
	if len(runes) == 0 {
		return nil
	}

	var chunks []model.Chunk
	start := 0
	for start < len(runes) {
		end := start + s.Size
		if end >= len(runes) {
			end = len(runes)
		} else {
			// Walk back to whitespace, but never past the window midpoint.
			cut := end
			for cut > start+s.Size/2 && !unicode.IsSpace(runes[cut-1]) {
				cut--
			}
			if cut > start+s.Size/2 {
				end = cut
			}
		}

		text := strings.TrimSpace(string(runes[start:end]))
		if text != "" {
			chunks = append(chunks, model.Chunk{
				ID:         fmt.Sprintf("%s#%d", doc.ID, len(chunks)),
				DocID:      doc.ID,
				DocTitle:   doc.Title,
				DocOrdinal: docOrdinal,
				Ordinal:    len(chunks),
				Text:       text,
				Start:      start,
				End:        end,
			})
		}

		if end == len(runes) {
			break
		}
		next := end - s.Overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}

	return chunks
}
