// Package chunker splits extracted document pages into overlapping,
// page-bounded chunks of bounded character length.
package chunker

import (
	"strings"

	"policyrag/internal/domain"
	"policyrag/internal/errs"
)

// Splitter accumulates page text into fixed-size character chunks.
// Each emitted chunk records the page range it spans; consecutive
// chunks share the trailing overlap characters of their predecessor.
type Splitter struct {
	chunkSize int
	overlap   int
}

// NewSplitter validates the sizing up front: an overlap at or above
// the chunk size never fills a chunk past its seed, so it is rejected
// as a configuration error rather than looping forever.
func NewSplitter(chunkSize, overlap int) (*Splitter, error) {
	if chunkSize <= 0 {
		return nil, errs.Configf("chunk size must be positive, got %d", chunkSize)
	}
	if overlap < 0 {
		return nil, errs.Configf("chunk overlap must not be negative, got %d", overlap)
	}
	if overlap >= chunkSize {
		return nil, errs.Configf("chunk overlap (%d) must be smaller than chunk size (%d)", overlap, chunkSize)
	}
	return &Splitter{chunkSize: chunkSize, overlap: overlap}, nil
}

// pageSpan marks where one page's text starts in the concatenated stream.
type pageSpan struct {
	offset int
	number int
}

// Split concatenates the document's pages in order, tracking page
// provenance, and cuts the stream into chunks of at most chunkSize
// characters. Every chunk after the first starts with the last
// overlap characters of its predecessor, attributed to the
// predecessor's final page. Whitespace-only pages contribute nothing.
func (s *Splitter) Split(doc domain.Document) []domain.Chunk {
	var sb strings.Builder
	var spans []pageSpan
	for _, p := range doc.Pages {
		if strings.TrimSpace(p.Text) == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		spans = append(spans, pageSpan{offset: sb.Len(), number: p.Number})
		sb.WriteString(p.Text)
	}
	text := sb.String()
	if text == "" {
		return nil
	}

	var chunks []domain.Chunk
	start := 0
	prevPageEnd := 0
	for {
		end := start + s.chunkSize
		if end > len(text) {
			end = len(text)
		}
		pageStart := pageAt(spans, start)
		if len(chunks) > 0 && s.overlap > 0 {
			// the seeded overlap belongs to the previous chunk's last page
			pageStart = prevPageEnd
		}
		pageEnd := pageAt(spans, end-1)
		chunks = append(chunks, domain.Chunk{
			Text:       text[start:end],
			PageStart:  pageStart,
			PageEnd:    pageEnd,
			SourceFile: doc.SourceFile,
		})
		if end == len(text) {
			break
		}
		prevPageEnd = pageEnd
		if s.overlap > 0 && end-start > s.overlap {
			start = end - s.overlap
		} else {
			start = end
		}
	}
	return chunks
}

// pageAt returns the page number owning the given character offset.
func pageAt(spans []pageSpan, offset int) int {
	page := spans[0].number
	for _, sp := range spans {
		if sp.offset > offset {
			break
		}
		page = sp.number
	}
	return page
}
