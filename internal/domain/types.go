package domain

import "strings"

// Page is one page of extracted document text, 1-based.
type Page struct {
	Number int
	Text   string
}

// Document is a named source with its extracted pages.
type Document struct {
	SourceFile string
	Pages      []Page
}

// Text joins the document's pages in order.
func (d Document) Text() string {
	parts := make([]string, 0, len(d.Pages))
	for _, p := range d.Pages {
		parts = append(parts, p.Text)
	}
	return strings.Join(parts, "\n")
}

// Chunk is a bounded span of document text with page provenance,
// the unit of indexing. Immutable once created.
type Chunk struct {
	Text       string `json:"text"`
	PageStart  int    `json:"page_start"`
	PageEnd    int    `json:"page_end"`
	SourceFile string `json:"source_file"`
}

// RetrievedChunk is a chunk returned from similarity search together
// with its score.
type RetrievedChunk struct {
	Score      float64 `json:"score"`
	Text       string  `json:"text"`
	SourceFile string  `json:"source_file"`
	PageStart  int     `json:"page_start"`
	PageEnd    int     `json:"page_end"`
}

// SnippetLimit bounds how much chunk text a Citation exposes.
const SnippetLimit = 500

// Citation is the provenance of one retrieved chunk attached to a
// generated answer. Never persisted.
type Citation struct {
	SourceFile string  `json:"source_file"`
	PageStart  int     `json:"page_start"`
	PageEnd    int     `json:"page_end"`
	Score      float64 `json:"score"`
	Snippet    string  `json:"snippet"`
}

// Answer is a grounded answer with its citations and the prompt that
// produced it.
type Answer struct {
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations"`
	UsedTopK  int        `json:"used_top_k"`
	Prompt    string     `json:"prompt"`
}

// TierReport describes what one tier ingested.
type TierReport struct {
	Tier    string `json:"tier"`
	Files   int    `json:"files_processed"`
	Chunks  int    `json:"chunks_added"`
	Vectors int    `json:"vectors"`
}

// IngestReport is the per-tier outcome of one ingestion run, in
// cascade order (detail, summary, digest).
type IngestReport struct {
	Tiers []TierReport `json:"tiers"`
}

// IndexStats describes the persisted state of one tier's index.
type IndexStats struct {
	Vectors      int    `json:"vectors"`
	FilesIndexed int    `json:"files_indexed"`
	IndexPath    string `json:"index_path"`
	MetadataPath string `json:"metadata_path"`
	IndexExists  bool   `json:"index_exists"`
	LastModified string `json:"last_modified,omitempty"`
}
