// Package extract loads source documents as ordered pages of cleaned
// text. Page breaks are form feeds; a file without form feeds is one
// page. Rich-format extraction (PDF and friends) happens upstream and
// hands this layer plain text.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"policyrag/internal/domain"
)

// LoadFile reads one document and splits it into pages. Pages whose
// text is empty or whitespace-only contribute nothing and keep their
// page numbers.
func LoadFile(path string) (domain.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Document{}, fmt.Errorf("read %s: %w", path, err)
	}
	return FromText(filepath.Base(path), string(data)), nil
}

// FromText builds a document from already-extracted text.
func FromText(sourceFile, text string) domain.Document {
	raw := strings.Split(text, "\f")
	pages := make([]domain.Page, 0, len(raw))
	for i, t := range raw {
		cleaned := cleanText(t)
		if strings.TrimSpace(cleaned) == "" {
			continue
		}
		pages = append(pages, domain.Page{Number: i + 1, Text: cleaned})
	}
	return domain.Document{SourceFile: sourceFile, Pages: pages}
}

// ListDocuments expands each path to the document files it names:
// a directory yields its .txt and .md entries sorted by name, a file
// yields itself.
func ListDocuments(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, err
		}
		var dirFiles []string
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			ext := strings.ToLower(filepath.Ext(e.Name()))
			if ext == ".txt" || ext == ".md" {
				dirFiles = append(dirFiles, filepath.Join(p, e.Name()))
			}
		}
		sort.Strings(dirFiles)
		files = append(files, dirFiles...)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no documents found in %v", paths)
	}
	return files, nil
}

// cleanText strips NUL bytes and trims surrounding whitespace from
// every line, preserving line structure.
func cleanText(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	lines := strings.Split(text, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	return strings.Join(lines, "\n")
}
