// Package server exposes one tier as an HTTP service: multipart
// ingest, JSON query, health, stats, and metrics.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"policyrag/internal/domain"
	"policyrag/internal/errs"
	"policyrag/internal/extract"
	"policyrag/internal/metrics"
	"policyrag/internal/tier"
)

// Server serves one tier over HTTP.
type Server struct {
	tier    *tier.Tier
	docsDir string
	metrics *metrics.Metrics
	log     *slog.Logger
}

func New(t *tier.Tier, docsDir string, m *metrics.Metrics, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		tier:    t,
		docsDir: docsDir,
		metrics: m,
		log:     log.With("component", "server", "tier", t.Level().String()),
	}
}

// Handler builds the route table with request-id and metrics
// middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /ingest", s.handleIngest)
	mux.HandleFunc("POST /query", s.handleQuery)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.Handle("GET /metrics", s.metrics.Handler())
	return s.withRequestID(s.withMetrics(mux))
}

type ingestResponse struct {
	FilesProcessed int    `json:"files_processed"`
	ChunksAdded    int    `json:"chunks_added"`
	Vectors        int    `json:"vectors"`
	Message        string `json:"message"`
}

// handleIngest accepts a multipart upload, saves the files next to
// the tier's artifacts, and indexes them. force_rebuild=true resets
// the index first.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: parse multipart form: %v", errs.ErrInvalidInput, err))
		return
	}
	uploads := r.MultipartForm.File["files"]
	if len(uploads) == 0 {
		s.writeError(w, r, fmt.Errorf("%w: no files uploaded", errs.ErrInvalidInput))
		return
	}
	if r.FormValue("force_rebuild") == "true" {
		s.log.Info("force rebuild requested, resetting index")
		if err := s.tier.Reset(); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	docs := make([]domain.Document, 0, len(uploads))
	for _, fh := range uploads {
		path, err := s.saveUpload(fh)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		doc, err := extract.LoadFile(path)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		docs = append(docs, doc)
	}
	report, err := s.tier.Ingest(r.Context(), docs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.metrics.DocsIngestedTotal.Add(float64(report.Files))
	s.metrics.VectorsIndexed.Set(float64(s.tier.Stats().Vectors))
	writeJSON(w, http.StatusOK, ingestResponse{
		FilesProcessed: report.Files,
		ChunksAdded:    report.Chunks,
		Vectors:        report.Vectors,
		Message:        fmt.Sprintf("ingested %d file(s) into %s tier", report.Files, report.Tier),
	})
}

func (s *Server) saveUpload(fh *multipart.FileHeader) (string, error) {
	if err := os.MkdirAll(s.docsDir, 0o755); err != nil {
		return "", err
	}
	src, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()
	path := filepath.Join(s.docsDir, filepath.Base(fh.Filename))
	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return "", err
	}
	s.log.Info("saved upload", "path", path, "bytes", fh.Size)
	return path, nil
}

type queryRequest struct {
	Question        string `json:"question"`
	TopK            int    `json:"top_k,omitempty"`
	MaxOutputTokens int    `json:"max_output_tokens,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: decode request: %v", errs.ErrInvalidInput, err))
		return
	}
	if req.Question == "" {
		s.writeError(w, r, fmt.Errorf("%w: question is required", errs.ErrInvalidInput))
		return
	}
	answer, err := s.tier.Answer(r.Context(), req.Question, req.TopK, req.MaxOutputTokens)
	if err != nil {
		s.metrics.QueriesTotal.WithLabelValues("error").Inc()
		s.log.Error("query failed", "error", err)
		if errors.Is(err, errs.ErrRetrieval) {
			s.writeError(w, r, fmt.Errorf("%w: query failed", errs.ErrRetrieval))
		} else {
			s.writeError(w, r, fmt.Errorf("%w: query failed", errs.ErrExternal))
		}
		return
	}
	s.metrics.QueriesTotal.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, answer)
}

type healthResponse struct {
	Status string            `json:"status"`
	Stats  domain.IndexStats `json:"stats"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Stats: s.tier.Stats()})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.tier.Stats()
	s.metrics.VectorsIndexed.Set(float64(stats.Vectors))
	writeJSON(w, http.StatusOK, stats)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errs.HTTPStatusCode(err)
	s.log.Warn("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
