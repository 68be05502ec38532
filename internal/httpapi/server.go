// Package httpapi is the thin HTTP wrapper over the analysis core: upload,
// retrieval, analysis runs, reports, and dashboard stats. Routing and request
// validation live here; behavior belongs to the packages underneath.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clauselens/clauselens/internal/analysis"
	"github.com/clauselens/clauselens/internal/contract"
	"github.com/clauselens/clauselens/internal/report"
)

const maxUploadBytes = 32 << 20

type Analyzer interface {
	Analyze(ctx context.Context, id string) (*contract.Record, error)
	AnalyzeBacklog(ctx context.Context, concurrency int) (analysis.BacklogSummary, error)
}

type RecordStore interface {
	Create(ctx context.Context, rec *contract.Record) error
	GetByID(ctx context.Context, id string) (*contract.Record, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, limit int) ([]contract.Record, error)
}

type TextExtractor interface {
	ExtractText(path string, kind contract.FileKind) (string, error)
}

type PDFRenderer interface {
	Render(ctx context.Context, markdown string) ([]byte, error)
}

type Config struct {
	Store     RecordStore
	Stats     analysis.StatsStore
	Analyzer  Analyzer
	Extractor TextExtractor
	PDF       PDFRenderer
	DataDir   string
}

type Server struct {
	store     RecordStore
	stats     analysis.StatsStore
	analyzer  Analyzer
	extractor TextExtractor
	pdf       PDFRenderer
	dataDir   string
	now       func() time.Time
}

func NewServer(cfg Config) http.Handler {
	s := &Server{
		store:     cfg.Store,
		stats:     cfg.Stats,
		analyzer:  cfg.Analyzer,
		extractor: cfg.Extractor,
		pdf:       cfg.PDF,
		dataDir:   cfg.DataDir,
		now:       time.Now,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/contracts", s.handleContracts)
	mux.HandleFunc("/v1/contracts/", s.handleContractByID)
	mux.HandleFunc("/v1/analyze/backlog", s.handleAnalyzeBacklog)
	mux.HandleFunc("/v1/dashboard/stats", s.handleDashboardStats)
	mux.HandleFunc("/v1/health", s.handleHealth)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	var ce *contract.Error
	if errors.As(err, &ce) {
		writeJSON(w, ce.Status, map[string]any{
			"ok": false,
			"error": map[string]any{
				"code":    ce.Code,
				"message": ce.Message,
			},
		})
		return
	}
	writeJSON(w, 500, map[string]any{
		"ok": false,
		"error": map[string]any{
			"code":    contract.CodeInternal,
			"message": err.Error(),
		},
	})
}

func methodOnly(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func parseInt(value string, def int) int {
	if strings.TrimSpace(value) == "" {
		return def
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return v
}

func (s *Server) handleContracts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleUpload(w, r)
	case http.MethodGet:
		limit := parseInt(r.URL.Query().Get("limit"), 100)
		records, err := s.store.List(r.Context(), limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, 200, map[string]any{"contracts": records})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, contract.NewError(contract.CodeValidation, "invalid multipart form: %v", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, contract.NewError(contract.CodeValidation, "file field is required"))
		return
	}
	defer file.Close()

	kind, ok := contract.KindForFilename(header.Filename)
	if !ok {
		writeError(w, contract.NewError(contract.CodeValidation, "unsupported file type %q", header.Filename))
		return
	}

	title := strings.TrimSpace(r.FormValue("title"))
	if title == "" {
		title = strings.TrimSuffix(header.Filename, filepath.Ext(header.Filename))
	}

	storagePath := filepath.Join(s.dataDir, uuid.NewString()+strings.ToLower(filepath.Ext(header.Filename)))
	if err := saveUpload(storagePath, file); err != nil {
		writeError(w, err)
		return
	}

	// Extraction failure is a hard error: no record without text.
	text, err := s.extractor.ExtractText(storagePath, kind)
	if err != nil {
		if rmErr := os.Remove(storagePath); rmErr != nil {
			log.Printf("upload cleanup path=%s failed: %v", storagePath, rmErr)
		}
		writeError(w, err)
		return
	}

	rec := &contract.Record{
		Title:            title,
		OriginalFilename: header.Filename,
		StoragePath:      storagePath,
		FileKind:         kind,
		Text:             text,
		Status:           contract.StatusPending,
	}
	rec.EnsureDefaults()
	if err := s.store.Create(r.Context(), rec); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, 201, map[string]any{"ok": true, "contract": rec})
}

func saveUpload(path string, src io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	defer dst.Close()
	_, err = io.Copy(dst, src)
	return err
}

func (s *Server) handleContractByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/contracts/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch action {
	case "":
		switch r.Method {
		case http.MethodGet:
			s.handleGet(w, r, id)
		case http.MethodDelete:
			s.handleDelete(w, r, id)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case "analyze":
		if !methodOnly(w, r, http.MethodPost) {
			return
		}
		s.handleAnalyze(w, r, id)
	case "report":
		if !methodOnly(w, r, http.MethodGet) {
			return
		}
		s.handleReport(w, r, id)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	rec, err := s.store.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, 200, map[string]any{"contract": rec})
}

// handleDelete removes the record and its backing file. A file-removal
// failure does not block record deletion, but it is reported.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, id string) {
	rec, err := s.store.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	fileRemoved := true
	if rec.StoragePath != "" {
		if err := os.Remove(rec.StoragePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			fileRemoved = false
			log.Printf("delete contract=%s file removal failed: %v", id, err)
		}
	}
	writeJSON(w, 200, map[string]any{"ok": true, "file_removed": fileRemoved})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request, id string) {
	rec, err := s.analyzer.Analyze(r.Context(), id)
	if err != nil {
		// A failed run still returns the best-effort record so the caller
		// can inspect last_error and any partial results.
		status := 500
		code := contract.CodeInternal
		var ce *contract.Error
		if errors.As(err, &ce) {
			status = ce.Status
			code = ce.Code
		}
		payload := map[string]any{
			"ok": false,
			"error": map[string]any{
				"code":    code,
				"message": err.Error(),
			},
		}
		if rec != nil {
			payload["contract"] = rec
		}
		writeJSON(w, status, payload)
		return
	}
	writeJSON(w, 200, map[string]any{"ok": true, "contract": rec})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request, id string) {
	rec, err := s.store.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	markdown := report.BuildMarkdown(rec)

	switch strings.ToLower(r.URL.Query().Get("format")) {
	case "", "markdown", "md":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		_, _ = io.WriteString(w, markdown)
	case "html":
		html, err := report.RenderHTML(markdown)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, html)
	case "pdf":
		if s.pdf == nil {
			writeError(w, contract.NewError(contract.CodeCapabilityUnavailable, "pdf rendering not configured"))
			return
		}
		blob, err := s.pdf.Render(r.Context(), markdown)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "contract-report-"+id+".pdf"))
		_, _ = w.Write(blob)
	default:
		writeError(w, contract.NewError(contract.CodeValidation, "unsupported report format %q", r.URL.Query().Get("format")))
	}
}

func (s *Server) handleAnalyzeBacklog(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	concurrency := parseInt(r.URL.Query().Get("concurrency"), 2)
	summary, err := s.analyzer.AnalyzeBacklog(r.Context(), concurrency)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, 200, map[string]any{"ok": true, "summary": summary})
}

func (s *Server) handleDashboardStats(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	stats, err := analysis.ComputeDashboardStats(r.Context(), s.stats, s.now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, 200, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, 200, map[string]any{"ok": true, "service": "clauselens"})
}
