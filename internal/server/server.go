package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"audio-annotator/internal/corpus"
	"audio-annotator/internal/metadata"
	"audio-annotator/internal/metrics"
	"audio-annotator/internal/navigator"
	"audio-annotator/internal/persistence"
	"audio-annotator/internal/session"
	"audio-annotator/internal/vocabulary"
)

const maxBodyBytes = 1 << 20

// Annotator is the session orchestrator the HTTP handlers drive.
type Annotator interface {
	Load(dir string) session.Result
	Current(st session.State) session.Result
	Navigate(st session.State, dir navigator.Direction) session.Result
	Save(st session.State, index int, labels []string) (session.Result, error)
	Delete(st session.State, index int) (session.Result, error)
	Download(st session.State) (session.Result, []byte, error)
	Vocabulary(upload io.Reader) vocabulary.Vocabulary
	AllowedExtensions() []string
}

// VocabularyProvider supplies the labels offered for selection.
type VocabularyProvider interface {
	Current() vocabulary.Vocabulary
}

// Options configures the handler returned by New.
type Options struct {
	SessionTTL time.Duration
	Vocabulary VocabularyProvider
	Metrics    *metrics.Metrics
}

type sessionEntry struct {
	mu    sync.Mutex
	state session.State
}

type serverHandler struct {
	annotator Annotator
	vocab     VocabularyProvider
	metrics   *metrics.Metrics
	sessions  *cache.Cache
	logger    *zap.Logger
}

type loadRequest struct {
	Directory string `json:"directory"`
}

type navigateRequest struct {
	Direction int `json:"direction"`
}

type saveRequest struct {
	Labels []string `json:"labels"`
}

type sessionResponse struct {
	SessionID string       `json:"session_id"`
	View      session.View `json:"view"`
	Error     string       `json:"error,omitempty"`
}

// New creates the HTTP handler that exposes annotation sessions.
func New(annotator Annotator, opts Options, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := opts.SessionTTL
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}

	h := &serverHandler{
		annotator: annotator,
		vocab:     opts.Vocabulary,
		metrics:   opts.Metrics,
		sessions:  cache.New(ttl, ttl/2),
		logger:    logger,
	}
	if h.metrics != nil {
		h.sessions.OnEvicted(func(string, interface{}) {
			h.metrics.ActiveSessions.Dec()
		})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/api/labels", h.handleLabels)
	mux.HandleFunc("/api/sessions", h.handleCreateSession)
	mux.HandleFunc("/api/sessions/", h.handleSession)
	if h.metrics != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(h.metrics.Registry(), promhttp.HandlerOpts{}))
	}

	return logRequests(mux, logger)
}

func (h *serverHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, h.logger)
}

// handleLabels serves the active vocabulary on GET and normalizes an
// uploaded label file on POST without storing it.
func (h *serverHandler) handleLabels(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		var v vocabulary.Vocabulary
		if h.vocab != nil {
			v = h.vocab.Current()
		} else {
			v = h.annotator.Vocabulary(nil)
		}
		writeJSON(w, http.StatusOK, vocabularyResponse(v), h.logger)
	case http.MethodPost:
		v := h.annotator.Vocabulary(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		writeJSON(w, http.StatusOK, vocabularyResponse(v), h.logger)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *serverHandler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loadRequest
	if !decodeBody(w, r, &req) {
		return
	}

	start := time.Now()
	res := h.annotator.Load(req.Directory)
	h.metrics.Observe("load", nil, time.Since(start))

	id := uuid.NewString()
	h.sessions.SetDefault(id, &sessionEntry{state: res.State})
	if h.metrics != nil {
		h.metrics.ActiveSessions.Inc()
	}

	writeJSON(w, http.StatusCreated, sessionResponse{SessionID: id, View: res.View}, h.logger)
}

func (h *serverHandler) handleSession(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/sessions/"), "/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	value, ok := h.sessions.Get(id)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	entry := value.(*sessionEntry)

	entry.mu.Lock()
	defer entry.mu.Unlock()
	h.sessions.SetDefault(id, entry)

	switch action {
	case "":
		h.handleCurrent(w, r, id, entry)
	case "navigate":
		h.handleNavigate(w, r, id, entry)
	case "annotation":
		h.handleAnnotation(w, r, id, entry)
	case "export":
		h.handleExport(w, r, id, entry)
	case "audio":
		h.handleAudio(w, r, entry)
	case "metadata":
		h.handleMetadata(w, r, entry)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *serverHandler) handleCurrent(w http.ResponseWriter, r *http.Request, id string, entry *sessionEntry) {
	switch r.Method {
	case http.MethodGet:
		res := h.annotator.Current(entry.state)
		writeJSON(w, http.StatusOK, sessionResponse{SessionID: id, View: res.View}, h.logger)
	case http.MethodDelete:
		h.sessions.Delete(id)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *serverHandler) handleNavigate(w http.ResponseWriter, r *http.Request, id string, entry *sessionEntry) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req navigateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Direction < -1 || req.Direction > 1 {
		http.Error(w, "direction must be -1, 0 or 1", http.StatusBadRequest)
		return
	}

	start := time.Now()
	res := h.annotator.Navigate(entry.state, navigator.Direction(req.Direction))
	h.metrics.Observe("navigate", nil, time.Since(start))

	entry.state = res.State
	writeJSON(w, http.StatusOK, sessionResponse{SessionID: id, View: res.View}, h.logger)
}

// handleAnnotation saves (PUT) or deletes (DELETE) the annotation at the
// session cursor.
func (h *serverHandler) handleAnnotation(w http.ResponseWriter, r *http.Request, id string, entry *sessionEntry) {
	var (
		res    session.Result
		err    error
		action string
	)

	start := time.Now()
	switch r.Method {
	case http.MethodPut, http.MethodPost:
		var req saveRequest
		if !decodeBody(w, r, &req) {
			return
		}
		action = "save"
		res, err = h.annotator.Save(entry.state, entry.state.Cursor, req.Labels)
	case http.MethodDelete:
		action = "delete"
		res, err = h.annotator.Delete(entry.state, entry.state.Cursor)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	h.metrics.Observe(action, err, time.Since(start))

	entry.state = res.State

	resp := sessionResponse{SessionID: id, View: res.View}
	status := http.StatusOK
	if err != nil {
		resp.Error = err.Error()
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, resp, h.logger)
}

func (h *serverHandler) handleExport(w http.ResponseWriter, r *http.Request, id string, entry *sessionEntry) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	start := time.Now()
	res, data, err := h.annotator.Download(entry.state)
	h.metrics.Observe("export", err, time.Since(start))

	entry.state = res.State
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, sessionResponse{SessionID: id, View: res.View, Error: err.Error()}, h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", persistence.DefaultFilename))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.Warn("failed to write export", zap.Error(err))
	}
}

// handleAudio streams the file under the cursor for playback. Only files
// with an allowed audio extension are served.
func (h *serverHandler) handleAudio(w http.ResponseWriter, r *http.Request, entry *sessionEntry) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if entry.state.Empty() {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	path := entry.state.Corpus[entry.state.Cursor].Path
	if !corpus.IsAllowed(path, h.annotator.AllowedExtensions()) {
		h.logger.Warn("refusing to serve non-audio file", zap.String("path", path))
		w.WriteHeader(http.StatusNotFound)
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.logger.Error("failed to stat audio file", zap.String("path", path), zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if info.IsDir() {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	http.ServeFile(w, r, path)
}

func (h *serverHandler) handleMetadata(w http.ResponseWriter, r *http.Request, entry *sessionEntry) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if entry.state.Empty() {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	info, err := metadata.Describe(entry.state.Corpus[entry.state.Cursor])
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, metadata.ErrNotAFile) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.logger.Error("failed to read audio metadata", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, info, h.logger)
}

func vocabularyResponse(v vocabulary.Vocabulary) map[string]any {
	resp := map[string]any{
		"labels": v.Labels,
		"source": v.Source,
	}
	if v.Err != nil {
		resp["error"] = v.Err.Error()
	}
	return resp
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Warn("failed to encode response", zap.Error(err))
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.size += n
	return n, err
}

func logRequests(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)
		logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Int("bytes", sw.size),
			zap.Duration("duration", time.Since(start)))
	})
}
