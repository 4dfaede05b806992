package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"audio-annotator/internal/metrics"
	"audio-annotator/internal/models"
	"audio-annotator/internal/session"
	"audio-annotator/internal/vocabulary"
)

type fakeVocabulary struct {
	v vocabulary.Vocabulary
}

func (f fakeVocabulary) Current() vocabulary.Vocabulary {
	return f.v
}

// stubAnnotator overrides selected orchestrator actions.
type stubAnnotator struct {
	*session.Orchestrator
	loaded   *session.State
	download []byte
}

func (s stubAnnotator) Load(dir string) session.Result {
	if s.loaded == nil {
		return s.Orchestrator.Load(dir)
	}
	return s.Orchestrator.Current(*s.loaded)
}

func (s stubAnnotator) Download(st session.State) (session.Result, []byte, error) {
	if s.download == nil {
		return s.Orchestrator.Download(st)
	}
	return s.Orchestrator.Current(st), s.download, nil
}

func newStubHandler(t *testing.T, stub stubAnnotator) http.Handler {
	t.Helper()
	stub.Orchestrator = session.New(session.Config{
		OutputPath:        filepath.Join(t.TempDir(), "annotations.csv"),
		AllowedExtensions: []string{".wav"},
	}, zap.NewNop())
	return New(stub, Options{}, zap.NewNop())
}

func serve(handler http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

type testEnv struct {
	handler  http.Handler
	audioDir string
	output   string
	metrics  *metrics.Metrics
}

func newTestEnv(t *testing.T, files ...string) testEnv {
	t.Helper()
	audioDir := t.TempDir()
	for _, name := range files {
		require.NoError(t, os.WriteFile(filepath.Join(audioDir, name), []byte("audio-"+name), 0o644))
	}
	output := filepath.Join(t.TempDir(), "annotations.csv")
	orch := session.New(session.Config{
		OutputPath:        output,
		AllowedExtensions: []string{".wav", ".mp3"},
		DefaultLabels:     []string{"Sad", "Happy"},
	}, zap.NewNop())

	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)

	handler := New(orch, Options{SessionTTL: time.Minute, Metrics: m}, zap.NewNop())
	return testEnv{handler: handler, audioDir: audioDir, output: output, metrics: m}
}

func (e testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeSession(t *testing.T, rec *httptest.ResponseRecorder) sessionResponse {
	t.Helper()
	var resp sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func (e testEnv) createSession(t *testing.T) sessionResponse {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/sessions", loadRequest{Directory: e.audioDir})
	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decodeSession(t, rec)
	require.NotEmpty(t, resp.SessionID)
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])

	assert.Equal(t, http.StatusMethodNotAllowed, env.do(t, http.MethodPost, "/health", nil).Code)
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t, "b.wav", "a.wav", "notes.txt")

	created := env.createSession(t)
	assert.Equal(t, "File 1 / 2", created.View.Status)
	assert.Equal(t, "a.wav", created.View.Position.Filename)
	assert.Equal(t, "Progress: 0/2 (0.0%)", created.View.ProgressText)
	require.NotNil(t, created.View.Position.Audio)
	assert.Equal(t, "WAV", created.View.Position.Audio.Format)
	assert.Equal(t, int64(len("audio-a.wav")), created.View.Position.Audio.FilesizeBytes)
	base := "/api/sessions/" + created.SessionID

	rec := env.do(t, http.MethodPut, base+"/annotation", saveRequest{Labels: []string{"Happy", "Calm"}})
	require.Equal(t, http.StatusOK, rec.Code)
	saved := decodeSession(t, rec)
	assert.Equal(t, "Saved: a.wav", saved.View.Status)
	assert.Equal(t, []models.TableRow{{Filename: "a.wav", Labels: []string{"Happy", "Calm"}}}, saved.View.Table)

	rec = env.do(t, http.MethodPost, base+"/navigate", navigateRequest{Direction: 1})
	require.Equal(t, http.StatusOK, rec.Code)
	moved := decodeSession(t, rec)
	assert.Equal(t, "File 2 / 2", moved.View.Status)
	assert.Equal(t, []string{}, moved.View.Position.Labels)

	rec = env.do(t, http.MethodPost, base+"/navigate", navigateRequest{Direction: 1})
	assert.Equal(t, "File 2 / 2", decodeSession(t, rec).View.Status)

	rec = env.do(t, http.MethodPost, base+"/navigate", navigateRequest{Direction: -1})
	back := decodeSession(t, rec)
	assert.Equal(t, []string{"Happy", "Calm"}, back.View.Position.Labels)
	assert.Equal(t, "Happy, Calm", back.View.LabelPreview)

	rec = env.do(t, http.MethodDelete, base+"/annotation", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	deleted := decodeSession(t, rec)
	assert.Equal(t, "Deleted annotation", deleted.View.Status)
	assert.Empty(t, deleted.View.Table)

	rec = env.do(t, http.MethodPost, base+"/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "filename,labels\r\n", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "annotations.csv")

	rec = env.do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "a.wav", decodeSession(t, rec).View.Position.Filename)

	rec = env.do(t, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, base, nil).Code)
}

func TestCreateSessionEmptyDirectory(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/sessions", loadRequest{Directory: filepath.Join(env.audioDir, "missing")})
	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decodeSession(t, rec)
	assert.True(t, resp.View.Position.Empty)
	assert.Equal(t, "No files found", resp.View.Status)
	assert.NotEmpty(t, resp.View.Notice)

	base := "/api/sessions/" + resp.SessionID
	rec = env.do(t, http.MethodPut, base+"/annotation", saveRequest{Labels: []string{"Sad"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "No file to save", decodeSession(t, rec).View.Status)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, base+"/audio", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, base+"/metadata", nil).Code)
}

func TestSaveWriteFailureReturnsConsistentView(t *testing.T) {
	env := newTestEnv(t, "a.wav")
	created := env.createSession(t)
	require.NoError(t, os.MkdirAll(env.output, 0o755), "a directory in place of the table makes writes fail")

	rec := env.do(t, http.MethodPut, "/api/sessions/"+created.SessionID+"/annotation", saveRequest{Labels: []string{"Sad"}})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeSession(t, rec)
	assert.NotEmpty(t, resp.Error)
	assert.True(t, strings.HasPrefix(resp.View.Status, "Error saving"))
	assert.Len(t, resp.View.Table, 1, "in-memory annotation is kept")
}

func TestNavigateRejectsBadInput(t *testing.T) {
	env := newTestEnv(t, "a.wav")
	base := "/api/sessions/" + env.createSession(t).SessionID

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, base+"/navigate", navigateRequest{Direction: 5}).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, base+"/navigate", "{not json").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, env.do(t, http.MethodGet, base+"/navigate", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, base+"/unknown", nil).Code)
}

func TestUnknownSession(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/sessions/does-not-exist", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/sessions/", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, env.do(t, http.MethodGet, "/api/sessions", nil).Code)
}

func TestAudioEndpointServesCurrentFile(t *testing.T) {
	env := newTestEnv(t, "a.wav", "b.wav")
	base := "/api/sessions/" + env.createSession(t).SessionID

	rec := env.do(t, http.MethodGet, base+"/audio", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio-a.wav", rec.Body.String())

	env.do(t, http.MethodPost, base+"/navigate", navigateRequest{Direction: 1})
	rec = env.do(t, http.MethodGet, base+"/audio", nil)
	assert.Equal(t, "audio-b.wav", rec.Body.String())

	require.NoError(t, os.Remove(filepath.Join(env.audioDir, "b.wav")))
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, base+"/audio", nil).Code)
}

func TestAudioEndpointRefusesNonAudioEntries(t *testing.T) {
	dir := t.TempDir()
	secret := filepath.Join(dir, "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("do not serve"), 0o644))

	handler := newStubHandler(t, stubAnnotator{loaded: &session.State{
		Directory: dir,
		Corpus:    []models.CorpusEntry{{Path: secret}},
		Slots:     make([]*models.AnnotationRecord, 1),
	}})

	rec := serve(handler, http.MethodPost, "/api/sessions")
	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decodeSession(t, rec)

	rec = serve(handler, http.MethodGet, "/api/sessions/"+resp.SessionID+"/audio")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotContains(t, rec.Body.String(), "do not serve")
}

func TestExportServesDownloadedBytes(t *testing.T) {
	handler := newStubHandler(t, stubAnnotator{download: []byte("filename,labels\r\nz.wav,Calm\r\n")})

	resp := decodeSession(t, serve(handler, http.MethodPost, "/api/sessions"))
	rec := serve(handler, http.MethodGet, "/api/sessions/"+resp.SessionID+"/export")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "filename,labels\r\nz.wav,Calm\r\n", rec.Body.String())
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
}

func TestExportAfterOtherSessionWritesOwnRows(t *testing.T) {
	env := newTestEnv(t, "a.wav", "b.wav")
	first := "/api/sessions/" + env.createSession(t).SessionID
	second := "/api/sessions/" + env.createSession(t).SessionID

	env.do(t, http.MethodPut, first+"/annotation", saveRequest{Labels: []string{"Sad"}})
	env.do(t, http.MethodPut, second+"/annotation", saveRequest{Labels: []string{"Happy"}})

	rec := env.do(t, http.MethodPost, first+"/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "filename,labels\r\na.wav,Sad\r\n", rec.Body.String())

	data, err := os.ReadFile(env.output)
	require.NoError(t, err)
	assert.Equal(t, rec.Body.String(), string(data))
}

func TestMetadataEndpoint(t *testing.T) {
	env := newTestEnv(t, "first take.wav")
	base := "/api/sessions/" + env.createSession(t).SessionID

	rec := env.do(t, http.MethodGet, base+"/metadata", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var info models.AudioInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "first take", info.Title)
	assert.Equal(t, "first take.wav", info.Filename)
}

func TestLabelsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/labels", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Labels []string `json:"labels"`
		Source string   `json:"source"`
		Error  string   `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"Sad", "Happy"}, body.Labels)
	assert.Equal(t, "default", body.Source)

	rec = env.do(t, http.MethodPost, "/api/labels", "dog bark\n\n  rain \n")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"Dog Bark", "Rain"}, body.Labels)
	assert.Equal(t, "file", body.Source)

	body.Error = ""
	rec = env.do(t, http.MethodPost, "/api/labels", "\n \n")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"Sad", "Happy"}, body.Labels)
	assert.Equal(t, "fallback", body.Source)
	assert.NotEmpty(t, body.Error)

	assert.Equal(t, http.StatusMethodNotAllowed, env.do(t, http.MethodDelete, "/api/labels", nil).Code)
}

func TestLabelsEndpointUsesProvider(t *testing.T) {
	orch := session.New(session.Config{OutputPath: filepath.Join(t.TempDir(), "a.csv")}, zap.NewNop())
	provider := fakeVocabulary{v: vocabulary.Vocabulary{Labels: []string{"Bird"}, Source: vocabulary.SourceFile}}
	handler := New(orch, Options{Vocabulary: provider}, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/labels", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Bird")

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code, "metrics are only mounted when configured")
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, "a.wav")
	base := "/api/sessions/" + env.createSession(t).SessionID
	env.do(t, http.MethodPut, base+"/annotation", saveRequest{Labels: []string{"Sad"}})

	rec := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `annotator_actions_total{action="save",outcome="ok"} 1`)
	assert.Contains(t, body, "annotator_active_sessions 1")
}
