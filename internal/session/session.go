// Package session composes the corpus loader, annotation store, navigator
// and persistence codec into one operation per user action.
//
// Every action takes a State and returns a new State together with the views
// derived from it. The orchestrator itself keeps no per-session state.
package session

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"audio-annotator/internal/annotation"
	"audio-annotator/internal/corpus"
	"audio-annotator/internal/metadata"
	"audio-annotator/internal/models"
	"audio-annotator/internal/navigator"
	"audio-annotator/internal/persistence"
	"audio-annotator/internal/vocabulary"
)

const (
	statusNoFiles     = "No files found"
	statusNoFileSave  = "No file to save"
	statusNoFileClear = "No file selected"
	statusDeleted     = "Deleted annotation"
	statusExported    = "Exported CSV"

	noLabelsPreview = "(No labels selected)"
)

// Config is the explicit configuration of an Orchestrator.
type Config struct {
	OutputPath        string
	AllowedExtensions []string
	DefaultLabels     []string
}

// State is everything a session carries between actions.
type State struct {
	Directory string               `json:"directory"`
	Corpus    []models.CorpusEntry `json:"corpus"`
	Cursor    int                  `json:"cursor"`
	Slots     annotation.Slots     `json:"slots"`
}

// Empty reports whether no corpus is loaded.
func (s State) Empty() bool {
	return len(s.Corpus) == 0
}

// View is the set of projections shown after an action.
type View struct {
	Position     models.Position   `json:"position"`
	Status       string            `json:"status"`
	Progress     models.Progress   `json:"progress"`
	ProgressText string            `json:"progress_text"`
	Table        []models.TableRow `json:"table"`
	LabelPreview string            `json:"label_preview"`
	Notice       string            `json:"notice,omitempty"`
}

// Result pairs the state after an action with its views.
type Result struct {
	State State `json:"-"`
	View  View  `json:"view"`
}

// Orchestrator runs session actions against one persisted table.
type Orchestrator struct {
	cfg    Config
	codec  *persistence.Codec
	logger *zap.Logger
}

// New creates an Orchestrator writing to cfg.OutputPath.
func New(cfg Config, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(cfg.OutputPath) == "" {
		cfg.OutputPath = persistence.DefaultFilename
	}
	cfg.AllowedExtensions = append([]string(nil), cfg.AllowedExtensions...)
	cfg.DefaultLabels = append([]string(nil), cfg.DefaultLabels...)

	return &Orchestrator{
		cfg:    cfg,
		codec:  persistence.New(cfg.OutputPath, logger),
		logger: logger,
	}
}

// OutputPath returns the persisted table location.
func (o *Orchestrator) OutputPath() string {
	return o.codec.Path()
}

// AllowedExtensions returns the extensions a corpus entry may carry.
func (o *Orchestrator) AllowedExtensions() []string {
	return append([]string(nil), o.cfg.AllowedExtensions...)
}

// Vocabulary parses an uploaded label file, falling back to the configured
// defaults. A nil upload yields the defaults.
func (o *Orchestrator) Vocabulary(upload io.Reader) vocabulary.Vocabulary {
	v := vocabulary.FromReader(upload, o.cfg.DefaultLabels)
	if v.Err != nil {
		o.logger.Warn("label upload rejected", zap.Error(v.Err))
	}
	return v
}

// Load scans dir, merges any persisted annotations and places the cursor on
// the first entry. A missing directory or unreadable table is reported in
// the view's Notice, never as a failure.
func (o *Orchestrator) Load(dir string) Result {
	dir = strings.TrimSpace(dir)
	st := State{Directory: dir}

	entries, err := corpus.Load(dir, o.cfg.AllowedExtensions)
	if err != nil {
		notice := "Audio directory not found"
		if !errors.Is(err, corpus.ErrNotFound) {
			notice = fmt.Sprintf("Audio directory unreadable: %v", err)
		}
		o.logger.Warn("corpus load failed", zap.String("directory", dir), zap.Error(err))
		res := o.result(st, statusNoFiles)
		res.View.Notice = notice
		return res
	}
	if len(entries) == 0 {
		return o.result(st, statusNoFiles)
	}

	var notice string
	existing, err := o.codec.ReadExisting()
	if err != nil {
		o.logger.Warn("existing annotations ignored",
			zap.String("path", o.codec.Path()),
			zap.Error(err))
		notice = "Existing annotations could not be read and were ignored"
	}

	st.Corpus = entries
	st.Slots = annotation.Merge(entries, existing)
	st.Cursor = 0

	o.logger.Info("corpus loaded",
		zap.String("directory", dir),
		zap.Int("files", len(entries)),
		zap.Int("annotated", annotation.Progress(st.Slots).Annotated))

	res := o.result(st, "")
	res.View.Notice = notice
	return res
}

// Navigate moves the cursor one step in dir, saturating at either end.
func (o *Orchestrator) Navigate(st State, dir navigator.Direction) Result {
	st.Cursor = navigator.Move(st.Cursor, dir, len(st.Corpus))
	return o.result(st, "")
}

// Current returns the views for st without changing it.
func (o *Orchestrator) Current(st State) Result {
	return o.result(st, "")
}

// Save records labels for the entry at index and rewrites the table. An
// empty labels selection is still an annotation. When the write fails the
// new slots are kept and the error is returned with the result.
func (o *Orchestrator) Save(st State, index int, labels []string) (Result, error) {
	if st.Empty() {
		return o.result(st, statusNoFileSave), nil
	}

	st.Slots = annotation.Set(st.Corpus, st.Slots, index, labels)
	filename := st.Corpus[index].Filename()

	if err := o.codec.Write(st.Slots); err != nil {
		o.logger.Error("save annotation failed", zap.String("filename", filename), zap.Error(err))
		return o.result(st, fmt.Sprintf("Error saving: %v", err)), err
	}

	o.logger.Info("annotation saved", zap.String("filename", filename), zap.Strings("labels", labels))
	return o.result(st, "Saved: "+filename), nil
}

// Delete clears the slot at index and rewrites the table, even when the slot
// was already empty.
func (o *Orchestrator) Delete(st State, index int) (Result, error) {
	if st.Empty() {
		return o.result(st, statusNoFileClear), nil
	}

	st.Slots = annotation.Clear(st.Slots, index)

	if err := o.codec.Write(st.Slots); err != nil {
		o.logger.Error("delete annotation failed", zap.Int("index", index), zap.Error(err))
		return o.result(st, fmt.Sprintf("Error deleting: %v", err)), err
	}

	o.logger.Info("annotation deleted", zap.String("filename", st.Corpus[index].Filename()))
	return o.result(st, statusDeleted), nil
}

// Export rewrites the table from st and returns its path.
func (o *Orchestrator) Export(st State) (Result, string, error) {
	res, _, err := o.Download(st)
	if err != nil {
		return res, "", err
	}
	return res, o.codec.Path(), nil
}

// Download rewrites the table from st like Export and returns the bytes that
// were written, so the caller never sees rows from another writer.
func (o *Orchestrator) Download(st State) (Result, []byte, error) {
	data, err := o.codec.WriteSnapshot(st.Slots)
	if err != nil {
		o.logger.Error("export failed", zap.Error(err))
		return o.result(st, fmt.Sprintf("Error exporting: %v", err)), nil, err
	}
	return o.result(st, statusExported), data, nil
}

func (o *Orchestrator) result(st State, status string) Result {
	pos := navigator.Report(st.Corpus, st.Slots, st.Cursor)
	if !pos.Empty {
		if info, err := metadata.Describe(pos.Entry); err == nil {
			pos.Audio = &info
		} else {
			o.logger.Debug("audio metadata unavailable", zap.String("path", pos.Entry.Path), zap.Error(err))
		}
	}
	if status == "" {
		status = pos.Status
	}
	progress := annotation.Progress(st.Slots)

	return Result{
		State: st,
		View: View{
			Position:     pos,
			Status:       status,
			Progress:     progress,
			ProgressText: annotation.ProgressText(progress),
			Table:        annotation.Table(st.Slots),
			LabelPreview: LabelPreview(pos.Labels),
		},
	}
}

// LabelPreview renders a label selection for display.
func LabelPreview(labels []string) string {
	if len(labels) == 0 {
		return noLabelsPreview
	}
	return persistence.JoinLabels(labels)
}
