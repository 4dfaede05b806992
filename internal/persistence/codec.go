// Package persistence owns the on-disk annotation table. It is the only
// writer of that file.
package persistence

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"audio-annotator/internal/annotation"
	"audio-annotator/internal/models"
)

// DefaultFilename is the name the table is persisted and downloaded under.
const DefaultFilename = "annotations.csv"

// LabelSeparator joins labels inside the single labels column. A label that
// itself contains a comma does not survive a round trip.
const LabelSeparator = ", "

const (
	columnFilename = "filename"
	columnLabels   = "labels"
)

// ErrMalformedTable tags a persisted table that exists but could not be
// parsed. ReadExisting still returns an empty mapping alongside it.
var ErrMalformedTable = errors.New("malformed annotation table")

// Codec reads and rewrites the annotation table at a fixed path.
type Codec struct {
	path   string
	logger *zap.Logger

	mu   sync.Mutex
	lock *flock.Flock
}

// New creates a Codec for the table at path. Writers across processes are
// serialised through an advisory lock file next to the table.
func New(path string, logger *zap.Logger) *Codec {
	if logger == nil {
		logger = zap.NewNop()
	}
	clean := filepath.Clean(path)
	return &Codec{
		path:   clean,
		lock:   flock.New(clean + ".lock"),
		logger: logger,
	}
}

// Path returns the location of the persisted table.
func (c *Codec) Path() string {
	return c.path
}

// Write replaces the table with one row per non-empty slot, in slot order.
func (c *Codec) Write(slots annotation.Slots) error {
	_, err := c.WriteSnapshot(slots)
	return err
}

// WriteSnapshot replaces the table like Write and returns the bytes that
// were written. Both happen under the same lock, so the bytes are the table
// as persisted even when other writers share the file.
func (c *Codec) WriteSnapshot(slots annotation.Slots) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, annotation.Table(slots)); err != nil {
		return nil, fmt.Errorf("encode annotation table: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.lock.Lock(); err != nil {
		return nil, fmt.Errorf("lock annotation table: %w", err)
	}
	defer func() {
		if err := c.lock.Unlock(); err != nil {
			c.logger.Warn("unlock annotation table", zap.String("path", c.path), zap.Error(err))
		}
	}()

	if err := writeFileAtomic(c.path, buf.Bytes(), 0o644); err != nil {
		return nil, err
	}

	c.logger.Debug("annotation table written",
		zap.String("path", c.path),
		zap.Int("bytes", buf.Len()))
	return buf.Bytes(), nil
}

// ReadExisting parses the persisted table into a filename-keyed mapping.
// A missing table yields an empty mapping and no error. An unreadable or
// malformed table yields an empty mapping and an error wrapping
// ErrMalformedTable.
func (c *Codec) ReadExisting() (map[string]models.AnnotationRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.lock.RLock(); err != nil {
		c.logger.Warn("shared lock on annotation table failed; reading anyway", zap.Error(err))
	} else {
		defer c.lock.Unlock()
	}

	f, err := os.Open(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]models.AnnotationRecord{}, nil
		}
		return map[string]models.AnnotationRecord{}, fmt.Errorf("%w: %v", ErrMalformedTable, err)
	}
	defer f.Close()

	existing, err := Decode(f)
	if err != nil {
		return map[string]models.AnnotationRecord{}, err
	}
	return existing, nil
}

// Encode writes the header and rows in the persisted table format.
func Encode(w io.Writer, rows []models.TableRow) error {
	cw := csv.NewWriter(w)
	cw.UseCRLF = true

	if err := cw.Write([]string{columnFilename, columnLabels}); err != nil {
		return err
	}
	for _, row := range rows {
		if err := cw.Write([]string{row.Filename, JoinLabels(row.Labels)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Decode parses a persisted table. Columns are located by header name so
// extra columns are tolerated. Later rows win for repeated filenames.
//
// Hand-edited tables are read leniently: ragged rows and bare quotes are
// accepted, a row too short to reach the labels column has no labels, and
// a row without a filename is skipped. Only a header lacking the filename
// or labels column is malformed.
func Decode(r io.Reader) (map[string]models.AnnotationRecord, error) {
	existing := make(map[string]models.AnnotationRecord)

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return existing, nil
		}
		return map[string]models.AnnotationRecord{}, fmt.Errorf("%w: header: %v", ErrMalformedTable, err)
	}

	filenameCol, labelsCol := -1, -1
	for i, name := range header {
		switch strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")) {
		case columnFilename:
			filenameCol = i
		case columnLabels:
			labelsCol = i
		}
	}
	if filenameCol < 0 || labelsCol < 0 {
		return map[string]models.AnnotationRecord{}, fmt.Errorf("%w: header %q lacks %s/%s columns", ErrMalformedTable, header, columnFilename, columnLabels)
	}

	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return map[string]models.AnnotationRecord{}, fmt.Errorf("%w: %v", ErrMalformedTable, err)
		}

		if filenameCol >= len(record) || record[filenameCol] == "" {
			continue
		}
		filename := record[filenameCol]
		var value string
		if labelsCol < len(record) {
			value = record[labelsCol]
		}
		existing[filename] = models.AnnotationRecord{
			Filename: filename,
			Labels:   SplitLabels(value),
		}
	}

	return existing, nil
}

// JoinLabels renders labels as the single labels column value.
func JoinLabels(labels []string) string {
	return strings.Join(labels, LabelSeparator)
}

// SplitLabels parses a labels column value. Surrounding whitespace is
// trimmed and empty parts are dropped, so "" yields an empty list.
func SplitLabels(value string) []string {
	labels := []string{}
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			labels = append(labels, part)
		}
	}
	return labels
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".annotations-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
