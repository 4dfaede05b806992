package models

import "path/filepath"

// CorpusEntry is a single audio file discovered in the corpus directory.
type CorpusEntry struct {
	Path string `json:"path"`
}

// Filename returns the base name used as the join key against persisted rows.
func (e CorpusEntry) Filename() string {
	return filepath.Base(e.Path)
}

// AnnotationRecord is the classification assigned to one corpus entry.
// Labels keep selection order and may be empty.
type AnnotationRecord struct {
	Filename string   `json:"filename"`
	Labels   []string `json:"labels"`
}

// TableRow is one row of the annotation table as rendered and persisted.
type TableRow struct {
	Filename string   `json:"filename"`
	Labels   []string `json:"labels"`
}

// Progress summarises how much of the corpus has been annotated.
type Progress struct {
	Annotated int     `json:"annotated"`
	Total     int     `json:"total"`
	Fraction  float64 `json:"fraction"`
}

// Position describes the entry under the cursor. Audio is attached when the
// entry's file could be described.
type Position struct {
	Empty    bool        `json:"empty"`
	Index    int         `json:"index"`
	Entry    CorpusEntry `json:"entry"`
	Filename string      `json:"filename"`
	Status   string      `json:"status"`
	Labels   []string    `json:"labels"`
	Audio    *AudioInfo  `json:"audio,omitempty"`
}

// AudioInfo represents the tag metadata exposed for the file under the cursor.
type AudioInfo struct {
	Filename        string   `json:"filename"`
	Title           string   `json:"title"`
	Artist          *string  `json:"artist,omitempty"`
	Album           *string  `json:"album,omitempty"`
	Format          string   `json:"format"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
	FilesizeBytes   int64    `json:"filesize_bytes"`
}
