// Package metadata describes the audio file under the cursor for playback
// and display. Nothing here affects annotation state.
package metadata

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"
	"github.com/tcolgate/mp3"

	"audio-annotator/internal/models"
)

// ErrNotAFile is returned when a corpus entry no longer points at a regular file.
var ErrNotAFile = errors.New("metadata: corpus entry is not a regular file")

type tags struct {
	title  string
	artist *string
	album  *string
	format string
}

// Describe reads tag metadata for a corpus entry. Files without readable
// tags fall back to the file stem as title and the extension as format;
// duration is only computed for mp3.
func Describe(entry models.CorpusEntry) (models.AudioInfo, error) {
	info, err := os.Stat(entry.Path)
	if err != nil {
		return models.AudioInfo{}, err
	}
	if !info.Mode().IsRegular() {
		return models.AudioInfo{}, ErrNotAFile
	}

	filename := entry.Filename()
	ext := filepath.Ext(filename)

	t := readTags(entry.Path)
	if t.title == "" {
		t.title = strings.TrimSuffix(filename, ext)
	}
	if t.format == "" {
		t.format = strings.ToUpper(strings.TrimPrefix(ext, "."))
	}

	var durationPtr *float64
	if strings.EqualFold(ext, ".mp3") {
		if dur, err := computeMP3Duration(entry.Path); err == nil && dur > 0 {
			durationPtr = &dur
		}
	}

	return models.AudioInfo{
		Filename:        filename,
		Title:           t.title,
		Artist:          t.artist,
		Album:           t.album,
		Format:          t.format,
		DurationSeconds: durationPtr,
		FilesizeBytes:   info.Size(),
	}, nil
}

func readTags(path string) tags {
	f, err := os.Open(path)
	if err != nil {
		return tags{}
	}
	defer f.Close()

	meta, err := tag.ReadFrom(f)
	if err != nil {
		return tags{}
	}

	return tags{
		title:  strings.TrimSpace(meta.Title()),
		artist: optionalString(meta.Artist()),
		album:  optionalString(meta.Album()),
		format: string(meta.FileType()),
	}
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func computeMP3Duration(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	decoder := mp3.NewDecoder(f)
	var frame mp3.Frame
	var skipped int
	var total float64

	for {
		if err := decoder.Decode(&frame, &skipped); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return 0, err
		}
		total += frame.Duration().Seconds()
	}

	return total, nil
}
