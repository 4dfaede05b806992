// Package vocabulary loads the set of labels offered for selection.
//
// A vocabulary is configuration only. Records may carry labels that are not
// in the current vocabulary.
package vocabulary

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DefaultLabels is the built-in vocabulary.
var DefaultLabels = []string{"Angry", "Sad", "Happy", "Neutral", "Excited", "Calm"}

var (
	// ErrMalformedLabels tags a label file that could not be read or decoded.
	ErrMalformedLabels = errors.New("malformed label file")
	// ErrNoLabels tags a label file without any non-blank line.
	ErrNoLabels = errors.New("label file contains no labels")
)

// Source records where a vocabulary came from.
type Source string

const (
	SourceDefault  Source = "default"
	SourceFile     Source = "file"
	SourceFallback Source = "fallback"
)

// Vocabulary is an ordered list of selectable labels. Err is set when
// Source is SourceFallback.
type Vocabulary struct {
	Labels []string `json:"labels"`
	Source Source   `json:"source"`
	Err    error    `json:"-"`
}

// Default returns the given defaults, or DefaultLabels when defaults is empty.
func Default(defaults []string) Vocabulary {
	if len(defaults) == 0 {
		defaults = DefaultLabels
	}
	labels := make([]string, len(defaults))
	copy(labels, defaults)
	return Vocabulary{Labels: labels, Source: SourceDefault}
}

// Normalize trims label and converts it to title case. Every run of letters
// is cased on its own, so a letter after a digit or punctuation starts a new
// word: "sad2happy" becomes "Sad2Happy".
func Normalize(label string) string {
	label = strings.TrimSpace(label)
	caser := cases.Title(language.Und)

	var b strings.Builder
	b.Grow(len(label))
	start := -1
	for i, r := range label {
		if unicode.IsLetter(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			b.WriteString(caser.String(label[start:i]))
			start = -1
		}
		b.WriteRune(r)
	}
	if start >= 0 {
		b.WriteString(caser.String(label[start:]))
	}
	return b.String()
}

// Parse reads one label per line. Blank lines are ignored and every label is
// normalized.
func Parse(r io.Reader) ([]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedLabels, err)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: not valid UTF-8", ErrMalformedLabels)
	}

	var labels []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			labels = append(labels, Normalize(line))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedLabels, err)
	}
	if len(labels) == 0 {
		return nil, ErrNoLabels
	}
	return labels, nil
}

// Load reads the label file at path. An empty path yields the defaults with
// SourceDefault; a file that cannot be used yields the defaults with
// SourceFallback and the reason in Err.
func Load(path string, defaults []string) Vocabulary {
	path = strings.TrimSpace(path)
	if path == "" {
		return Default(defaults)
	}

	f, err := os.Open(path)
	if err != nil {
		return fallback(defaults, fmt.Errorf("%w: %v", ErrMalformedLabels, err))
	}
	defer f.Close()

	return FromReader(f, defaults)
}

// FromReader parses an uploaded label file. A nil reader yields the defaults
// with SourceDefault; an unusable upload yields the defaults with
// SourceFallback and the reason in Err.
func FromReader(r io.Reader, defaults []string) Vocabulary {
	if r == nil {
		return Default(defaults)
	}
	labels, err := Parse(r)
	if err != nil {
		return fallback(defaults, err)
	}
	return Vocabulary{Labels: labels, Source: SourceFile}
}

func fallback(defaults []string, err error) Vocabulary {
	v := Default(defaults)
	v.Source = SourceFallback
	v.Err = err
	return v
}
