package navigator

import (
	"fmt"

	"audio-annotator/internal/annotation"
	"audio-annotator/internal/models"
)

// Direction is a single cursor step.
type Direction int

const (
	Previous Direction = -1
	Stay     Direction = 0
	Next     Direction = 1
)

// EmptyStatus is reported when no corpus is loaded.
const EmptyStatus = "No files loaded"

// Move returns cursor advanced by dir and clamped to [0, total-1]. Moving
// past either end leaves the cursor at that end. An empty corpus always
// yields 0.
func Move(cursor int, dir Direction, total int) int {
	if total <= 0 {
		return 0
	}
	next := cursor + int(dir)
	if next < 0 {
		return 0
	}
	if next > total-1 {
		return total - 1
	}
	return next
}

// Report describes the entry at cursor along with any labels already
// stored for it. Cursor must already be clamped.
func Report(corpus []models.CorpusEntry, slots annotation.Slots, cursor int) models.Position {
	if len(corpus) == 0 {
		return models.Position{Empty: true, Status: EmptyStatus, Labels: []string{}}
	}

	entry := corpus[cursor]
	return models.Position{
		Index:    cursor,
		Entry:    entry,
		Filename: entry.Filename(),
		Status:   fmt.Sprintf("File %d / %d", cursor+1, len(corpus)),
		Labels:   slots.Labels(cursor),
	}
}
