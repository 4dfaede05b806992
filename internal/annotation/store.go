// Package annotation holds the per-corpus slot array and its projections.
//
// Slots are copy-on-write: every mutation returns a new slice and leaves the
// caller's slice and the records it points to untouched.
package annotation

import (
	"fmt"

	"audio-annotator/internal/models"
)

// Slots holds one entry per corpus index. A nil entry is an unannotated slot.
type Slots []*models.AnnotationRecord

// IndexError is the panic value raised when a slot index is outside the
// slot array. Cursor clamping must make this unreachable.
type IndexError struct {
	Index int
	Len   int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("annotation slot index %d out of range [0,%d)", e.Index, e.Len)
}

// Merge aligns existing records with the corpus by base filename.
func Merge(corpus []models.CorpusEntry, existing map[string]models.AnnotationRecord) Slots {
	slots := make(Slots, len(corpus))
	for i, entry := range corpus {
		if rec, ok := existing[entry.Filename()]; ok {
			slots[i] = &models.AnnotationRecord{
				Filename: rec.Filename,
				Labels:   cloneLabels(rec.Labels),
			}
		}
	}
	return slots
}

// Set returns a copy of slots with index holding a record for corpus[index].
// An empty labels selection still produces a non-empty slot.
func Set(corpus []models.CorpusEntry, slots Slots, index int, labels []string) Slots {
	checkIndex(slots, index)
	if len(corpus) != len(slots) {
		panic(fmt.Sprintf("annotation: corpus length %d does not match slot length %d", len(corpus), len(slots)))
	}

	next := slots.clone()
	next[index] = &models.AnnotationRecord{
		Filename: corpus[index].Filename(),
		Labels:   cloneLabels(labels),
	}
	return next
}

// Clear returns a copy of slots with index emptied. Clearing an empty slot is
// not an error.
func Clear(slots Slots, index int) Slots {
	checkIndex(slots, index)

	next := slots.clone()
	next[index] = nil
	return next
}

// Labels returns the labels stored at index, or an empty list when unset.
func (s Slots) Labels(index int) []string {
	if index < 0 || index >= len(s) || s[index] == nil {
		return []string{}
	}
	return cloneLabels(s[index].Labels)
}

// Table lists the non-empty slots in slot order.
func Table(slots Slots) []models.TableRow {
	rows := make([]models.TableRow, 0, len(slots))
	for _, rec := range slots {
		if rec == nil {
			continue
		}
		rows = append(rows, models.TableRow{
			Filename: rec.Filename,
			Labels:   cloneLabels(rec.Labels),
		})
	}
	return rows
}

// Progress counts non-empty slots. Fraction is 0 for an empty slot array.
func Progress(slots Slots) models.Progress {
	p := models.Progress{Total: len(slots)}
	for _, rec := range slots {
		if rec != nil {
			p.Annotated++
		}
	}
	if p.Total > 0 {
		p.Fraction = float64(p.Annotated) / float64(p.Total)
	}
	return p
}

// ProgressText renders p the way the status bar shows it.
func ProgressText(p models.Progress) string {
	if p.Total == 0 {
		return "No files loaded"
	}
	return fmt.Sprintf("Progress: %d/%d (%.1f%%)", p.Annotated, p.Total, p.Fraction*100)
}

func (s Slots) clone() Slots {
	next := make(Slots, len(s))
	copy(next, s)
	return next
}

func checkIndex(slots Slots, index int) {
	if index < 0 || index >= len(slots) {
		panic(&IndexError{Index: index, Len: len(slots)})
	}
}

func cloneLabels(labels []string) []string {
	out := make([]string, len(labels))
	copy(out, labels)
	return out
}
