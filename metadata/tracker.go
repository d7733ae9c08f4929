package metadata

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

var (
	// ErrNotTracked is returned when a close arrives for a file that was never opened.
	ErrNotTracked = errors.New("output file not tracked")
	// ErrNotOpen is returned when a close arrives for a file that is already closed.
	ErrNotOpen = errors.New("output file already closed")
	// ErrOpenTarget is returned when a rekey would replace an open output.
	ErrOpenTarget = errors.New("target is an open output file")
)

// Tracker keeps one record per output file. Records of closed files are
// retained for the rest of the job.
//
// A Tracker is driven from a single goroutine and is not safe for
// concurrent use.
type Tracker struct {
	now     func() time.Time
	records map[string]*Record
	open    []string
}

// NewTracker returns a tracker using clock for start and end times. A nil
// clock means time.Now.
func NewTracker(clock func() time.Time) *Tracker {
	if clock == nil {
		clock = time.Now
	}
	return &Tracker{
		now:     clock,
		records: make(map[string]*Record),
	}
}

// Open starts a fresh record for path, replacing any previous record with
// the same name.
func (t *Tracker) Open(path string) {
	t.records[path] = newRecord(path, t.now())
	if !slices.Contains(t.open, path) {
		t.open = append(t.open, path)
	}
}

// Event attributes one processed event to every open output file.
func (t *Tracker) Event(run, subRun, event uint32, parent string) {
	for _, path := range t.open {
		t.records[path].observe(run, subRun, event, parent)
	}
}

// Close finalizes the record for path, merging extra into its attributes,
// and returns a snapshot of it.
func (t *Tracker) Close(path string, extra Pairs) (Record, error) {
	rec, ok := t.records[path]
	if !ok {
		return Record{}, fmt.Errorf("close %s: %w", path, ErrNotTracked)
	}
	if rec.Closed {
		return Record{}, fmt.Errorf("close %s: %w", path, ErrNotOpen)
	}
	rec.EndTime = t.now()
	if rec.EndTime.Before(rec.StartTime) {
		rec.EndTime = rec.StartTime
	}
	rec.Extra.Extend(extra)
	rec.Closed = true
	t.open = slices.DeleteFunc(t.open, func(p string) bool { return p == path })
	return rec.Copy(), nil
}

// Lookup returns a snapshot of the record stored under path.
func (t *Tracker) Lookup(path string) (Record, bool) {
	rec, ok := t.records[path]
	if !ok {
		return Record{}, false
	}
	return rec.Copy(), true
}

// IsOpen reports whether path is currently an open output file.
func (t *Tracker) IsOpen(path string) bool {
	return slices.Contains(t.open, path)
}

// OpenFiles returns the open output files in the order they were opened.
func (t *Tracker) OpenFiles() []string {
	return slices.Clone(t.open)
}

// Len returns the number of records, open or closed.
func (t *Tracker) Len() int {
	return len(t.records)
}

// Rekey moves the closed record stored under oldPath to newPath after the
// file has been renamed on disk.
func (t *Tracker) Rekey(oldPath, newPath string) error {
	if oldPath == newPath {
		return nil
	}
	rec, ok := t.records[oldPath]
	if !ok {
		return fmt.Errorf("rekey %s: %w", oldPath, ErrNotTracked)
	}
	if !rec.Closed {
		return fmt.Errorf("rekey %s: record still open", oldPath)
	}
	if t.IsOpen(newPath) {
		return fmt.Errorf("rekey %s -> %s: %w", oldPath, newPath, ErrOpenTarget)
	}
	delete(t.records, oldPath)
	rec.Path = newPath
	t.records[newPath] = rec
	return nil
}
