package metadata

import (
	"maps"
	"slices"
	"time"
)

// Record holds the processing history of a single output file.
type Record struct {
	Path          string
	RunNumbers    map[uint32]struct{}
	SubRunNumbers map[uint32]struct{}
	Parents       map[string]struct{}
	FirstEvent    uint32
	LastEvent     uint32
	EventCount    uint
	StartTime     time.Time
	EndTime       time.Time
	Extra         Pairs
	Closed        bool
}

func newRecord(path string, start time.Time) *Record {
	return &Record{
		Path:          path,
		RunNumbers:    make(map[uint32]struct{}),
		SubRunNumbers: make(map[uint32]struct{}),
		Parents:       make(map[string]struct{}),
		StartTime:     start,
	}
}

func (r *Record) observe(run, subRun, event uint32, parent string) {
	r.RunNumbers[run] = struct{}{}
	r.SubRunNumbers[subRun] = struct{}{}
	if parent != "" {
		r.Parents[parent] = struct{}{}
	}
	if r.EventCount == 0 {
		r.FirstEvent = event
	}
	r.LastEvent = event
	r.EventCount++
}

// Copy returns a deep copy that shares no state with r.
func (r *Record) Copy() Record {
	out := *r
	out.RunNumbers = maps.Clone(r.RunNumbers)
	out.SubRunNumbers = maps.Clone(r.SubRunNumbers)
	out.Parents = maps.Clone(r.Parents)
	out.Extra = r.Extra.Clone()
	return out
}

// Runs returns the run numbers in ascending order.
func (r Record) Runs() []uint32 {
	return slices.Sorted(maps.Keys(r.RunNumbers))
}

// SubRuns returns the subrun numbers in ascending order.
func (r Record) SubRuns() []uint32 {
	return slices.Sorted(maps.Keys(r.SubRunNumbers))
}

// ParentFiles returns the parent file paths in lexical order.
func (r Record) ParentFiles() []string {
	return slices.Sorted(maps.Keys(r.Parents))
}
