// Package replay stands in for the host framework: it reads a job trace of
// lifecycle notifications and delivers them, in order, to observers.
package replay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"lardata/extras"
	"lardata/logger"
	"lardata/tracing"
)

// Notification kinds.
const (
	BeginJob    = "begin_job"
	EndJob      = "end_job"
	OpenInput   = "open_input"
	CloseInput  = "close_input"
	OpenOutput  = "open_output"
	CloseOutput = "close_output"
	BeginRun    = "begin_run"
	Event       = "event"
	Sync        = "sync"
)

// Observer receives host notifications.
type Observer interface {
	BeginJob()
	EndJob()
	InputFileOpened(path string)
	InputFileClosed(path string)
	OutputFileOpened(path string)
	OutputFileClosed(path string) (extras.FileInfo, bool)
	BeginRun(run uint32)
	PreEvent(ev extras.Event)
	PostEvent(ev extras.Event)
	SyncOutputFiles(open []string)
}

// Base implements Observer with no-ops, for embedding by observers that
// only need a few notifications.
type Base struct{}

func (Base) BeginJob()                                       {}
func (Base) EndJob()                                         {}
func (Base) InputFileOpened(string)                          {}
func (Base) InputFileClosed(string)                          {}
func (Base) OutputFileOpened(string)                         {}
func (Base) OutputFileClosed(string) (extras.FileInfo, bool) { return extras.FileInfo{}, false }
func (Base) BeginRun(uint32)                                 {}
func (Base) PreEvent(extras.Event)                           {}
func (Base) PostEvent(extras.Event)                          {}
func (Base) SyncOutputFiles([]string)                        {}

// Notification is one line of a job trace.
type Notification struct {
	Kind   string   `json:"kind"`
	Path   string   `json:"path,omitempty"`
	Run    uint32   `json:"run,omitempty"`
	SubRun uint32   `json:"subrun,omitempty"`
	Event  uint32   `json:"event,omitempty"`
	Input  string   `json:"input,omitempty"`
	Open   []string `json:"open,omitempty"`
}

func (n Notification) validate() error {
	switch n.Kind {
	case BeginJob, EndJob, BeginRun, Event, Sync:
		return nil
	case OpenInput, CloseInput, OpenOutput, CloseOutput:
		if n.Path == "" {
			return fmt.Errorf("%s without path", n.Kind)
		}
		return nil
	case "":
		return fmt.Errorf("missing kind")
	default:
		return fmt.Errorf("unknown kind %q", n.Kind)
	}
}

// DecodeError locates a malformed trace line.
type DecodeError struct {
	Line int
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("job trace line %d: %v", e.Line, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decoder reads notifications from an NDJSON job trace. Blank lines are
// skipped.
type Decoder struct {
	scanner *bufio.Scanner
	line    int
}

func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	return &Decoder{scanner: scanner}
}

// Next returns the next notification or io.EOF at the end of the trace.
func (d *Decoder) Next() (Notification, error) {
	for d.scanner.Scan() {
		d.line++
		line := bytes.TrimSpace(d.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var n Notification
		if err := json.Unmarshal(line, &n); err != nil {
			return Notification{}, &DecodeError{Line: d.line, Err: err}
		}
		if err := n.validate(); err != nil {
			return Notification{}, &DecodeError{Line: d.line, Err: err}
		}
		return n, nil
	}
	if err := d.scanner.Err(); err != nil {
		return Notification{}, &DecodeError{Line: d.line + 1, Err: err}
	}
	return Notification{}, io.EOF
}

// Result summarizes a replay. JobEnded is false when the trace stopped
// after a begin_job without the matching end_job.
type Result struct {
	Notifications int
	Events        int
	Closed        []extras.FileInfo
	JobEnded      bool
}

// Run decodes the trace in r and dispatches every notification to observers
// in registration order. An event is delivered as PreEvent to all observers
// followed by PostEvent to all observers. Run stops at the first decode
// error or when ctx is done.
func Run(ctx context.Context, r io.Reader, observers ...Observer) (Result, error) {
	ctx, end := tracing.Job(ctx)
	defer end()

	var res Result
	dec := NewDecoder(r)
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		n, err := dec.Next()
		if err == io.EOF {
			return res, nil
		}
		if err != nil {
			return res, err
		}
		res.Notifications++
		dispatch(ctx, n, observers, &res)
	}
}

func dispatch(ctx context.Context, n Notification, observers []Observer, res *Result) {
	defer tracing.Notification(ctx, n.Kind)()
	switch n.Kind {
	case BeginJob:
		res.JobEnded = false
		for _, o := range observers {
			o.BeginJob()
		}
	case EndJob:
		res.JobEnded = true
		for _, o := range observers {
			o.EndJob()
		}
	case OpenInput:
		for _, o := range observers {
			o.InputFileOpened(n.Path)
		}
	case CloseInput:
		for _, o := range observers {
			o.InputFileClosed(n.Path)
		}
	case OpenOutput:
		for _, o := range observers {
			o.OutputFileOpened(n.Path)
		}
	case CloseOutput:
		tracing.File(ctx, n.Path)
		for _, o := range observers {
			if info, ok := o.OutputFileClosed(n.Path); ok {
				res.Closed = append(res.Closed, info)
			}
		}
	case BeginRun:
		for _, o := range observers {
			o.BeginRun(n.Run)
		}
	case Event:
		ev := extras.Event{Run: n.Run, SubRun: n.SubRun, Event: n.Event, Input: n.Input}
		for _, o := range observers {
			o.PreEvent(ev)
		}
		for _, o := range observers {
			o.PostEvent(ev)
		}
		res.Events++
	case Sync:
		for _, o := range observers {
			o.SyncOutputFiles(n.Open)
		}
	default:
		logger.Debugf("Ignoring notification %q", n.Kind)
	}
}
