// Package extras tracks per-file catalog metadata for the output files of a
// job and renames archival outputs from a template when they are closed.
//
// The host drives a Service through its callback methods from a single
// goroutine; the Service does no locking of its own.
package extras

import (
	"errors"
	"os"
	"time"

	"lardata/fileformat"
	"lardata/logger"
	"lardata/metadata"
	"lardata/rename"
)

// Service follows the output files of one job and finalizes their catalog
// metadata.
type Service struct {
	cfg     Config
	opts    Options
	tracker *metadata.Tracker

	jobPairs metadata.Pairs
	copied   metadata.Pairs

	template         *rename.Template
	templateErr      error
	templateReported bool

	sequence     uint
	currentInput string
	currentRun   uint32
	pending      *Event
	stats        Stats
}

// New builds a Service. A malformed rename template is not an error here; it
// is reported when the first archival file is closed.
func New(cfg Config, opts Options) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Getenv == nil {
		opts.Getenv = os.LookupEnv
	}
	if opts.Formats == nil {
		opts.Formats = fileformat.Checker{}
	}
	if opts.Renamer == nil {
		opts.Renamer = rename.Renamer{Overwrite: cfg.RenameOverwrite}
	}

	s := &Service{
		cfg:      cfg,
		opts:     opts,
		tracker:  metadata.NewTracker(opts.Clock),
		jobPairs: metadata.FromFlat(cfg.Metadata),
	}
	if cfg.RenameTemplate != "" {
		s.template, s.templateErr = rename.Parse(cfg.RenameTemplate)
	}
	return s, nil
}

// BeginJob resets per-job state and publishes the per-job metadata.
func (s *Service) BeginJob() {
	s.copied = nil
	s.sequence = 0
	s.templateReported = false
	s.stats = Stats{}
	if s.opts.Catalog == nil {
		return
	}
	if err := s.opts.Catalog.JobMetadata(s.jobPairs.Clone()); err != nil {
		logger.Warnf("Failed to publish job metadata: %v", err)
	}
}

// EndJob closes outputs the host never reported closed and logs a summary.
func (s *Service) EndJob() {
	for _, path := range s.tracker.OpenFiles() {
		logger.Debugf("Closing %s at end of job", path)
		s.OutputFileClosed(path)
	}
	logger.WithFields(map[string]interface{}{
		"opened":   s.stats.Opened,
		"archival": s.stats.Archival,
		"skipped":  s.stats.Skipped,
		"renamed":  s.stats.Renamed,
	}).Info("Job finished")
}

// InputFileOpened makes path the current input and gathers its copied attributes.
func (s *Service) InputFileOpened(path string) {
	s.currentInput = path
	if len(s.cfg.CopyMetadataAttributes) == 0 || s.opts.Inputs == nil {
		return
	}
	pairs, err := s.opts.Inputs.InputMetadata(path)
	if err != nil {
		logger.Warnf("Failed to read metadata of input %s: %v", path, err)
		return
	}
	for _, name := range s.cfg.CopyMetadataAttributes {
		for _, value := range pairs.Values(name) {
			s.copied.AddUnique(name, value)
		}
	}
}

// InputFileClosed keeps the closed file as the current input so that
// outputs closed afterwards still see it in ${base}, ${dir} and ${path}.
func (s *Service) InputFileClosed(path string) {
	logger.Debugf("Input %s closed", path)
}

// OutputFileOpened starts tracking path.
func (s *Service) OutputFileOpened(path string) {
	s.tracker.Open(path)
	s.stats.Opened++
}

// BeginRun records run as the current run.
func (s *Service) BeginRun(run uint32) {
	s.currentRun = run
}

// PreEvent marks ev as in progress.
func (s *Service) PreEvent(ev Event) {
	s.pending = &ev
}

// PostEvent attributes ev to every open output file.
func (s *Service) PostEvent(ev Event) {
	if s.pending == nil {
		logger.Debugf("Event %d/%d/%d finished without a start notification", ev.Run, ev.SubRun, ev.Event)
	}
	s.pending = nil
	parent := ev.Input
	if parent == "" {
		parent = s.currentInput
	}
	s.tracker.Event(ev.Run, ev.SubRun, ev.Event, parent)
}

// SyncOutputFiles reconciles the tracked outputs with the files the host
// reports open: unknown paths are opened and tracked paths that are gone are
// closed.
func (s *Service) SyncOutputFiles(open []string) {
	present := make(map[string]struct{}, len(open))
	for _, path := range open {
		present[path] = struct{}{}
		if !s.tracker.IsOpen(path) {
			s.OutputFileOpened(path)
		}
	}
	for _, path := range s.tracker.OpenFiles() {
		if _, ok := present[path]; !ok {
			s.OutputFileClosed(path)
		}
	}
}

// OutputFileClosed finalizes path, renames it when it is an archival file
// and a template is configured, then hands its metadata to the sink. The
// boolean is false when path was not being tracked.
func (s *Service) OutputFileClosed(path string) (FileInfo, bool) {
	extra := s.jobPairs.Clone()
	extra.Extend(s.copied)
	rec, err := s.tracker.Close(path, extra)
	if err != nil {
		logger.Warnf("Output file closed out of sequence: %v", err)
		s.stats.Anomalies++
		return FileInfo{}, false
	}
	s.stats.Closed++
	info := FileInfo{Path: path, OriginalPath: path, Record: rec}

	archival, err := s.opts.Formats.IsArchive(path)
	if err != nil {
		logger.Warnf("Failed to check format of %s: %v", path, err)
	}
	if !archival {
		logger.Debugf("Skipping non-archival output %s", path)
		s.stats.Skipped++
		return info, true
	}
	info.Archival = true
	s.sequence++
	s.stats.Archival++

	if dst, ok := s.destination(path); ok {
		s.rename(&info, dst)
	}

	if s.cfg.GeneratePerFileMetadata && s.opts.Sink != nil {
		if err := s.opts.Sink.FileMetadata(info.Path, info.OriginalPath, metadata.FillMetadata(info.Record)); err != nil {
			logger.Errorf("Failed to write metadata for %s: %v", info.Path, err)
			s.stats.SinkFailures++
		}
	}
	return info, true
}

func (s *Service) destination(path string) (string, bool) {
	if s.cfg.RenameTemplate == "" {
		return "", false
	}
	if s.templateErr != nil {
		if !s.templateReported {
			logger.Errorf("Not renaming output files: %v", s.templateErr)
			s.templateReported = true
		}
		return "", false
	}
	name, err := s.template.Expand(rename.Context{
		Sequence:  s.sequence,
		InputPath: s.currentInput,
		Now:       s.opts.Clock(),
		Getenv:    s.opts.Getenv,
	})
	if err != nil {
		logger.Errorf("Failed to expand rename template for %s: %v", path, err)
		return "", false
	}
	if name == "" {
		logger.Warnf("Rename template expanded to an empty name for %s", path)
		return "", false
	}
	return rename.Resolve(path, name), true
}

func (s *Service) rename(info *FileInfo, dst string) {
	src := info.Path
	if s.tracker.IsOpen(dst) {
		logger.Warnf("Keeping %s: %s is an open output file", src, dst)
		s.stats.Collisions++
		return
	}
	outcome, err := s.opts.Renamer.Rename(src, dst)
	switch {
	case errors.Is(err, rename.ErrCollision):
		logger.Warnf("Keeping %s: %s already exists", src, dst)
		s.stats.Collisions++
		return
	case err != nil:
		logger.Errorf("Failed to rename output file: %v", err)
		s.stats.RenameFailures++
		return
	case outcome == rename.Unchanged:
		return
	}
	if err := s.tracker.Rekey(src, dst); err != nil {
		logger.Warnf("Failed to rekey record for %s: %v", src, err)
	}
	info.Path = dst
	info.Renamed = true
	info.Record.Path = dst
	s.stats.Renamed++
	logger.Infof("Renamed %s to %s (%s)", src, dst, outcome)
}

// Lookup returns the record of a tracked output file by its current name.
func (s *Service) Lookup(path string) (metadata.Record, bool) {
	return s.tracker.Lookup(path)
}

// OpenOutputs returns the output files still open, in the order they were opened.
func (s *Service) OpenOutputs() []string {
	return s.tracker.OpenFiles()
}

// Sequence is the number of archival files closed so far in the job.
func (s *Service) Sequence() uint {
	return s.sequence
}

// CopiedAttributes returns the input attributes gathered so far in the job.
func (s *Service) CopiedAttributes() metadata.Pairs {
	return s.copied.Clone()
}

// Stats returns the counters of the current job.
func (s *Service) Stats() Stats {
	return s.stats
}

// CurrentRun is the run most recently begun.
func (s *Service) CurrentRun() uint32 {
	return s.currentRun
}
