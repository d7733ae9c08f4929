package extras

import (
	"fmt"
	"time"

	"lardata/metadata"
	"lardata/rename"
)

// Config is the job-level configuration of the service. It is read once at
// construction.
type Config struct {
	// Metadata is a flat name, value, name, value list applied to the job and
	// to every archival output file.
	Metadata                []string
	GeneratePerFileMetadata bool
	// CopyMetadataAttributes names input-file attributes carried over to outputs.
	CopyMetadataAttributes []string
	// RenameTemplate names closed archival files. Empty disables renaming.
	RenameTemplate  string
	RenameOverwrite bool
}

// DefaultConfig enables per-file metadata and nothing else.
func DefaultConfig() Config {
	return Config{GeneratePerFileMetadata: true}
}

func (c Config) validate() error {
	if len(c.Metadata)%2 != 0 {
		return fmt.Errorf("metadata must hold name/value pairs, got %d entries", len(c.Metadata))
	}
	return nil
}

// Catalog receives the per-job metadata once at job start.
type Catalog interface {
	JobMetadata(pairs metadata.Pairs) error
}

// Sink receives the finalized metadata of an archival output file under its
// final path. originalPath is the name the file was written under.
type Sink interface {
	FileMetadata(path, originalPath string, pairs metadata.Pairs) error
}

// Inputs reads the catalog metadata of an input file.
type Inputs interface {
	InputMetadata(path string) (metadata.Pairs, error)
}

// FormatChecker decides whether an output file is an archival data file.
type FormatChecker interface {
	IsArchive(path string) (bool, error)
}

// Renamer moves a closed output file to its templated name.
type Renamer interface {
	Rename(src, dst string) (rename.Outcome, error)
}

// Options carries the collaborators of a Service. Nil Catalog, Sink and
// Inputs disable the corresponding step.
type Options struct {
	Catalog Catalog
	Sink    Sink
	Inputs  Inputs
	// Formats defaults to a content sniff for ROOT archives.
	Formats FormatChecker
	// Renamer defaults to rename.Renamer honouring RenameOverwrite.
	Renamer Renamer
	Clock   func() time.Time
	Getenv  func(string) (string, bool)
}

// Event is what the host reports about one processed event.
type Event struct {
	Run    uint32
	SubRun uint32
	Event  uint32
	// Input is the file the event was read from, if the host knows it.
	Input string
}

// FileInfo describes a closed output file.
type FileInfo struct {
	Path         string
	OriginalPath string
	Renamed      bool
	Archival     bool
	Record       metadata.Record
}

// Stats counts what the service did during a job.
type Stats struct {
	Opened         int
	Closed         int
	Archival       int
	Skipped        int
	Renamed        int
	Collisions     int
	RenameFailures int
	Anomalies      int
	SinkFailures   int
}
