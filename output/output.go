package output

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/djherbis/times"

	"lardata/config"
	"lardata/fileformat"
	"lardata/hasher"
	"lardata/logger"
	"lardata/metadata"
	"lardata/systeminfo"
	"lardata/version"
)

const SchemaVersion = "1.0.0"

// Summary closes a catalog.
type Summary struct {
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
	FilesTracked int    `json:"files_tracked"`
	FilesRenamed int    `json:"files_renamed"`
	FilesSkipped int    `json:"files_skipped"`
	FilesWritten int    `json:"files_written"`
}

type JobRecord struct {
	Metadata  metadata.Pairs       `json:"metadata"`
	Host      *systeminfo.HostInfo `json:"host,omitempty"`
	StartTime string               `json:"start_time"`
	Version   string               `json:"version"`
}

type FileRecord struct {
	Path         string            `json:"path"`
	OriginalPath string            `json:"original_path,omitempty"`
	Name         string            `json:"name"`
	MimeType     string            `json:"mime_type"`
	Size         int64             `json:"size"`
	ModTime      string            `json:"mod_time,omitempty"`
	BirthTime    string            `json:"birth_time,omitempty"`
	Checksums    map[string]string `json:"checksums,omitempty"`
	Metadata     metadata.Pairs    `json:"metadata"`
}

type envelope struct {
	RecordType    string      `json:"record_type"`
	SchemaVersion string      `json:"schema_version"`
	Payload       interface{} `json:"payload"`
}

// Writer is the catalog of a job. It appends one NDJSON record per job,
// per archival file and a closing summary, writes per-file sidecars and
// mirrors every record to OTLP when an endpoint is configured.
type Writer struct {
	file      *os.File
	buf       *bufio.Writer
	mu        sync.Mutex
	cfg       *config.Config
	host      *systeminfo.HostInfo
	otel      *otelLogger
	summary   *Summary
	written   int
	closed    bool
	startTime time.Time
}

func New(cfg *config.Config, host *systeminfo.HostInfo) (*Writer, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	w := &Writer{
		cfg:       cfg,
		host:      host,
		startTime: time.Now().UTC(),
	}
	otel, err := newOtelLogger(cfg)
	if err != nil {
		logger.Warnf("OTEL export disabled: %v", err)
	} else {
		w.otel = otel
	}
	if cfg.CatalogFile != "" {
		f, err := os.OpenFile(cfg.CatalogFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return nil, err
		}
		w.file = f
		w.buf = bufio.NewWriterSize(f, 64*1024)
	}
	return w, nil
}

// JobMetadata records the per-job pairs together with host facts.
func (w *Writer) JobMetadata(pairs metadata.Pairs) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	rec := JobRecord{
		Metadata:  pairs.Clone(),
		Host:      w.host,
		StartTime: w.startTime.Format(time.RFC3339),
		Version:   version.Version,
	}
	return w.writeRecordLocked("job", rec)
}

// FileMetadata records a finalized archival file under its final path.
func (w *Writer) FileMetadata(path, originalPath string, pairs metadata.Pairs) error {
	rec, err := describeFile(path, w.cfg.ChecksumAlgorithms)
	if err != nil {
		return err
	}
	if originalPath != path {
		rec.OriginalPath = originalPath
	}
	rec.Metadata = pairs.Clone()

	if w.cfg.WriteSidecars {
		if err := WriteSidecar(path, pairs); err != nil {
			return fmt.Errorf("sidecar for %s: %w", path, err)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.writeRecordLocked("file", rec); err != nil {
		return err
	}
	w.written++
	return nil
}

func describeFile(path string, algorithms []string) (FileRecord, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileRecord{}, err
	}
	rec := FileRecord{
		Path: path,
		Name: filepath.Base(path),
		Size: info.Size(),
	}
	rec.ModTime = info.ModTime().UTC().Format(time.RFC3339)
	if ts, err := times.Stat(path); err == nil {
		rec.ModTime = ts.ModTime().UTC().Format(time.RFC3339)
		if ts.HasBirthTime() {
			rec.BirthTime = ts.BirthTime().UTC().Format(time.RFC3339)
		}
	}
	mime, err := fileformat.Detect(path)
	if err != nil {
		logger.Debugf("Failed to detect type of %s: %v", path, err)
		mime = "unknown"
	}
	rec.MimeType = mime
	if len(algorithms) > 0 {
		rec.Checksums = hasher.ComputeHashes(path, algorithms)
	}
	return rec, nil
}

func (w *Writer) SetSummary(s Summary) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.summary = &s
}

func (w *Writer) FilesWritten() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Close writes the summary record, if one was set, and releases the
// catalog file and the OTLP exporter. Later calls do nothing.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	var err error
	if w.summary != nil {
		s := *w.summary
		if s.StartTime == "" {
			s.StartTime = w.startTime.Format(time.RFC3339)
		}
		if s.EndTime == "" {
			s.EndTime = time.Now().UTC().Format(time.RFC3339)
		}
		s.FilesWritten = w.written
		err = w.writeRecordLocked("summary", s)
	}
	if w.file != nil {
		if ferr := w.buf.Flush(); ferr != nil && err == nil {
			err = ferr
		}
		_ = w.file.Sync()
		if cerr := w.file.Close(); cerr != nil && err == nil {
			err = cerr
		}
		w.file = nil
	}
	if w.otel != nil {
		w.otel.Shutdown()
		w.otel = nil
	}
	return err
}

func (w *Writer) writeRecordLocked(recordType string, payload interface{}) error {
	w.emitRecordLocked(recordType, payload)
	if w.file == nil {
		return nil
	}
	bytes, err := jsonMarshal(envelope{
		RecordType:    recordType,
		SchemaVersion: SchemaVersion,
		Payload:       payload,
	})
	if err != nil {
		return err
	}
	if _, err := w.buf.Write(bytes); err != nil {
		return err
	}
	if err := w.buf.WriteByte('\n'); err != nil {
		return err
	}
	return w.buf.Flush()
}

func (w *Writer) emitRecordLocked(recordType string, payload interface{}) {
	if w.otel == nil {
		return
	}
	w.otel.Emit(recordType, payload)
}
