package extras

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"lardata/logger"
	"lardata/metadata"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

type sinkCall struct {
	path, original string
	pairs          metadata.Pairs
}

type fakeSink struct {
	calls []sinkCall
	err   error
}

func (f *fakeSink) FileMetadata(path, originalPath string, pairs metadata.Pairs) error {
	f.calls = append(f.calls, sinkCall{path, originalPath, pairs})
	return f.err
}

type fakeCatalog struct {
	jobs []metadata.Pairs
}

func (f *fakeCatalog) JobMetadata(pairs metadata.Pairs) error {
	f.jobs = append(f.jobs, pairs)
	return nil
}

type fakeInputs map[string]metadata.Pairs

func (f fakeInputs) InputMetadata(path string) (metadata.Pairs, error) {
	pairs, ok := f[path]
	if !ok {
		return nil, errors.New("no sidecar")
	}
	return pairs, nil
}

// fakeFormats treats every file as archival unless listed.
type fakeFormats map[string]bool

func (f fakeFormats) IsArchive(path string) (bool, error) {
	if archival, ok := f[filepath.Base(path)]; ok {
		return archival, nil
	}
	return true, nil
}

type harness struct {
	svc     *Service
	sink    *fakeSink
	catalog *fakeCatalog
	dir     string
	logs    *bytes.Buffer
}

func newHarness(t *testing.T, cfg Config, opts Options) *harness {
	t.Helper()
	var logs bytes.Buffer
	logger.SetOutput(&logs)
	t.Cleanup(func() { logger.SetOutput(os.Stderr) })

	h := &harness{sink: &fakeSink{}, catalog: &fakeCatalog{}, dir: t.TempDir(), logs: &logs}
	if opts.Sink == nil {
		opts.Sink = h.sink
	}
	if opts.Catalog == nil {
		opts.Catalog = h.catalog
	}
	if opts.Formats == nil {
		opts.Formats = fakeFormats{}
	}
	if opts.Clock == nil {
		clock := &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
		opts.Clock = clock.Now
	}
	if opts.Getenv == nil {
		opts.Getenv = func(string) (string, bool) { return "", false }
	}
	svc, err := New(cfg, opts)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	h.svc = svc
	return h
}

func (h *harness) file(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(h.dir, name)
	if err := os.WriteFile(path, []byte("root"), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func (h *harness) event(run, subRun, event uint32) {
	ev := Event{Run: run, SubRun: subRun, Event: event}
	h.svc.PreEvent(ev)
	h.svc.PostEvent(ev)
}

func TestEventsAttributedToOpenOutput(t *testing.T) {
	h := newHarness(t, DefaultConfig(), Options{})
	h.svc.BeginJob()
	h.svc.InputFileOpened("/data/in.root")
	out := h.file(t, "out.root")
	h.svc.OutputFileOpened(out)
	h.event(5, 1, 30)
	h.event(5, 1, 10)
	h.svc.PreEvent(Event{Run: 5, SubRun: 2, Event: 20, Input: "/data/other.root"})
	h.svc.PostEvent(Event{Run: 5, SubRun: 2, Event: 20, Input: "/data/other.root"})

	info, ok := h.svc.OutputFileClosed(out)
	if !ok {
		t.Fatal("expected tracked close")
	}
	rec := info.Record
	if rec.EventCount != 3 || rec.FirstEvent != 30 || rec.LastEvent != 20 {
		t.Fatalf("unexpected event facts: %+v", rec)
	}
	if got := rec.SubRuns(); len(got) != 2 {
		t.Fatalf("expected two subruns, got %v", got)
	}
	parents := rec.ParentFiles()
	if len(parents) != 2 || parents[0] != "/data/in.root" || parents[1] != "/data/other.root" {
		t.Fatalf("unexpected parents: %v", parents)
	}
	if !rec.EndTime.After(rec.StartTime) {
		t.Fatalf("expected end after start: %v %v", rec.StartTime, rec.EndTime)
	}
	if len(h.sink.calls) != 1 || h.sink.calls[0].path != out {
		t.Fatalf("unexpected sink calls: %+v", h.sink.calls)
	}
}

func TestEventsReachEveryOpenOutput(t *testing.T) {
	h := newHarness(t, DefaultConfig(), Options{})
	a, b := h.file(t, "a.root"), h.file(t, "b.root")
	h.svc.OutputFileOpened(a)
	h.event(1, 1, 1)
	h.svc.OutputFileOpened(b)
	h.event(1, 1, 2)

	infoA, _ := h.svc.OutputFileClosed(a)
	infoB, _ := h.svc.OutputFileClosed(b)
	if infoA.Record.EventCount != 2 || infoB.Record.EventCount != 1 {
		t.Fatalf("unexpected counts: %d %d", infoA.Record.EventCount, infoB.Record.EventCount)
	}
}

func TestRenameSequence(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RenameTemplate = "run${num}.root"
	cfg.Metadata = []string{"file_type", "mc"}
	h := newHarness(t, cfg, Options{})
	h.svc.BeginJob()

	for i, want := range []string{"run1.root", "run2.root", "run3.root"} {
		out := h.file(t, "out.root")
		h.svc.OutputFileOpened(out)
		h.event(7, 1, uint32(i+1))
		info, ok := h.svc.OutputFileClosed(out)
		if !ok || !info.Renamed {
			t.Fatalf("file %d: expected rename, got %+v", i, info)
		}
		if info.Path != filepath.Join(h.dir, want) || info.OriginalPath != out {
			t.Fatalf("file %d: unexpected paths %s %s", i, info.Path, info.OriginalPath)
		}
		if _, err := os.Stat(info.Path); err != nil {
			t.Fatalf("file %d: renamed file missing: %v", i, err)
		}
		if _, ok := h.svc.Lookup(info.Path); !ok {
			t.Fatalf("file %d: record not rekeyed", i)
		}
	}
	if h.svc.Sequence() != 3 {
		t.Fatalf("unexpected sequence: %d", h.svc.Sequence())
	}
	if len(h.sink.calls) != 3 {
		t.Fatalf("expected three sink calls, got %d", len(h.sink.calls))
	}
	last := h.sink.calls[2]
	if last.path != filepath.Join(h.dir, "run3.root") || last.original != filepath.Join(h.dir, "out.root") {
		t.Fatalf("unexpected sink paths: %+v", last)
	}
	if got := last.pairs.Values("file_type"); len(got) != 1 || got[0] != "mc" {
		t.Fatalf("expected per-job pair once, got %v", last.pairs)
	}
	if got := last.pairs.Values("eventCount"); len(got) != 1 || got[0] != "1" {
		t.Fatalf("unexpected eventCount: %v", got)
	}
}

func TestTemplateUsesCurrentInput(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RenameTemplate = "${base .root}_copy.root"
	h := newHarness(t, cfg, Options{})
	h.svc.InputFileOpened("/a/b/event.root")
	out := h.file(t, "out.root")
	h.svc.OutputFileOpened(out)
	h.svc.InputFileClosed("/a/b/event.root")

	info, _ := h.svc.OutputFileClosed(out)
	if info.Path != filepath.Join(h.dir, "event_copy.root") {
		t.Fatalf("unexpected path: %s", info.Path)
	}
}

func TestNonArchivalOutputSkipped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RenameTemplate = "run${num}.root"
	h := newHarness(t, cfg, Options{Formats: fakeFormats{"hist.root": false}})

	hist := h.file(t, "hist.root")
	h.svc.OutputFileOpened(hist)
	info, ok := h.svc.OutputFileClosed(hist)
	if !ok || info.Archival || info.Renamed || info.Path != hist {
		t.Fatalf("unexpected info: %+v", info)
	}
	if len(h.sink.calls) != 0 {
		t.Fatal("expected no metadata for non-archival output")
	}

	out := h.file(t, "out.root")
	h.svc.OutputFileOpened(out)
	info, _ = h.svc.OutputFileClosed(out)
	if filepath.Base(info.Path) != "run1.root" {
		t.Fatalf("expected skipped file not to count, got %s", info.Path)
	}
	if st := h.svc.Stats(); st.Skipped != 1 || st.Archival != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestRenameCollisionKeepsName(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RenameTemplate = "final.root"
	h := newHarness(t, cfg, Options{})
	existing := h.file(t, "final.root")
	out := h.file(t, "out.root")

	h.svc.OutputFileOpened(out)
	info, ok := h.svc.OutputFileClosed(out)
	if !ok || info.Renamed || info.Path != out {
		t.Fatalf("expected original name kept, got %+v", info)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("original file missing: %v", err)
	}
	if _, err := os.Stat(existing); err != nil {
		t.Fatalf("existing file disturbed: %v", err)
	}
	if !strings.Contains(h.logs.String(), "already exists") || !strings.Contains(h.logs.String(), "level=warning") {
		t.Fatalf("expected collision warning, got %q", h.logs.String())
	}
	if len(h.sink.calls) != 1 || h.sink.calls[0].path != out {
		t.Fatalf("expected metadata under original name, got %+v", h.sink.calls)
	}
	if h.svc.Stats().Collisions != 1 {
		t.Fatalf("unexpected stats: %+v", h.svc.Stats())
	}
}

func TestRenameOverwriteReplaces(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RenameTemplate = "final.root"
	cfg.RenameOverwrite = true
	h := newHarness(t, cfg, Options{})
	existing := h.file(t, "final.root")
	out := filepath.Join(h.dir, "out.root")
	if err := os.WriteFile(out, []byte("root new"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	h.svc.OutputFileOpened(out)
	info, _ := h.svc.OutputFileClosed(out)
	if !info.Renamed || info.Path != existing {
		t.Fatalf("expected replacement, got %+v", info)
	}
	data, err := os.ReadFile(existing)
	if err != nil || string(data) != "root new" {
		t.Fatalf("expected destination replaced, got %q %v", data, err)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatalf("expected source gone, got %v", err)
	}
}

func TestRenameOntoOpenOutputRefused(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RenameTemplate = "hist.root"
	cfg.RenameOverwrite = true
	h := newHarness(t, cfg, Options{})
	out := h.file(t, "out.root")
	hist := h.file(t, "hist.root")

	h.svc.OutputFileOpened(out)
	h.svc.OutputFileOpened(hist)
	info, _ := h.svc.OutputFileClosed(out)
	if info.Renamed || info.Path != out {
		t.Fatalf("expected original name kept, got %+v", info)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("expected source kept: %v", err)
	}
	if !strings.Contains(h.logs.String(), "is an open output file") {
		t.Fatalf("expected warning, got %q", h.logs.String())
	}

	h.event(1, 1, 1)
	histInfo, ok := h.svc.OutputFileClosed(hist)
	if !ok || histInfo.Record.EventCount != 1 {
		t.Fatalf("open output disturbed: %+v ok=%v", histInfo, ok)
	}
	if rec, _ := h.svc.Lookup(out); rec.EventCount != 0 {
		t.Fatalf("finalized record received events: %+v", rec)
	}
	if h.svc.Stats().Collisions != 1 || h.svc.Stats().Anomalies != 0 {
		t.Fatalf("unexpected stats: %+v", h.svc.Stats())
	}
}

func TestRenameFailureKeepsName(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RenameTemplate = "missing/dir/final.root"
	h := newHarness(t, cfg, Options{})
	out := h.file(t, "out.root")

	h.svc.OutputFileOpened(out)
	info, _ := h.svc.OutputFileClosed(out)
	if info.Renamed || info.Path != out {
		t.Fatalf("expected original name kept, got %+v", info)
	}
	if !strings.Contains(h.logs.String(), "level=error") {
		t.Fatalf("expected rename error logged, got %q", h.logs.String())
	}
	if h.svc.Stats().RenameFailures != 1 {
		t.Fatalf("unexpected stats: %+v", h.svc.Stats())
	}
}

func TestTemplateSyntaxErrorReportedOnce(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RenameTemplate = "run${num"
	h := newHarness(t, cfg, Options{})
	h.svc.BeginJob()

	for _, name := range []string{"a.root", "b.root"} {
		out := h.file(t, name)
		h.svc.OutputFileOpened(out)
		info, ok := h.svc.OutputFileClosed(out)
		if !ok || info.Renamed {
			t.Fatalf("expected no rename, got %+v", info)
		}
	}
	if got := strings.Count(h.logs.String(), "Not renaming output files"); got != 1 {
		t.Fatalf("expected one syntax report, got %d in %q", got, h.logs.String())
	}
	if len(h.sink.calls) != 2 {
		t.Fatalf("expected metadata for both files, got %d", len(h.sink.calls))
	}
}

func TestUntrackedCloseIsAnomaly(t *testing.T) {
	h := newHarness(t, DefaultConfig(), Options{})
	if _, ok := h.svc.OutputFileClosed("/never/opened.root"); ok {
		t.Fatal("expected untracked close to report false")
	}
	out := h.file(t, "out.root")
	h.svc.OutputFileOpened(out)
	h.svc.OutputFileClosed(out)
	if _, ok := h.svc.OutputFileClosed(out); ok {
		t.Fatal("expected second close to report false")
	}
	if h.svc.Stats().Anomalies != 2 {
		t.Fatalf("unexpected stats: %+v", h.svc.Stats())
	}
	if !strings.Contains(h.logs.String(), "out of sequence") {
		t.Fatalf("expected warning, got %q", h.logs.String())
	}
}

func TestSyncOutputFiles(t *testing.T) {
	h := newHarness(t, DefaultConfig(), Options{})
	a, b := h.file(t, "a.root"), h.file(t, "b.root")

	h.svc.SyncOutputFiles([]string{a})
	h.event(1, 1, 1)
	h.svc.SyncOutputFiles([]string{a, b})
	h.event(1, 1, 2)
	h.svc.SyncOutputFiles([]string{b})

	if len(h.sink.calls) != 1 || h.sink.calls[0].path != a {
		t.Fatalf("expected a closed by sync, got %+v", h.sink.calls)
	}
	if got := h.sink.calls[0].pairs.Values("eventCount"); got[0] != "2" {
		t.Fatalf("unexpected eventCount for a: %v", got)
	}
	h.svc.SyncOutputFiles(nil)
	if len(h.sink.calls) != 2 || h.sink.calls[1].path != b {
		t.Fatalf("expected b closed by sync, got %+v", h.sink.calls)
	}
}

func TestEndJobClosesOpenOutputs(t *testing.T) {
	h := newHarness(t, DefaultConfig(), Options{})
	h.svc.BeginJob()
	out := h.file(t, "out.root")
	h.svc.OutputFileOpened(out)
	h.event(1, 1, 1)
	if open := h.svc.OpenOutputs(); len(open) != 1 || open[0] != out {
		t.Fatalf("unexpected open outputs %v", open)
	}
	h.svc.EndJob()

	if len(h.svc.OpenOutputs()) != 0 {
		t.Fatal("expected no open outputs after end of job")
	}
	if len(h.sink.calls) != 1 {
		t.Fatalf("expected output closed at end of job, got %d", len(h.sink.calls))
	}
	if !strings.Contains(h.logs.String(), "Job finished") {
		t.Fatalf("expected summary log, got %q", h.logs.String())
	}
}

func TestCopyMetadataAttributes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CopyMetadataAttributes = []string{"data_tier", "application"}
	inputs := fakeInputs{
		"/in/1.root": {{Name: "data_tier", Value: "raw"}, {Name: "group", Value: "uboone"}},
		"/in/2.root": {{Name: "data_tier", Value: "raw"}, {Name: "application", Value: "swizzle"}},
	}
	h := newHarness(t, cfg, Options{Inputs: inputs})
	h.svc.BeginJob()
	h.svc.InputFileOpened("/in/1.root")
	h.svc.InputFileOpened("/in/2.root")
	h.svc.InputFileOpened("/in/missing.root")

	out := h.file(t, "out.root")
	h.svc.OutputFileOpened(out)
	h.svc.OutputFileClosed(out)

	pairs := h.sink.calls[0].pairs
	if pairs.Count("data_tier") != 1 || pairs.Count("application") != 1 || pairs.Count("group") != 0 {
		t.Fatalf("unexpected copied attributes: %v", pairs)
	}
	if !strings.Contains(h.logs.String(), "missing.root") {
		t.Fatalf("expected read failure warning, got %q", h.logs.String())
	}
}

func TestPerFileMetadataDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GeneratePerFileMetadata = false
	cfg.RenameTemplate = "r${num}.root"
	h := newHarness(t, cfg, Options{})
	out := h.file(t, "out.root")
	h.svc.OutputFileOpened(out)
	info, _ := h.svc.OutputFileClosed(out)
	if !info.Renamed {
		t.Fatal("expected renaming to stay active")
	}
	if len(h.sink.calls) != 0 {
		t.Fatal("expected no per-file metadata")
	}
}

func TestSinkFailureCounted(t *testing.T) {
	h := newHarness(t, DefaultConfig(), Options{Sink: &fakeSink{err: errors.New("disk full")}})
	out := h.file(t, "out.root")
	h.svc.OutputFileOpened(out)
	if _, ok := h.svc.OutputFileClosed(out); !ok {
		t.Fatal("expected close to succeed despite sink failure")
	}
	if h.svc.Stats().SinkFailures != 1 {
		t.Fatalf("unexpected stats: %+v", h.svc.Stats())
	}
}

func TestBeginJobPublishesCatalog(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Metadata = []string{"group", "uboone", "group", "sbnd"}
	h := newHarness(t, cfg, Options{})
	h.svc.BeginJob()
	if len(h.catalog.jobs) != 1 || h.catalog.jobs[0].Count("group") != 2 {
		t.Fatalf("unexpected catalog calls: %+v", h.catalog.jobs)
	}
}

func TestNewRejectsOddMetadata(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Metadata = []string{"group"}
	if _, err := New(cfg, Options{}); err == nil {
		t.Fatal("expected error for odd metadata list")
	}
}
