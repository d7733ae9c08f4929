package detinfo

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type stubProvider struct {
	configured []ParameterSet
	updates    []uint32
	err        error
}

func (p *stubProvider) Configure(params ParameterSet) error {
	p.configured = append(p.configured, params)
	return p.err
}

func (p *stubProvider) Update(run uint32) bool {
	p.updates = append(p.updates, run)
	return true
}

func TestEnsureOnlyOneSchedule(t *testing.T) {
	if err := EnsureOnlyOneSchedule("DetectorClocksService", 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := EnsureOnlyOneSchedule("DetectorClocksService", 4)
	if !errors.Is(err, ErrMultipleSchedules) {
		t.Fatalf("expected ErrMultipleSchedules, got %v", err)
	}
}

func TestLArServiceForwardsToProvider(t *testing.T) {
	prov := &stubProvider{}
	params := ParameterSet{"Temperature": 87.0}
	svc, err := NewLArService(prov, params, 1)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if len(prov.configured) != 1 || prov.configured[0]["Temperature"] != 87.0 {
		t.Fatalf("expected provider configured at construction, got %v", prov.configured)
	}
	if err := svc.Reconfigure(ParameterSet{"Temperature": 88.0}); err != nil {
		t.Fatalf("reconfigure: %v", err)
	}
	if len(prov.configured) != 2 {
		t.Fatalf("expected reconfigure forwarded, got %d calls", len(prov.configured))
	}
	svc.BeginRun(5)
	svc.BeginRun(6)
	if len(prov.updates) != 2 || prov.updates[1] != 6 {
		t.Fatalf("unexpected updates: %v", prov.updates)
	}
	var _ LArPropertiesService = svc
	if svc.Provider() != LArProperties(prov) {
		t.Fatal("expected provider returned")
	}
}

func TestNewLArServiceErrors(t *testing.T) {
	if _, err := NewLArService(nil, nil, 1); err == nil {
		t.Fatal("expected error for nil provider")
	}
	if _, err := NewLArService(&stubProvider{}, nil, 2); !errors.Is(err, ErrMultipleSchedules) {
		t.Fatalf("expected schedule error, got %v", err)
	}
	bad := &stubProvider{err: errors.New("unknown key")}
	if _, err := NewLArService(bad, ParameterSet{}, 1); err == nil {
		t.Fatal("expected provider error")
	}
}

func TestTableProperties(t *testing.T) {
	prov := &TableProperties{}
	params := ParameterSet{
		"Efield": 0.5,
		"runs": map[string]interface{}{
			"7": map[string]interface{}{"Efield": 0.273},
		},
	}
	if err := prov.Configure(params); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if !prov.Update(5) {
		t.Fatal("expected first update to report a change")
	}
	if v, _ := prov.Params().Float("Efield"); v != 0.5 {
		t.Fatalf("unexpected base Efield: %v", v)
	}
	if prov.Update(5) {
		t.Fatal("expected repeated run to report no change")
	}
	if prov.Update(6) {
		t.Fatal("expected run without override to report no change")
	}
	if !prov.Update(7) {
		t.Fatal("expected override run to report a change")
	}
	if v, _ := prov.Params().Float("Efield"); v != 0.273 {
		t.Fatalf("unexpected overridden Efield: %v", v)
	}
	if _, ok := prov.Params()["runs"]; ok {
		t.Fatal("run table should not leak into parameters")
	}
	if err := prov.Configure(ParameterSet{"runs": "x"}); err == nil {
		t.Fatal("expected error for malformed run table")
	}
}

func TestLoadParameterSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lar.yaml")
	content := "Temperature: 87\nDetector: microboone\nruns:\n  \"7\":\n    Temperature: 89\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	params, err := LoadParameterSet(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if v, ok := params.Float("Temperature"); !ok || v != 87 {
		t.Fatalf("unexpected Temperature: %v %v", v, ok)
	}
	if v, ok := params.String("Detector"); !ok || v != "microboone" {
		t.Fatalf("unexpected Detector: %q", v)
	}
	runs, ok := params.Table("runs")
	if !ok {
		t.Fatal("expected runs table")
	}
	if _, ok := runs.Table("7"); !ok {
		t.Fatalf("expected run 7 override, got %v", runs)
	}
	if _, err := LoadParameterSet(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
