package detinfo

import (
	"fmt"

	"lardata/logger"
)

// LArService is the standard LArPropertiesService. It refreshes its
// provider at the start of every run.
type LArService struct {
	prov LArProperties
}

// NewLArService configures prov from params. It fails for jobs with more
// than one schedule and when the provider rejects params.
func NewLArService(prov LArProperties, params ParameterSet, schedules int) (*LArService, error) {
	if prov == nil {
		return nil, fmt.Errorf("LArPropertiesService: nil provider")
	}
	if err := EnsureOnlyOneSchedule("LArPropertiesService", schedules); err != nil {
		return nil, err
	}
	s := &LArService{prov: prov}
	if err := s.Reconfigure(params); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *LArService) Reconfigure(params ParameterSet) error {
	if err := s.prov.Configure(params); err != nil {
		return fmt.Errorf("LArPropertiesService: %w", err)
	}
	return nil
}

func (s *LArService) Provider() LArProperties {
	return s.prov
}

// BeginRun updates the provider for run.
func (s *LArService) BeginRun(run uint32) {
	if s.prov.Update(run) {
		logger.Debugf("LAr properties updated for run %d", run)
	}
}

// TableProperties is an LArProperties provider backed by a parameter set.
// A "runs" table may override parameters per run, keyed by run number.
type TableProperties struct {
	base    ParameterSet
	current ParameterSet
	run     uint32
	hasRun  bool
}

func (t *TableProperties) Configure(params ParameterSet) error {
	if params == nil {
		params = ParameterSet{}
	}
	if runs, ok := params["runs"]; ok {
		if _, ok := params.Table("runs"); !ok {
			return fmt.Errorf("runs must be a table, got %T", runs)
		}
	}
	t.base = params
	t.current = t.forRun(t.run)
	return nil
}

func (t *TableProperties) Update(run uint32) bool {
	if t.hasRun && run == t.run {
		return false
	}
	first := !t.hasRun
	t.run = run
	t.hasRun = true
	next := t.forRun(run)
	changed := first || len(next) != len(t.current)
	if !changed {
		for k, v := range next {
			if fmt.Sprint(t.current[k]) != fmt.Sprint(v) {
				changed = true
				break
			}
		}
	}
	t.current = next
	return changed
}

// Params returns the parameters in effect for the current run.
func (t *TableProperties) Params() ParameterSet {
	return t.current
}

func (t *TableProperties) forRun(run uint32) ParameterSet {
	out := ParameterSet{}
	for k, v := range t.base {
		if k != "runs" {
			out[k] = v
		}
	}
	runs, ok := t.base.Table("runs")
	if !ok {
		return out
	}
	override, ok := runs.Table(fmt.Sprint(run))
	if !ok {
		return out
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
