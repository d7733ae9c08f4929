// Package detinfo declares the detector information services. Each service
// owns a provider that does the actual modeling; providers are supplied by
// the experiment and are opaque here.
package detinfo

import (
	"errors"
	"fmt"
)

// ErrMultipleSchedules is returned when a service that supports a single
// schedule is registered in a job with several.
var ErrMultipleSchedules = errors.New("service supports a single schedule")

// Provider is configured from a parameter set.
type Provider interface {
	Configure(params ParameterSet) error
}

type DetectorClocks interface {
	Provider
}

type DetectorProperties interface {
	Provider
}

// LArProperties are the liquid argon properties. Update refreshes them for
// run and reports whether anything changed.
type LArProperties interface {
	Provider
	Update(run uint32) bool
}

type DetectorClocksService interface {
	Reconfigure(params ParameterSet) error
	Provider() DetectorClocks
}

type DetectorPropertiesService interface {
	Reconfigure(params ParameterSet) error
	Provider() DetectorProperties
}

type LArPropertiesService interface {
	Reconfigure(params ParameterSet) error
	Provider() LArProperties
}

// EnsureOnlyOneSchedule rejects registering service in a job running more
// than one schedule.
func EnsureOnlyOneSchedule(service string, schedules int) error {
	if schedules > 1 {
		return fmt.Errorf("%s with %d schedules: %w", service, schedules, ErrMultipleSchedules)
	}
	return nil
}
