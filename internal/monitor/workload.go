package monitor

import (
	"time"
)

// WorkloadConfig parameterizes one detection workload. The fire,
// occupancy, tailgating and no-access workloads are the same engine
// with different class filters, thresholds and cooldowns.
type WorkloadConfig struct {
	Kind                WorkloadKind
	TargetClasses       []string
	ConfidenceThreshold float32
	CooldownDuration    time.Duration
	TickInterval        time.Duration
	AggregationMode     AggregationMode
	// AlertsEnabled routes results through the debouncer; aggregation
	// runs either way
	AlertsEnabled bool
	// MaxReadFailures consecutive read failures drop a camera from the
	// session (default 3)
	MaxReadFailures int
	// OpenTimeout and ReadTimeout bound source calls so a dead camera
	// cannot stall a tick
	OpenTimeout time.Duration
	ReadTimeout time.Duration
}

const (
	defaultMaxReadFailures = 3
	defaultOpenTimeout     = 10 * time.Second
	defaultReadTimeout     = 5 * time.Second
)

// withDefaults fills in zero-value knobs
func (c WorkloadConfig) withDefaults() WorkloadConfig {
	if c.MaxReadFailures <= 0 {
		c.MaxReadFailures = defaultMaxReadFailures
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = defaultOpenTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = defaultReadTimeout
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 250 * time.Millisecond
	}
	return c
}

// CountOfInterest returns the number of findings matching the
// workload's target classes at or above its confidence threshold
func (c WorkloadConfig) CountOfInterest(findings []Detection) int {
	count := 0
	for _, f := range findings {
		if f.Confidence < c.ConfidenceThreshold {
			continue
		}
		for _, class := range c.TargetClasses {
			if f.Class == class {
				count++
				break
			}
		}
	}
	return count
}

// DefaultWorkloads returns the built-in workload configurations
func DefaultWorkloads() map[WorkloadKind]WorkloadConfig {
	return map[WorkloadKind]WorkloadConfig{
		WorkloadFire: {
			Kind:                WorkloadFire,
			TargetClasses:       []string{"fire", "smoke"},
			ConfidenceThreshold: 0.8,
			CooldownDuration:    10 * time.Second,
			TickInterval:        100 * time.Millisecond,
			AggregationMode:     AggregateCombined,
			AlertsEnabled:       true,
		},
		WorkloadOccupancy: {
			Kind:                WorkloadOccupancy,
			TargetClasses:       []string{"person"},
			ConfidenceThreshold: 0.5,
			TickInterval:        100 * time.Millisecond,
			AggregationMode:     AggregatePerCamera,
			AlertsEnabled:       false,
		},
		WorkloadTailgating: {
			Kind:                WorkloadTailgating,
			TargetClasses:       []string{"person"},
			ConfidenceThreshold: 0.5,
			CooldownDuration:    60 * time.Second,
			TickInterval:        250 * time.Millisecond,
			AggregationMode:     AggregatePerCamera,
			AlertsEnabled:       true,
		},
		WorkloadNoAccess: {
			Kind:                WorkloadNoAccess,
			TargetClasses:       []string{"person"},
			ConfidenceThreshold: 0.5,
			CooldownDuration:    300 * time.Second,
			TickInterval:        250 * time.Millisecond,
			AggregationMode:     AggregatePerCamera,
			AlertsEnabled:       true,
		},
	}
}
