package engine

import (
	"fmt"
	"math"
)

// Config contains the fusion parameters for one sensor group.
type Config struct {
	// Sensors is the configured sensor set; N = len(Sensors).
	Sensors []SensorID

	// Tolerance is the allowed |value - prior estimate| before a sample counts as a violation.
	Tolerance float64

	// FaultThreshold is the number of consecutive violations that flags a sensor.
	FaultThreshold int

	// RecoveryThreshold is the number of consecutive in-tolerance samples that unflags it.
	RecoveryThreshold int

	// MaxFaulty is f, the number of simultaneously faulty sensors to tolerate.
	MaxFaulty int

	// WindowSize is the history ring capacity.
	WindowSize int

	// MaxSafeSlope bounds the estimate slope still reported as stable.
	MaxSafeSlope float64
}

// DefaultConfig returns the triple-redundant configuration used by the demos.
func DefaultConfig() Config {
	return Config{
		Sensors:           []SensorID{0, 1, 2},
		Tolerance:         1.0,
		FaultThreshold:    3,
		RecoveryThreshold: 3,
		MaxFaulty:         1,
		WindowSize:        64,
		MaxSafeSlope:      0.05,
	}
}

// Quorum returns 2f+1.
func (c Config) Quorum() int {
	return 2*c.MaxFaulty + 1
}

// Validate checks ranges and the 2f+1 sensor requirement.
func (c Config) Validate() error {
	if math.IsNaN(c.Tolerance) || math.IsInf(c.Tolerance, 0) || c.Tolerance <= 0 {
		return fmt.Errorf("%w: tolerance must be a positive finite number, got %v", ErrInvalidConfig, c.Tolerance)
	}
	if c.FaultThreshold < 1 {
		return fmt.Errorf("%w: fault threshold must be >= 1, got %d", ErrInvalidConfig, c.FaultThreshold)
	}
	if c.RecoveryThreshold < 1 {
		return fmt.Errorf("%w: recovery threshold must be >= 1, got %d", ErrInvalidConfig, c.RecoveryThreshold)
	}
	if c.MaxFaulty < 0 {
		return fmt.Errorf("%w: max faulty must be >= 0, got %d", ErrInvalidConfig, c.MaxFaulty)
	}
	if c.WindowSize < 1 {
		return fmt.Errorf("%w: window size must be >= 1, got %d", ErrInvalidConfig, c.WindowSize)
	}
	if math.IsNaN(c.MaxSafeSlope) || math.IsInf(c.MaxSafeSlope, 0) || c.MaxSafeSlope < 0 {
		return fmt.Errorf("%w: max safe slope must be a non-negative finite number, got %v", ErrInvalidConfig, c.MaxSafeSlope)
	}

	seen := make(map[SensorID]bool, len(c.Sensors))
	for _, id := range c.Sensors {
		if seen[id] {
			return fmt.Errorf("%w: sensor %d configured twice", ErrInvalidConfig, id)
		}
		seen[id] = true
	}

	if len(c.Sensors) < c.Quorum() {
		return fmt.Errorf("%w: %d sensors configured, need %d to tolerate %d faulty",
			ErrInsufficientSensors, len(c.Sensors), c.Quorum(), c.MaxFaulty)
	}
	return nil
}

// clone returns a copy whose sensor list is sorted and not shared with the caller.
func (c Config) clone() Config {
	out := c
	out.Sensors = cloneIDs(c.Sensors)
	sortIDs(out.Sensors)
	return out
}
