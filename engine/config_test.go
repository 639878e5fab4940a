package engine

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	assert.Equal(t, 3, DefaultConfig().Quorum())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"zero tolerance", func(c *Config) { c.Tolerance = 0 }, ErrInvalidConfig},
		{"nan tolerance", func(c *Config) { c.Tolerance = math.NaN() }, ErrInvalidConfig},
		{"fault threshold", func(c *Config) { c.FaultThreshold = 0 }, ErrInvalidConfig},
		{"recovery threshold", func(c *Config) { c.RecoveryThreshold = 0 }, ErrInvalidConfig},
		{"negative f", func(c *Config) { c.MaxFaulty = -1 }, ErrInvalidConfig},
		{"window", func(c *Config) { c.WindowSize = 0 }, ErrInvalidConfig},
		{"slope", func(c *Config) { c.MaxSafeSlope = -1 }, ErrInvalidConfig},
		{"duplicate sensor", func(c *Config) { c.Sensors = []SensorID{0, 1, 1} }, ErrInvalidConfig},
		{"two sensors f one", func(c *Config) { c.Sensors = []SensorID{0, 1} }, ErrInsufficientSensors},
		{"four sensors f two", func(c *Config) { c.Sensors = []SensorID{0, 1, 2, 3}; c.MaxFaulty = 2 }, ErrInsufficientSensors},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), err.Error())
		})
	}
}

func TestConfigFZeroAcceptsSingleSensor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sensors = []SensorID{4}
	cfg.MaxFaulty = 0
	assert.NoError(t, cfg.Validate())
}

func TestConfigCloneSortsAndCopies(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sensors = []SensorID{2, 0, 1}
	cp := cfg.clone()
	assert.Equal(t, []SensorID{0, 1, 2}, cp.Sensors)
	cp.Sensors[0] = 9
	assert.Equal(t, SensorID(2), cfg.Sensors[0])
}

func TestResultStatusText(t *testing.T) {
	for _, s := range []ResultStatus{StatusTrusted, StatusDegraded, StatusNoQuorum} {
		text, err := s.MarshalText()
		require.NoError(t, err)
		var back ResultStatus
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, s, back)
	}
	_, err := ParseResultStatus("bogus")
	assert.Error(t, err)
}
