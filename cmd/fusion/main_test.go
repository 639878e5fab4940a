package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/VanDung-dev/HieraChain-Fusion/engine"
	"github.com/VanDung-dev/HieraChain-Fusion/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli"
)

func runApp(t *testing.T, args ...string) error {
	t.Helper()
	exitCode := -1
	prev := cli.OsExiter
	cli.OsExiter = func(code int) { exitCode = code }
	t.Cleanup(func() { cli.OsExiter = prev })

	err := newApp().Run(append([]string{"fusion"}, args...))
	if exitCode > 0 && err == nil {
		t.Fatalf("exit code %d without error", exitCode)
	}
	return err
}

func TestGenerateThenTest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, runApp(t, "generate", "--seed", "42", "--samples", "60", "-o", path))

	f, err := os.Open(path)
	require.NoError(t, err)
	ds, err := sim.ReadCSV(f)
	require.NoError(t, f.Close())
	require.NoError(t, err)
	assert.Len(t, ds.Rows, 60)
	assert.Equal(t, []engine.SensorID{0, 1, 2}, ds.Sensors)

	require.NoError(t, runApp(t, "test", "-i", path, "--json"))
}

func TestTestCommandRendersTable(t *testing.T) {
	require.NoError(t, runApp(t, "test", "--seed", "42", "--steps"))
}

func TestSweepCommand(t *testing.T) {
	require.NoError(t, runApp(t, "sweep", "--seed", "1", "--runs", "4", "--workers", "2"))
}

func TestMissingConfigFallsBackToDefaults(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.toml")
	require.NoError(t, runApp(t, "--config", missing, "test", "--seed", "42", "--json"))
}

func TestInvalidConfigIsRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[Fusion]\nSensors = [0]\n"), 0o600))

	err := runApp(t, "--config", path, "test", "--seed", "42")
	assert.ErrorIs(t, err, engine.ErrInsufficientSensors)
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "-", formatIDs(nil))
	assert.Equal(t, "0,2", formatIDs([]engine.SensorID{0, 2}))
	assert.Equal(t, "1.000 2.500", formatValues([]float64{1, 2.5}))
}
