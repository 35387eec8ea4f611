package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"energy-maps/algo"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCalibrateLocateClick(t *testing.T) {
	dir := t.TempDir()
	pointsPath := filepath.Join(dir, "points.json")
	require.NoError(t, os.WriteFile(pointsPath, []byte(`[
  {"cartesian": {"x": 0, "y": 0}, "gps": {"latitude": 40, "longitude": -80}},
  {"cartesian": {"x": 500, "y": 250}, "gps": {"latitude": 41, "longitude": -79}}
]`), 0o644))

	out, err := execute(t, "calibrate", "--points", pointsPath, "--width", "1000", "--height", "500", "--angle", "0")
	require.NoError(t, err)

	var rf resultFile
	require.NoError(t, json.Unmarshal([]byte(out), &rf))
	assert.InDelta(t, 40, rf.Result.Origin.Latitude, 1e-9)
	assert.InDelta(t, -79, rf.Result.Opposite.Longitude, 1e-9)

	resultPath := filepath.Join(dir, "result.json")
	require.NoError(t, os.WriteFile(resultPath, []byte(out), 0o644))

	out, err = execute(t, "locate", "--result", resultPath, "--gps", "40.5,-79.5")
	require.NoError(t, err)
	var located struct {
		X, Y   float64
		Inside bool
	}
	require.NoError(t, json.Unmarshal([]byte(out), &located))
	assert.InDelta(t, 250, located.X, 1e-6)
	assert.InDelta(t, 125, located.Y, 1e-6)
	assert.True(t, located.Inside)

	out, err = execute(t, "click", "--result", resultPath, "--x", "500", "--y", "250")
	require.NoError(t, err)
	var clicked struct {
		GPS    string `json:"gps"`
		Inside bool   `json:"inside"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &clicked))
	gps, err := algo.ParseGPS(clicked.GPS)
	require.NoError(t, err)
	assert.InDelta(t, 41, gps.Latitude, 1e-9)
	assert.InDelta(t, -79, gps.Longitude, 1e-9)
	assert.True(t, clicked.Inside)

	_, err = execute(t, "locate", "--result", resultPath, "--gps", "north")
	assert.Error(t, err)
}

func TestCalibrateNeedsTwoPoints(t *testing.T) {
	pointsPath := filepath.Join(t.TempDir(), "points.json")
	require.NoError(t, os.WriteFile(pointsPath, []byte(`[
  {"cartesian": {"x": 0, "y": 0}, "gps": {"latitude": 40, "longitude": -80}}
]`), 0o644))

	_, err := execute(t, "calibrate", "--points", pointsPath, "--width", "1000", "--height", "500")
	assert.Error(t, err)
}
