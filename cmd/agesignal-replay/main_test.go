package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agesignal/internal/config"
	"agesignal/internal/model"
)

func recording(start time.Time, ages ...float64) string {
	var sb strings.Builder
	for i, age := range ages {
		ts := start.Add(time.Duration(i) * 100 * time.Millisecond)
		fmt.Fprintf(&sb, `{"ts":%d,"camera":"door","age":%v,"confidence":0.9}`+"\n", ts.UnixMilli(), age)
	}
	return sb.String()
}

func TestReplayCommitsAndReleases(t *testing.T) {
	start := time.Date(2026, 2, 23, 12, 0, 0, 0, time.UTC)
	ages := make([]float64, 0, 40)
	for range 20 {
		ages = append(ages, 45)
	}
	input := recording(start, ages...) + "not a detection\n"

	cfg := config.DefaultConfig()
	cfg.Signal.ReleaseDwell = 0
	dets, skipped, err := readDetections(strings.NewReader(input), cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	require.Len(t, dets, 20)

	trs := replay(cfg, dets, cfg.Signal.Window, nil)
	require.NotEmpty(t, trs)
	assert.Equal(t, "alert", trs[0].To)
	assert.Equal(t, "door", trs[0].Subject)
	// hold_last keeps the alert after the recording ends.
	assert.Len(t, trs, 1)
}

func TestReplayResetLowest(t *testing.T) {
	start := time.Date(2026, 2, 23, 12, 0, 0, 0, time.UTC)
	ages := make([]float64, 20)
	for i := range ages {
		ages[i] = 45
	}
	cfg := config.DefaultConfig()
	cfg.Signal.InsufficientPolicy = config.PolicyResetLowest
	dets, _, err := readDetections(strings.NewReader(recording(start, ages...)), cfg)
	require.NoError(t, err)

	trs := replay(cfg, dets, 5*time.Second, nil)
	require.Len(t, trs, 2)
	assert.Equal(t, model.ReasonThreshold, trs[0].Reason)
	assert.Equal(t, model.ReasonInsufficientEvidence, trs[1].Reason)
	assert.Equal(t, "normal", trs[1].To)
}

func TestRunWritesJSONLines(t *testing.T) {
	start := time.Date(2026, 2, 23, 12, 0, 0, 0, time.UTC)
	ages := make([]float64, 12)
	for i := range ages {
		ages[i] = 33
	}
	path := filepath.Join(t.TempDir(), "rec.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(recording(start, ages...)), 0o644))

	var out bytes.Buffer
	require.NoError(t, run([]string{path}, &out))
	var tr model.Transition
	require.NoError(t, json.NewDecoder(&out).Decode(&tr))
	assert.Equal(t, "warning", tr.To)
}
