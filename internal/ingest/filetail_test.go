package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agesignal/internal/config"
	"agesignal/internal/model"
)

func TestFileTailFollowsAndReopens(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := filepath.Join(t.TempDir(), "detections.log")
	first := `{"camera":"porch","age":47,"confidence":0.9,"note":"line long enough to outgrow the next file"}` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(first), 0o644))

	cfg := config.DefaultConfig()
	cfg.Ingest.FileTail = config.FileTailConfig{Enabled: true, Files: []string{path}}
	out := make(chan model.Detection, 8)
	StartFileTail(ctx, config.NewStaticManager(cfg), out, nil)

	det := receive(t, out)
	assert.Equal(t, "porch", det.Source)
	assert.Equal(t, 47.0, det.Age)
	assert.Equal(t, "file", det.Via)

	// A line written in two pieces is delivered once, whole.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"camera":"porch","age":`)
	require.NoError(t, err)
	require.NoError(t, f.Sync())
	_, err = f.WriteString(`52,"confidence":0.8}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	det = receive(t, out)
	assert.Equal(t, 52.0, det.Age)

	// Truncation is detected and the new content is read from the start.
	require.NoError(t, os.WriteFile(path, []byte(`{"camera":"porch","age":19,"confidence":0.7}`+"\n"), 0o644))
	det = receive(t, out)
	assert.Equal(t, 19.0, det.Age)
	assert.Equal(t, 0.7, det.Confidence)
}

func TestFileTailStartAtEndSkipsHistory(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := filepath.Join(t.TempDir(), "detections.log")
	require.NoError(t, os.WriteFile(path, []byte("porch age=90 confidence=0.9\n"), 0o644))

	cfg := config.DefaultConfig()
	cfg.Ingest.FileTail = config.FileTailConfig{Enabled: true, StartAtEnd: true, Files: []string{path}}
	out := make(chan model.Detection, 8)
	StartFileTail(ctx, config.NewStaticManager(cfg), out, nil)

	// Let the tailer open and seek before appending.
	time.Sleep(300 * time.Millisecond)
	assert.Empty(t, out, "history before start is skipped")

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("porch age=33 confidence=0.9\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	det := receive(t, out)
	assert.Equal(t, 33.0, det.Age)
}
