// Command agesignal-replay runs a recorded detection log through the engine
// on a synthetic clock and prints every committed transition as JSON.
package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"agesignal/internal/config"
	"agesignal/internal/engine"
	"agesignal/internal/ingest"
	"agesignal/internal/logging"
	"agesignal/internal/metrics"
	"agesignal/internal/model"
	"agesignal/internal/normalize"
	"agesignal/internal/timeutil"
	"agesignal/internal/transitions"
)

var (
	configPath = flag.String("config", "", "Optional config file; defaults are used when empty")
	logLevel   = flag.String("log-level", "warn", "Log level for engine diagnostics on stderr")
	tail       = flag.Duration("tail", 0, "How long to keep ticking after the last detection (default: one window)")
)

func main() {
	flag.Parse()
	if err := run(flag.Args(), os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "agesignal-replay:", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	// Recorded timestamps are authoritative during replay.
	cfg.Signal.MaxClockSkew = 0
	cfg.Signal.MaxFutureSkew = 0

	var in io.Reader = os.Stdin
	if len(args) > 0 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	dets, skipped, err := readDetections(in, cfg)
	if err != nil {
		return err
	}
	if len(dets) == 0 {
		return errors.New("no timestamped detections in input")
	}

	logger := logging.New(os.Stderr, *logLevel)
	if skipped > 0 {
		logger.Warn("lines skipped", "count", skipped)
	}
	after := *tail
	if after <= 0 {
		after = cfg.Signal.Window
	}
	enc := json.NewEncoder(out)
	for _, tr := range replay(cfg, dets, after, logger) {
		if err := enc.Encode(tr); err != nil {
			return err
		}
	}
	return nil
}

func readDetections(r io.Reader, cfg *config.Config) ([]model.Detection, int, error) {
	parser := ingest.NewParser()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 8192), 1024*1024)
	var dets []model.Detection
	skipped := 0
	for scanner.Scan() {
		batch, err := parser.ParseLine(scanner.Text())
		if err != nil {
			skipped++
			continue
		}
		for _, fields := range batch {
			det, err := normalize.Normalize(fields, cfg)
			if err != nil || det.Timestamp.IsZero() {
				skipped++
				continue
			}
			det.Via = "replay"
			dets = append(dets, det)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, skipped, err
	}
	sort.SliceStable(dets, func(i, j int) bool { return dets[i].Timestamp.Before(dets[j].Timestamp) })
	return dets, skipped, nil
}

// replay feeds dets in timestamp order, ticking the engine at every sampling
// interval boundary in between, then keeps ticking for after.
func replay(cfg *config.Config, dets []model.Detection, after time.Duration, logger interface {
	Warn(msg string, args ...any)
}) []model.Transition {
	interval := cfg.Signal.SamplingInterval
	start := dets[0].Timestamp
	clock := timeutil.NewMockClock(start)
	eng := engine.NewEngine(cfg, nil, metrics.NewStore(cfg.Metrics.StoreLimit), transitions.NewStore(cfg.Transitions.StoreLimit), nil)
	eng.SetClock(clock)

	var out []model.Transition
	next := start.Add(interval)
	for _, det := range dets {
		for !det.Timestamp.Before(next) {
			clock.Set(next)
			out = append(out, eng.Tick(next)...)
			next = next.Add(interval)
		}
		clock.Set(det.Timestamp)
		if !eng.Ingest(det) && logger != nil {
			logger.Warn("detection dropped during replay", "source", det.Source, "timestamp", det.Timestamp)
		}
	}
	end := dets[len(dets)-1].Timestamp.Add(after)
	for !next.After(end) {
		clock.Set(next)
		out = append(out, eng.Tick(next)...)
		next = next.Add(interval)
	}
	return out
}
