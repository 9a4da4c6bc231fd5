package ingest

import (
	"context"
	"log/slog"
	"time"

	"agesignal/internal/config"
	"agesignal/internal/model"
	"agesignal/internal/normalize"
)

func SendNonBlocking(ctx context.Context, out chan<- model.Detection, det model.Detection, logger *slog.Logger) bool {
	select {
	case out <- det:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("detection channel full, dropping detection", "source", det.Source, "timestamp", det.Timestamp)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// processLine parses one line, which may expand to several detections when
// it carries a frame, and forwards each one tagged with the transport name.
// It returns how many detections were sent.
func processLine(ctx context.Context, cfg *config.Manager, parser *Parser, out chan<- model.Detection, logger *slog.Logger, line, via string) int {
	batch, err := parser.ParseLine(line)
	if err != nil {
		if logger != nil {
			logger.Debug("unparseable line", "via", via, "err", err)
		}
		return 0
	}
	sent := 0
	for _, fields := range batch {
		det, err := normalize.Normalize(fields, cfg.Get())
		if err != nil {
			if logger != nil {
				logger.Warn("normalize error", "via", via, "err", err)
			}
			continue
		}
		det.Via = via
		if SendNonBlocking(ctx, out, det, logger) {
			sent++
		}
	}
	return sent
}
