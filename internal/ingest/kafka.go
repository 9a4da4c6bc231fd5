package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"agesignal/internal/config"
	"agesignal/internal/model"
)

// StartKafka consumes detections from a topic as part of a consumer group.
// Each message value is handled like one line of text and may hold a frame.
func StartKafka(ctx context.Context, cfg *config.Manager, out chan<- model.Detection, logger *slog.Logger) {
	current := cfg.Get().Ingest.Kafka
	if !current.Enabled {
		if logger != nil {
			logger.Info("kafka ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("kafka ingest enabled", "brokers", current.Brokers, "topic", current.Topic, "group_id", current.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  current.Brokers,
		Topic:    current.Topic,
		GroupID:  current.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  250 * time.Millisecond,
	})
	go consumeKafka(ctx, reader, cfg, out, logger)
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

func consumeKafka(ctx context.Context, reader messageReader, cfg *config.Manager, out chan<- model.Detection, logger *slog.Logger) {
	defer reader.Close()
	parser := NewParser()
	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			if logger != nil {
				logger.Warn("kafka read error", "err", err)
			}
			if !BackoffSleep(ctx, time.Second) {
				return
			}
			continue
		}
		processLine(ctx, cfg, parser, out, logger, string(m.Value), "kafka")
	}
}
