// Package publish forwards committed transitions to downstream consumers.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"

	"agesignal/internal/config"
	"agesignal/internal/model"
)

var ErrNoBrokers = errors.New("publish: no kafka brokers configured")

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes each transition as a JSON message keyed by subject,
// so one subject's transitions land on one partition in commit order.
type KafkaPublisher struct {
	w messageWriter
}

func NewKafkaPublisher(cfg config.PublishConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrNoBrokers
	}
	return &KafkaPublisher{w: &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, tr model.Transition) error {
	msg, err := encode(tr)
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, msg)
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

func encode(tr model.Transition) (kafka.Message, error) {
	value, err := json.Marshal(tr)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(tr.Subject),
		Value: value,
		Time:  tr.Timestamp,
		Headers: []kafka.Header{
			{Key: "reason", Value: []byte(tr.Reason)},
		},
	}, nil
}
