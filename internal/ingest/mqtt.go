package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/paho"

	"agesignal/internal/config"
	"agesignal/internal/model"
)

const (
	mqttMinBackoff = 500 * time.Millisecond
	mqttMaxBackoff = 30 * time.Second
)

// StartMQTT subscribes to a detector topic and keeps the session alive,
// reconnecting with exponential backoff when the broker goes away.
func StartMQTT(ctx context.Context, cfg *config.Manager, out chan<- model.Detection, logger *slog.Logger) {
	current := cfg.Get().Ingest.MQTT
	if !current.Enabled {
		if logger != nil {
			logger.Info("mqtt ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("mqtt ingest enabled", "addr", current.Addr, "topic", current.Topic, "qos", current.QoS)
	}
	go runMQTT(ctx, current, cfg, out, logger)
}

func runMQTT(ctx context.Context, current config.MQTTConfig, cfg *config.Manager, out chan<- model.Detection, logger *slog.Logger) {
	parser := NewParser()
	var parseMu sync.Mutex
	onMessage := func(payload []byte) {
		parseMu.Lock()
		defer parseMu.Unlock()
		for _, line := range strings.Split(string(payload), "\n") {
			processLine(ctx, cfg, parser, out, logger, line, "mqtt")
		}
	}

	backoff := mqttMinBackoff
	for ctx.Err() == nil {
		lost := make(chan error, 1)
		client, err := connectMQTT(ctx, current, onMessage, lost)
		if err != nil {
			if logger != nil {
				logger.Warn("mqtt connect failed", "addr", current.Addr, "err", err, "retry_in", backoff.String())
			}
			if !BackoffSleep(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, mqttMaxBackoff)
			continue
		}
		backoff = mqttMinBackoff
		if logger != nil {
			logger.Info("mqtt subscribed", "addr", current.Addr, "topic", current.Topic)
		}
		select {
		case <-ctx.Done():
			_ = client.Disconnect(&paho.Disconnect{ReasonCode: 0})
			return
		case err := <-lost:
			if logger != nil {
				logger.Warn("mqtt connection lost", "err", err)
			}
		}
		if !BackoffSleep(ctx, backoff) {
			return
		}
	}
}

func connectMQTT(ctx context.Context, current config.MQTTConfig, onMessage func([]byte), lost chan<- error) (*paho.Client, error) {
	var d net.Dialer
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, err := d.DialContext(dialCtx, "tcp", current.Addr)
	if err != nil {
		return nil, err
	}
	signal := func(err error) {
		select {
		case lost <- err:
		default:
		}
	}
	client := paho.NewClient(paho.ClientConfig{
		ClientID: current.ClientID,
		Conn:     conn,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			func(pr paho.PublishReceived) (bool, error) {
				onMessage(pr.Packet.Payload)
				return true, nil
			},
		},
		OnClientError: signal,
		OnServerDisconnect: func(d *paho.Disconnect) {
			signal(fmt.Errorf("server disconnect, reason code %d", d.ReasonCode))
		},
	})

	keepAlive := uint16(current.KeepAlive / time.Second)
	if _, err := client.Connect(dialCtx, &paho.Connect{
		ClientID:   current.ClientID,
		KeepAlive:  keepAlive,
		CleanStart: true,
	}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("connect: %w", err)
	}
	if _, err := client.Subscribe(dialCtx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: current.Topic, QoS: current.QoS}},
	}); err != nil {
		_ = client.Disconnect(&paho.Disconnect{ReasonCode: 0})
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	return client, nil
}
