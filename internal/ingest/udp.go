package ingest

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	"agesignal/internal/config"
	"agesignal/internal/model"
)

// StartUDP reads detections from datagrams. One datagram may hold several
// newline-separated lines.
func StartUDP(ctx context.Context, cfg *config.Manager, out chan<- model.Detection, logger *slog.Logger) net.PacketConn {
	current := cfg.Get().Ingest.UDP
	if !current.Enabled {
		if logger != nil {
			logger.Info("udp ingest disabled")
		}
		return nil
	}
	udpAddr, err := net.ResolveUDPAddr("udp", current.Addr)
	if err != nil {
		if logger != nil {
			logger.Error("udp resolve error", "err", err)
		}
		return nil
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		if logger != nil {
			logger.Error("udp listen error", "err", err)
		}
		return nil
	}
	if logger != nil {
		logger.Info("udp ingest enabled", "addr", conn.LocalAddr().String())
	}
	go listenUDP(ctx, conn, cfg, NewParser(), out, logger)
	return conn
}

func listenUDP(ctx context.Context, conn *net.UDPConn, cfg *config.Manager, parser *Parser, out chan<- model.Detection, logger *slog.Logger) {
	defer conn.Close()
	buf := make([]byte, 8192)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_ = conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if logger != nil {
				logger.Warn("udp read error", "err", err)
			}
			continue
		}
		for _, line := range strings.Split(string(buf[:n]), "\n") {
			processLine(ctx, cfg, parser, out, logger, line, "udp")
		}
	}
}
