package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"agesignal/internal/config"
	"agesignal/internal/metrics"
	"agesignal/internal/model"
	"agesignal/internal/transitions"
)

type EngineControl interface {
	Reset()
	UpdateConfig(cfg *config.Config)
}

type Server struct {
	cfg       *config.Manager
	snapshots *metrics.Store
	history   *transitions.Store
	collector *metrics.Collector
	engine    EngineControl
	logger    *slog.Logger
	version   string
	upgrader  websocket.Upgrader
}

type statusResponse struct {
	Status     string        `json:"status"`
	Time       string        `json:"time"`
	Version    string        `json:"version"`
	ConfigPath string        `json:"config_path"`
	Subjects   int           `json:"subjects"`
	Ingest     ingestStatus  `json:"ingest"`
	API        apiStatus     `json:"api"`
	Storage    storageStatus `json:"storage"`
	Publish    bool          `json:"publish"`
	Signal     signalStatus  `json:"signal"`
}

type ingestStatus struct {
	REST      bool `json:"rest"`
	UDP       bool `json:"udp"`
	TCPStream bool `json:"tcp_stream"`
	FileTail  bool `json:"file_tail"`
	Kafka     bool `json:"kafka"`
	MQTT      bool `json:"mqtt"`
}

type apiStatus struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

type storageStatus struct {
	Enabled bool   `json:"enabled"`
	Driver  string `json:"driver"`
}

type signalStatus struct {
	Window           string           `json:"window"`
	SamplingInterval string           `json:"sampling_interval"`
	Dwell            string           `json:"dwell"`
	Policy           string           `json:"insufficient_policy"`
	Categories       []model.Category `json:"categories"`
}

func NewServer(cfg *config.Manager, snapshots *metrics.Store, history *transitions.Store, collector *metrics.Collector, engine EngineControl, logger *slog.Logger, version string) *Server {
	return &Server{
		cfg:       cfg,
		snapshots: snapshots,
		history:   history,
		collector: collector,
		engine:    engine,
		logger:    logger,
		version:   version,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/state", s.handleState)
	mux.HandleFunc("/state/", s.handleState)
	mux.HandleFunc("/transitions", s.handleTransitions)
	mux.HandleFunc("/config/signal", s.handleSignal)
	mux.HandleFunc("/admin/reset", s.handleReset)
	mux.HandleFunc("/ws", s.handleWS)
	mux.Handle("/metrics", s.collector.Handler())
	return mux
}

func Start(ctx context.Context, srv *Server) *http.Server {
	if srv == nil || srv.cfg == nil {
		return nil
	}
	logger := srv.logger
	current := srv.cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	httpServer := &http.Server{
		Addr:              current.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Subjects:   s.snapshots.Len(),
		Ingest: ingestStatus{
			REST:      cfg.Ingest.REST.Enabled,
			UDP:       cfg.Ingest.UDP.Enabled,
			TCPStream: cfg.Ingest.TCPStream.Enabled,
			FileTail:  cfg.Ingest.FileTail.Enabled,
			Kafka:     cfg.Ingest.Kafka.Enabled,
			MQTT:      cfg.Ingest.MQTT.Enabled,
		},
		API:     apiStatus{Enabled: cfg.API.Enabled, Addr: cfg.API.Addr},
		Storage: storageStatus{Enabled: cfg.Storage.Enabled, Driver: cfg.Storage.Driver},
		Publish: cfg.Publish.Enabled,
		Signal: signalStatus{
			Window:           cfg.Signal.Window.String(),
			SamplingInterval: cfg.Signal.SamplingInterval.String(),
			Dwell:            cfg.Signal.Dwell.String(),
			Policy:           string(cfg.Signal.InsufficientPolicy),
			Categories:       cfg.Signal.Categories,
		},
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	subject := strings.TrimPrefix(r.URL.Path, "/state")
	subject = strings.TrimPrefix(subject, "/")
	if subject != "" {
		snap, ok := s.snapshots.Get(subject)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, snap)
		return
	}
	all := s.snapshots.GetAll()
	writeJSON(w, http.StatusOK, map[string]any{
		"snapshots": all,
		"count":     len(all),
	})
}

func (s *Server) handleTransitions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		limit = n
	}
	var list []model.Transition
	if sinceStr := q.Get("since"); sinceStr != "" {
		ts, err := time.Parse(time.RFC3339Nano, sinceStr)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = s.history.Since(ts)
		if subject := q.Get("subject"); subject != "" {
			list = slices.DeleteFunc(list, func(tr model.Transition) bool { return tr.Subject != subject })
		}
		if limit > 0 && len(list) > limit {
			list = list[len(list)-limit:]
		}
	} else {
		list = s.history.List(q.Get("subject"), limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transitions": list,
		"count":       len(list),
	})
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"signal": s.cfg.Get().Signal,
		})
	case http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		current := s.cfg.Get()
		signal := current.Signal
		// Categories are replaced wholesale, never merged element by element.
		signal.Categories = nil
		if err := json.Unmarshal(body, &signal); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if signal.Categories == nil {
			signal.Categories = slices.Clone(current.Signal.Categories)
		}
		if err := config.ValidateSignal(signal); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		next := *current
		next.Signal = signal
		if err := s.cfg.Update(&next); err != nil {
			if s.logger != nil {
				s.logger.Error("signal config update failed", "err", err)
			}
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if s.engine != nil {
			s.engine.UpdateConfig(&next)
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "signal": signal})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleReset returns every subject to the lowest category and clears the
// transition history.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.engine != nil {
		s.engine.Reset()
	}
	if s.snapshots != nil {
		s.snapshots.Clear()
	}
	if s.history != nil {
		s.history.Clear()
	}
	if s.logger != nil {
		s.logger.Info("state reset via api", "remote", r.RemoteAddr)
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.logger != nil {
			s.logger.Debug("websocket upgrade failed", "err", err)
		}
		return
	}
	defer conn.Close()

	// Clients never send anything meaningful; reading detects the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	interval := s.cfg.Get().API.PushInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last []model.Snapshot
	sent := false
	for {
		current := s.snapshots.GetAll()
		if !sent || !slices.Equal(current, last) {
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(map[string]any{"snapshots": current}); err != nil {
				return
			}
			last = current
			sent = true
		}
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case <-ticker.C:
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
