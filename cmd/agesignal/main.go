package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"agesignal/internal/api"
	"agesignal/internal/config"
	"agesignal/internal/engine"
	"agesignal/internal/ingest"
	"agesignal/internal/logging"
	"agesignal/internal/metrics"
	"agesignal/internal/model"
	"agesignal/internal/publish"
	"agesignal/internal/storage"
	"agesignal/internal/transitions"
)

var version = "dev"

var (
	configPath  = flag.String("config", "agesignal.yaml", "Path to the YAML or JSON config file")
	showVersion = flag.Bool("version", false, "Print the version and exit")
	watchEvery  = flag.Duration("watch", 3*time.Second, "Config file poll interval")
)

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version)
		return
	}
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "agesignal:", err)
		os.Exit(1)
	}
}

func run() error {
	path := config.ResolvePath(*configPath)
	cfgManager, err := loadConfig(path)
	if err != nil {
		return err
	}
	cfg := cfgManager.Get()
	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("starting agesignal", "version", version, "config", cfgManager.Path())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	snapshots := metrics.NewStore(cfg.Metrics.StoreLimit)
	history := transitions.NewStore(cfg.Transitions.StoreLimit)
	collector := metrics.NewCollector()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if store != nil {
		initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := store.Init(initCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("storage init: %w", err)
		}
		defer store.Close()
		warmHistory(ctx, store, history, cfg.Transitions.StoreLimit, logger)
		logger.Info("storage enabled", "driver", cfg.Storage.Driver)
	}

	eng := engine.NewEngine(cfg, logger, snapshots, history, store)
	eng.SetCollector(collector)
	if cfg.Publish.Enabled {
		pub, err := publish.NewKafkaPublisher(cfg.Publish)
		if err != nil {
			return fmt.Errorf("publisher: %w", err)
		}
		defer pub.Close()
		eng.SetPublisher(pub)
		logger.Info("transition publishing enabled", "brokers", cfg.Publish.Brokers, "topic", cfg.Publish.Topic)
	}

	detections := make(chan model.Detection, cfg.Ingest.ChannelBuffer)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		eng.Run(ctx, detections)
	}()

	if cfgManager.Path() != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cfgManager.Watch(*watchEvery, func(next *config.Config) {
				logger.Info("config reloaded", "path", cfgManager.Path())
				eng.UpdateConfig(next)
			}, func(err error) {
				logger.Warn("config reload failed", "err", err)
			}, ctx.Done())
		}()
	}

	ingest.StartREST(ctx, cfgManager, detections, logger)
	ingest.StartTCPStream(ctx, cfgManager, detections, logger)
	ingest.StartUDP(ctx, cfgManager, detections, logger)
	ingest.StartFileTail(ctx, cfgManager, detections, logger)
	ingest.StartKafka(ctx, cfgManager, detections, logger)
	ingest.StartMQTT(ctx, cfgManager, detections, logger)

	api.Start(ctx, api.NewServer(cfgManager, snapshots, history, collector, eng, logger, version))

	<-ctx.Done()
	logger.Info("shutting down")
	wg.Wait()
	return nil
}

// loadConfig falls back to built-in defaults when the file does not exist,
// so a bare binary starts with REST ingest and the API enabled.
func loadConfig(path string) (*config.Manager, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.NewStaticManager(config.DefaultConfig()), nil
	}
	m, err := config.NewManager(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return m, nil
}

func warmHistory(ctx context.Context, store storage.Store, history *transitions.Store, limit int, logger *slog.Logger) {
	qctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	recent, err := store.RecentTransitions(qctx, limit)
	if err != nil {
		logger.Warn("load transition history failed", "err", err)
		return
	}
	for _, tr := range recent {
		history.Add(tr)
	}
	logger.Info("transition history loaded", "count", len(recent))
}
