package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"agesignal/internal/model"
)

type InsufficientPolicy string

const (
	PolicyHoldLast    InsufficientPolicy = "hold_last"
	PolicyResetLowest InsufficientPolicy = "reset_lowest"
)

type Config struct {
	LogLevel    string            `json:"log_level" yaml:"log_level"`
	Ingest      IngestConfig      `json:"ingest" yaml:"ingest"`
	Signal      SignalConfig      `json:"signal" yaml:"signal"`
	Sources     SourcesConfig     `json:"sources" yaml:"sources"`
	API         APIConfig         `json:"api" yaml:"api"`
	Storage     StorageConfig     `json:"storage" yaml:"storage"`
	Publish     PublishConfig     `json:"publish" yaml:"publish"`
	Metrics     MetricsConfig     `json:"metrics" yaml:"metrics"`
	Transitions TransitionsConfig `json:"transitions" yaml:"transitions"`
}

type IngestConfig struct {
	ChannelBuffer int             `json:"channel_buffer" yaml:"channel_buffer"`
	REST          RESTConfig      `json:"rest" yaml:"rest"`
	UDP           UDPConfig       `json:"udp" yaml:"udp"`
	TCPStream     TCPStreamConfig `json:"tcp_stream" yaml:"tcp_stream"`
	FileTail      FileTailConfig  `json:"file_tail" yaml:"file_tail"`
	Kafka         KafkaConfig     `json:"kafka" yaml:"kafka"`
	MQTT          MQTTConfig      `json:"mqtt" yaml:"mqtt"`
	Parser        ParserConfig    `json:"parser" yaml:"parser"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type UDPConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type TCPStreamConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type FileTailConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	StartAtEnd bool     `json:"start_at_end" yaml:"start_at_end"`
	Files      []string `json:"files" yaml:"files"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type MQTTConfig struct {
	Enabled   bool          `json:"enabled" yaml:"enabled"`
	Addr      string        `json:"addr" yaml:"addr"`
	Topic     string        `json:"topic" yaml:"topic"`
	ClientID  string        `json:"client_id" yaml:"client_id"`
	QoS       byte          `json:"qos" yaml:"qos"`
	KeepAlive time.Duration `json:"keep_alive" yaml:"keep_alive"`
}

type ParserConfig struct {
	Timezone      string `json:"timezone" yaml:"timezone"`
	DefaultSource string `json:"default_source" yaml:"default_source"`
}

type SignalConfig struct {
	ConfidenceThreshold  float64            `json:"confidence_threshold" yaml:"confidence_threshold"`
	Window               time.Duration      `json:"window" yaml:"window"`
	SamplingInterval     time.Duration      `json:"sampling_interval" yaml:"sampling_interval"`
	MinCoverageRatio     float64            `json:"min_coverage_ratio" yaml:"min_coverage_ratio"`
	MaxSamples           int                `json:"max_samples" yaml:"max_samples"`
	Categories           []model.Category   `json:"categories" yaml:"categories"`
	Dwell                time.Duration      `json:"dwell" yaml:"dwell"`
	ReleaseDwell         time.Duration      `json:"release_dwell" yaml:"release_dwell"`
	InsufficientPolicy   InsufficientPolicy `json:"insufficient_policy" yaml:"insufficient_policy"`
	PerSlot              bool               `json:"per_slot" yaml:"per_slot"`
	DedupeWindow         time.Duration      `json:"dedupe_window" yaml:"dedupe_window"`
	MaxClockSkew         time.Duration      `json:"max_clock_skew" yaml:"max_clock_skew"`
	MaxFutureSkew        time.Duration      `json:"max_future_skew" yaml:"max_future_skew"`
	CoverageWarnInterval time.Duration      `json:"coverage_warn_interval" yaml:"coverage_warn_interval"`
	SubjectIdleTTL       time.Duration      `json:"subject_idle_ttl" yaml:"subject_idle_ttl"`
}

type SourcesConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Allow   []string `json:"allow" yaml:"allow"`
	Deny    []string `json:"deny" yaml:"deny"`
}

type APIConfig struct {
	Enabled      bool          `json:"enabled" yaml:"enabled"`
	Addr         string        `json:"addr" yaml:"addr"`
	PushInterval time.Duration `json:"push_interval" yaml:"push_interval"`
}

type StorageConfig struct {
	Enabled          bool          `json:"enabled" yaml:"enabled"`
	Driver           string        `json:"driver" yaml:"driver"`
	DSN              string        `json:"dsn" yaml:"dsn"`
	SnapshotInterval time.Duration `json:"snapshot_interval" yaml:"snapshot_interval"`
}

type PublishConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
}

type MetricsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

type TransitionsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

func DefaultCategories() []model.Category {
	return []model.Category{
		{Name: "normal", Color: "white"},
		{Name: "warning", Color: "yellow", Threshold: 30},
		{Name: "alert", Color: "red", Threshold: 40},
	}
}

func DefaultSignal() SignalConfig {
	return SignalConfig{
		ConfidenceThreshold:  0.6,
		Window:               3 * time.Second,
		SamplingInterval:     250 * time.Millisecond,
		MinCoverageRatio:     0.6,
		Categories:           DefaultCategories(),
		InsufficientPolicy:   PolicyHoldLast,
		DedupeWindow:         1 * time.Second,
		MaxClockSkew:         2 * time.Second,
		MaxFutureSkew:        2 * time.Second,
		CoverageWarnInterval: 10 * time.Second,
		SubjectIdleTTL:       5 * time.Minute,
	}
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Ingest: IngestConfig{
			ChannelBuffer: 10000,
			REST:          RESTConfig{Enabled: true, Addr: ":8080"},
			UDP:           UDPConfig{Enabled: false, Addr: ":5514"},
			TCPStream:     TCPStreamConfig{Enabled: false, Addr: ":9000"},
			FileTail:      FileTailConfig{Enabled: false, StartAtEnd: true},
			Kafka:         KafkaConfig{Enabled: false},
			MQTT:          MQTTConfig{Enabled: false, ClientID: "agesignal", QoS: 1, KeepAlive: 30 * time.Second},
			Parser:        ParserConfig{Timezone: "UTC", DefaultSource: "default"},
		},
		Signal:      DefaultSignal(),
		API:         APIConfig{Enabled: true, Addr: ":8081", PushInterval: 100 * time.Millisecond},
		Storage:     StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:agesignal.db?_pragma=busy_timeout(5000)", SnapshotInterval: 5 * time.Second},
		Publish:     PublishConfig{Enabled: false, Topic: "agesignal.transitions"},
		Metrics:     MetricsConfig{StoreLimit: 5000},
		Transitions: TransitionsConfig{StoreLimit: 1000},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return Parse(content)
}

// Parse decodes JSON or YAML on top of DefaultConfig, then applies defaults
// and validation.
func Parse(content []byte) (*Config, error) {
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	// Decoding into a non-empty slice merges element fields; start empty and
	// let applyDefaults fill categories the file leaves out.
	cfg.Signal.Categories = nil
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if len(cfg.Signal.Categories) == 0 {
		cfg.Signal.Categories = DefaultCategories()
	}
	if cfg.Signal.InsufficientPolicy == "" {
		cfg.Signal.InsufficientPolicy = PolicyHoldLast
	}
	if cfg.Metrics.StoreLimit <= 0 {
		cfg.Metrics.StoreLimit = 5000
	}
	if cfg.Transitions.StoreLimit <= 0 {
		cfg.Transitions.StoreLimit = 1000
	}
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = 10000
	}
	if cfg.Ingest.Parser.Timezone == "" {
		cfg.Ingest.Parser.Timezone = "UTC"
	}
	if cfg.Ingest.Parser.DefaultSource == "" {
		cfg.Ingest.Parser.DefaultSource = "default"
	}
	if cfg.Ingest.MQTT.KeepAlive <= 0 {
		cfg.Ingest.MQTT.KeepAlive = 30 * time.Second
	}
	if cfg.API.PushInterval <= 0 {
		cfg.API.PushInterval = 100 * time.Millisecond
	}
	if cfg.Storage.SnapshotInterval <= 0 {
		cfg.Storage.SnapshotInterval = 5 * time.Second
	}
}

func Validate(cfg *Config) error {
	if err := ValidateSignal(cfg.Signal); err != nil {
		return err
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.UDP.Enabled && cfg.Ingest.UDP.Addr == "" {
		return errors.New("ingest.udp.addr required when ingest.udp.enabled is true")
	}
	if cfg.Ingest.TCPStream.Enabled && cfg.Ingest.TCPStream.Addr == "" {
		return errors.New("ingest.tcp_stream.addr required when ingest.tcp_stream.enabled is true")
	}
	if cfg.Ingest.FileTail.Enabled && len(cfg.Ingest.FileTail.Files) == 0 {
		return errors.New("ingest.file_tail.files required when ingest.file_tail.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Ingest.MQTT.Enabled {
		if cfg.Ingest.MQTT.Addr == "" || cfg.Ingest.MQTT.Topic == "" {
			return errors.New("ingest.mqtt requires addr and topic")
		}
		if cfg.Ingest.MQTT.QoS > 2 {
			return fmt.Errorf("ingest.mqtt.qos must be 0, 1 or 2, got %d", cfg.Ingest.MQTT.QoS)
		}
	}
	if cfg.Publish.Enabled && (len(cfg.Publish.Brokers) == 0 || cfg.Publish.Topic == "") {
		return errors.New("publish requires brokers and topic")
	}
	return nil
}

func ValidateSignal(s SignalConfig) error {
	if s.ConfidenceThreshold < 0 || s.ConfidenceThreshold > 1 || math.IsNaN(s.ConfidenceThreshold) {
		return fmt.Errorf("signal.confidence_threshold must be within [0,1], got %v", s.ConfidenceThreshold)
	}
	if s.Window <= 0 {
		return fmt.Errorf("signal.window must be > 0, got %s", s.Window)
	}
	if s.SamplingInterval <= 0 {
		return fmt.Errorf("signal.sampling_interval must be > 0, got %s", s.SamplingInterval)
	}
	if !(s.MinCoverageRatio > 0 && s.MinCoverageRatio <= 1) {
		return fmt.Errorf("signal.min_coverage_ratio must be within (0,1], got %v", s.MinCoverageRatio)
	}
	if s.MaxSamples < 0 {
		return errors.New("signal.max_samples must be >= 0")
	}
	if s.Dwell < 0 || s.ReleaseDwell < 0 {
		return errors.New("signal.dwell and signal.release_dwell must be >= 0")
	}
	switch s.InsufficientPolicy {
	case PolicyHoldLast, PolicyResetLowest:
	default:
		return fmt.Errorf("signal.insufficient_policy must be %q or %q, got %q", PolicyHoldLast, PolicyResetLowest, s.InsufficientPolicy)
	}
	if len(s.Categories) == 0 {
		return errors.New("signal.categories must not be empty")
	}
	for i, c := range s.Categories {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("signal.categories[%d] has no name", i)
		}
		if i == 0 {
			continue
		}
		if math.IsNaN(c.Threshold) || math.IsInf(c.Threshold, 0) {
			return fmt.Errorf("signal.categories[%d] threshold must be finite", i)
		}
		if i > 1 && c.Threshold <= s.Categories[i-1].Threshold {
			return fmt.Errorf("signal.categories thresholds must be strictly increasing: %s (%v) <= %s (%v)",
				c.Name, c.Threshold, s.Categories[i-1].Name, s.Categories[i-1].Threshold)
		}
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager wraps an in-memory config. Reload and Watch are no-ops
// for a manager without a path.
func NewStaticManager(cfg *Config) *Manager {
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := Validate(cfg); err != nil {
		return err
	}
	if m.path != "" {
		if err := Save(m.path, cfg); err != nil {
			return err
		}
		if info, err := os.Stat(m.path); err == nil {
			m.modTime = info.ModTime()
		}
	}
	m.cfg.Store(cfg)
	return nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
