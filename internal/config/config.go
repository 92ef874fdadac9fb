package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"firewatch/internal/model"
)

type Config struct {
	LogLevel  string          `json:"log_level" yaml:"log_level"`
	Ingest    IngestConfig    `json:"ingest" yaml:"ingest"`
	Detection DetectionConfig `json:"detection" yaml:"detection"`
	Fusion    FusionConfig    `json:"fusion" yaml:"fusion"`
	Transport TransportConfig `json:"transport" yaml:"transport"`
	API       APIConfig       `json:"api" yaml:"api"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Events    EventsConfig    `json:"events" yaml:"events"`
	History   HistoryConfig   `json:"history" yaml:"history"`
	Notify    NotifyConfig    `json:"notify" yaml:"notify"`
}

type IngestConfig struct {
	ChannelBuffer int             `json:"channel_buffer" yaml:"channel_buffer"`
	REST          RESTConfig      `json:"rest" yaml:"rest"`
	Kafka         KafkaConfig     `json:"kafka" yaml:"kafka"`
	MQTT          MQTTConfig      `json:"mqtt" yaml:"mqtt"`
	TCPStream     TCPStreamConfig `json:"tcp_stream" yaml:"tcp_stream"`
	Parser        ParserConfig    `json:"parser" yaml:"parser"`
}

type RESTConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	GroupID string   `json:"group_id" yaml:"group_id"`
}

type MQTTConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Broker   string `json:"broker" yaml:"broker"`
	Topic    string `json:"topic" yaml:"topic"`
	ClientID string `json:"client_id" yaml:"client_id"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	QoS      byte   `json:"qos" yaml:"qos"`
}

type TCPStreamConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type ParserConfig struct {
	Timezone        string `json:"timezone" yaml:"timezone"`
	DefaultDeviceID string `json:"default_device_id" yaml:"default_device_id"`
}

type DetectionConfig struct {
	Thresholds       model.ThresholdSet `json:"thresholds" yaml:"thresholds"`
	ConfirmThreshold float64            `json:"confirm_threshold" yaml:"confirm_threshold"`
	CaptureTimeout   time.Duration      `json:"capture_timeout" yaml:"capture_timeout"`
	MaxClockSkew     time.Duration      `json:"max_clock_skew" yaml:"max_clock_skew"`
	MaxFutureSkew    time.Duration      `json:"max_future_skew" yaml:"max_future_skew"`
}

// FusionConfig carries the scoring constants. The shipped defaults are the
// tuned values the detection pipeline was built with; they live in
// configuration so deployments can recalibrate without a rebuild.
type FusionConfig struct {
	VisualWeight     float64          `json:"visual_weight" yaml:"visual_weight"`
	EmbeddingWeight  float64          `json:"embedding_weight" yaml:"embedding_weight"`
	ClassBoostWeight float64          `json:"class_boost_weight" yaml:"class_boost_weight"`
	ClassBoostScale  float64          `json:"class_boost_scale" yaml:"class_boost_scale"`
	TemperatureBoost float64          `json:"temperature_boost" yaml:"temperature_boost"`
	LightBoost       float64          `json:"light_boost" yaml:"light_boost"`
	SmokeBoost       float64          `json:"smoke_boost" yaml:"smoke_boost"`
	MaxSensorBoost   float64          `json:"max_sensor_boost" yaml:"max_sensor_boost"`
	MaxConfidence    float64          `json:"max_confidence" yaml:"max_confidence"`
	FireThreshold    float64          `json:"fire_threshold" yaml:"fire_threshold"`
	ColorRatioFloor  float64          `json:"color_ratio_floor" yaml:"color_ratio_floor"`
	Classifier       ClassifierConfig `json:"classifier" yaml:"classifier"`
}

type ClassifierConfig struct {
	Enabled bool          `json:"enabled" yaml:"enabled"`
	URL     string        `json:"url" yaml:"url"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

type TransportConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
	Path    string `json:"path" yaml:"path"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Driver   string `json:"driver" yaml:"driver"`
	DSN      string `json:"dsn" yaml:"dsn"`
	ImageDir string `json:"image_dir" yaml:"image_dir"`
}

type EventsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

type HistoryConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

type NotifyConfig struct {
	WebhookEnabled bool          `json:"webhook_enabled" yaml:"webhook_enabled"`
	WebhookURL     string        `json:"webhook_url" yaml:"webhook_url"`
	Cooldown       time.Duration `json:"cooldown" yaml:"cooldown"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Ingest: IngestConfig{
			ChannelBuffer: 10000,
			REST:          RESTConfig{Enabled: true, Addr: ":8080"},
			Kafka:         KafkaConfig{Enabled: false},
			MQTT:          MQTTConfig{Enabled: false, Topic: "firewatch/sensors", ClientID: "firewatchd", QoS: 1},
			TCPStream:     TCPStreamConfig{Enabled: false, Addr: ":9000"},
			Parser:        ParserConfig{Timezone: "UTC", DefaultDeviceID: "arduino-1"},
		},
		Detection: DetectionConfig{
			Thresholds: model.ThresholdSet{
				Temperature: 35,
				Light:       800,
				Smoke:       500,
				Humidity:    30,
			},
			ConfirmThreshold: 0.7,
			CaptureTimeout:   30 * time.Second,
			MaxClockSkew:     2 * time.Second,
			MaxFutureSkew:    2 * time.Second,
		},
		Fusion: FusionConfig{
			VisualWeight:     0.5,
			EmbeddingWeight:  0.3,
			ClassBoostWeight: 0.2,
			ClassBoostScale:  0.3,
			TemperatureBoost: 0.10,
			LightBoost:       0.05,
			SmokeBoost:       0.15,
			MaxSensorBoost:   0.30,
			MaxConfidence:    0.95,
			FireThreshold:    0.5,
			ColorRatioFloor:  0.1,
			Classifier:       ClassifierConfig{Enabled: false, Timeout: 30 * time.Second},
		},
		Transport: TransportConfig{Enabled: true, Addr: ":8082", Path: "/ws"},
		API:       APIConfig{Enabled: true, Addr: ":8081"},
		Storage:   StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:firewatch.db?_pragma=busy_timeout(5000)", ImageDir: "captures"},
		Events:    EventsConfig{StoreLimit: 1000},
		History:   HistoryConfig{StoreLimit: 50},
		Notify:    NotifyConfig{WebhookEnabled: false, Cooldown: 30 * time.Second},
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
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
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
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = 10000
	}
	if cfg.Ingest.Parser.Timezone == "" {
		cfg.Ingest.Parser.Timezone = "UTC"
	}
	if cfg.Ingest.Parser.DefaultDeviceID == "" {
		cfg.Ingest.Parser.DefaultDeviceID = "arduino-1"
	}
	if cfg.Detection.ConfirmThreshold <= 0 {
		cfg.Detection.ConfirmThreshold = 0.7
	}
	if cfg.Detection.CaptureTimeout <= 0 {
		cfg.Detection.CaptureTimeout = 30 * time.Second
	}
	if cfg.Fusion.MaxConfidence <= 0 {
		cfg.Fusion.MaxConfidence = 0.95
	}
	if cfg.Fusion.FireThreshold <= 0 {
		cfg.Fusion.FireThreshold = 0.5
	}
	if cfg.Fusion.ColorRatioFloor <= 0 {
		cfg.Fusion.ColorRatioFloor = 0.1
	}
	if cfg.Fusion.Classifier.Timeout <= 0 {
		cfg.Fusion.Classifier.Timeout = 30 * time.Second
	}
	if cfg.Events.StoreLimit <= 0 {
		cfg.Events.StoreLimit = 1000
	}
	if cfg.History.StoreLimit <= 0 {
		cfg.History.StoreLimit = 50
	}
	if cfg.Transport.Path == "" {
		cfg.Transport.Path = "/ws"
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Ingest.REST.Enabled && cfg.Ingest.REST.Addr == "" {
		return errors.New("ingest.rest.addr required when ingest.rest.enabled is true")
	}
	if cfg.Ingest.TCPStream.Enabled && cfg.Ingest.TCPStream.Addr == "" {
		return errors.New("ingest.tcp_stream.addr required when ingest.tcp_stream.enabled is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Ingest.MQTT.Enabled {
		if cfg.Ingest.MQTT.Broker == "" || cfg.Ingest.MQTT.Topic == "" {
			return errors.New("ingest.mqtt requires broker and topic")
		}
	}
	if cfg.Transport.Enabled && cfg.Transport.Addr == "" {
		return errors.New("transport.addr required when transport.enabled is true")
	}
	if cfg.Detection.Thresholds.Temperature <= 0 {
		return errors.New("detection.thresholds.temperature must be > 0")
	}
	if cfg.Detection.Thresholds.Smoke <= 0 {
		return errors.New("detection.thresholds.smoke must be > 0")
	}
	if cfg.Detection.ConfirmThreshold <= 0 || cfg.Detection.ConfirmThreshold >= 1 {
		return fmt.Errorf("detection.confirm_threshold must be in (0,1), got %v", cfg.Detection.ConfirmThreshold)
	}
	if cfg.Fusion.Classifier.Enabled && cfg.Fusion.Classifier.URL == "" {
		return errors.New("fusion.classifier.url required when fusion.classifier.enabled is true")
	}
	if cfg.Notify.WebhookEnabled && cfg.Notify.WebhookURL == "" {
		return errors.New("notify.webhook_url required when notify.webhook_enabled is true")
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

// NewStaticManager wraps an in-memory config with no backing file. Used by
// tests and by deployments that run entirely on defaults.
func NewStaticManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
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
