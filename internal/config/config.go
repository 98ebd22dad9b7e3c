package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultAPIURL     = "http://localhost:5000"
	DefaultChunkSize  = 100 * 1024
	DefaultThrottle   = 20 * time.Millisecond
	DefaultAckTimeout = 30 * time.Second
	DefaultGrace      = 2 * time.Second
	DefaultStepDelay  = 10 * time.Millisecond
)

// Config holds client settings persisted in ~/.crawjud/config.yaml.
type Config struct {
	APIURL  string        `yaml:"api_url"`
	Logging LoggingConfig `yaml:"logging"`
	Upload  UploadConfig  `yaml:"upload"`
	MinIO   MinIOConfig   `yaml:"minio"`
	Store   StoreConfig   `yaml:"store"`
	Notify  NotifyConfig  `yaml:"notify,omitempty"`

	// Dir is where the data store, sqlite history and config live. Not persisted.
	Dir string `yaml:"-"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file,omitempty"`
}

type UploadConfig struct {
	Transport  string        `yaml:"transport,omitempty"` // "realtime" (default) or "minio"
	ChunkSize  int           `yaml:"chunk_size,omitempty"`
	Throttle   time.Duration `yaml:"throttle,omitempty"`
	AckTimeout time.Duration `yaml:"ack_timeout,omitempty"`
	MaxRetries int           `yaml:"max_retries,omitempty"`
	Grace      time.Duration `yaml:"grace,omitempty"`
	StepDelay  time.Duration `yaml:"step_delay,omitempty"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint,omitempty"`
	Port      int    `yaml:"port,omitempty"`
	UseSSL    bool   `yaml:"use_ssl,omitempty"`
	AccessKey string `yaml:"access_key,omitempty"`
	SecretKey string `yaml:"secret_key,omitempty"`
	Bucket    string `yaml:"bucket,omitempty"`
}

// NotifyConfig enables push notifications through an ntfy topic.
type NotifyConfig struct {
	NtfyTopic string `yaml:"ntfy_topic,omitempty"`
	NtfyToken string `yaml:"ntfy_token,omitempty"`
	Events    string `yaml:"events,omitempty"` // comma-separated: upload, finished, stopped
}

type StoreConfig struct {
	Backend string `yaml:"backend,omitempty"` // "keyring" (default) or "passphrase"
}

// Default returns a config with every field set to its default.
func Default() *Config {
	return &Config{
		APIURL:  DefaultAPIURL,
		Logging: LoggingConfig{Level: "info"},
		Upload: UploadConfig{
			Transport:  "realtime",
			ChunkSize:  DefaultChunkSize,
			Throttle:   DefaultThrottle,
			AckTimeout: DefaultAckTimeout,
			Grace:      DefaultGrace,
			StepDelay:  DefaultStepDelay,
		},
		Store: StoreConfig{Backend: "keyring"},
	}
}

// Load reads config.yaml from dir. A missing file yields the defaults.
// Environment variables override file values.
func Load(dir string) (*Config, error) {
	cfg := Default()
	cfg.Dir = dir

	data, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.fillDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Save writes the config to dir/config.yaml.
func Save(cfg *Config) error {
	if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(filepath.Join(cfg.Dir, "config.yaml"), data, 0600)
}

func (c *Config) applyEnv() {
	if v := os.Getenv("CRAWJUD_API_URL"); v != "" {
		c.APIURL = v
	}
	if v := os.Getenv("CRAWJUD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("CRAWJUD_NTFY_TOPIC"); v != "" {
		c.Notify.NtfyTopic = v
	}
	if v := os.Getenv("CRAWJUD_NTFY_TOKEN"); v != "" {
		c.Notify.NtfyToken = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		c.MinIO.Endpoint = v
	}
	if v := os.Getenv("MINIO_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.MinIO.Port = p
		}
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		c.MinIO.AccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		c.MinIO.SecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET_NAME"); v != "" {
		c.MinIO.Bucket = v
	}
}

func (c *Config) fillDefaults() {
	d := Default()
	if c.APIURL == "" {
		c.APIURL = d.APIURL
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.Upload.Transport == "" {
		c.Upload.Transport = d.Upload.Transport
	}
	if c.Upload.ChunkSize == 0 {
		c.Upload.ChunkSize = d.Upload.ChunkSize
	}
	if c.Upload.Throttle == 0 {
		c.Upload.Throttle = d.Upload.Throttle
	}
	if c.Upload.AckTimeout == 0 {
		c.Upload.AckTimeout = d.Upload.AckTimeout
	}
	if c.Upload.Grace == 0 {
		c.Upload.Grace = d.Upload.Grace
	}
	if c.Upload.StepDelay == 0 {
		c.Upload.StepDelay = d.Upload.StepDelay
	}
	if c.Store.Backend == "" {
		c.Store.Backend = d.Store.Backend
	}
	if c.Notify.NtfyTopic != "" && c.Notify.Events == "" {
		c.Notify.Events = "finished,stopped"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("api_url must be an http(s) URL, got %q", c.APIURL)
	}
	if c.Upload.ChunkSize < 0 {
		return fmt.Errorf("upload.chunk_size must be positive")
	}
	if c.Upload.MaxRetries < 0 {
		return fmt.Errorf("upload.max_retries must not be negative")
	}
	switch c.Upload.Transport {
	case "realtime":
	case "minio":
		if c.MinIO.Endpoint == "" || c.MinIO.Bucket == "" {
			return fmt.Errorf("minio.endpoint and minio.bucket are required when upload.transport is minio")
		}
	default:
		return fmt.Errorf("upload.transport must be realtime or minio, got %q", c.Upload.Transport)
	}
	switch strings.ToLower(c.Store.Backend) {
	case "keyring", "passphrase":
	default:
		return fmt.Errorf("store.backend must be keyring or passphrase, got %q", c.Store.Backend)
	}
	return nil
}
