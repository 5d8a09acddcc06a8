package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Database DatabaseConfig
	Monitor  MonitorConfig
	Dispatch DispatchConfig
	Hub      HubConfig
	Source   SourceConfig
	HTTPAddr string
	DBPath   string
	LogLevel string
	Channels map[string]*ChannelConfig
}

type DatabaseConfig struct {
	URL string
}

type MonitorConfig struct {
	DetectInterval   time.Duration
	ReminderInterval time.Duration
	SweepInterval    time.Duration
	IngestInterval   time.Duration
	DetectCron       string
}

type DispatchConfig struct {
	Workers    int
	MaxRetries int
	Backoff    time.Duration
}

type HubConfig struct {
	HeartbeatTimeout time.Duration
}

type SourceConfig struct {
	BaseURL string
	States  []string
	DelayMS int
}

// ChannelConfig describes one outbound delivery channel, loaded from
// config/channels/*.yaml.
type ChannelConfig struct {
	ID         string  `yaml:"id"`
	Kind       string  `yaml:"kind"` // email, sms, push
	Endpoint   string  `yaml:"endpoint"`
	AuthToken  string  `yaml:"auth_token"`
	RatePerSec float64 `yaml:"rate_per_sec"`
	Burst      int     `yaml:"burst"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Database: DatabaseConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		Monitor: MonitorConfig{
			DetectInterval:   getEnvDuration("DETECT_INTERVAL", 15*time.Minute),
			ReminderInterval: getEnvDuration("REMINDER_INTERVAL", 30*time.Minute),
			SweepInterval:    getEnvDuration("SWEEP_INTERVAL", 1*time.Minute),
			IngestInterval:   getEnvDuration("INGEST_INTERVAL", 1*time.Hour),
			DetectCron:       os.Getenv("DETECT_CRON"),
		},
		Dispatch: DispatchConfig{
			Workers:    getEnvInt("DISPATCH_WORKERS", 4),
			MaxRetries: getEnvInt("DISPATCH_MAX_RETRIES", 3),
			Backoff:    getEnvDuration("DISPATCH_BACKOFF", 2*time.Second),
		},
		Hub: HubConfig{
			HeartbeatTimeout: getEnvDuration("HUB_HEARTBEAT_TIMEOUT", 60*time.Second),
		},
		Source: SourceConfig{
			BaseURL: getEnv("HUD_BASE_URL", "https://www.hudhomestore.gov"),
			DelayMS: getEnvInt("INGEST_DELAY_MS", 500),
		},
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		DBPath:   getEnv("DB_PATH", "monitor.db"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Channels: make(map[string]*ChannelConfig),
	}

	if states := os.Getenv("INGEST_STATES"); states != "" {
		cfg.Source.States = splitCSV(states)
	}

	if err := cfg.loadChannelConfigs(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadChannelConfigs() error {
	configDir := "config/channels"
	entries, err := os.ReadDir(configDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		path := filepath.Join(configDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var ch ChannelConfig
		if err := yaml.Unmarshal(data, &ch); err != nil {
			return err
		}

		c.Channels[ch.ID] = &ch
	}

	return nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
