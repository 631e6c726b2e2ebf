package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	DefaultRetentionDays        = 3
	DefaultMaxCategorySize      = 50
	DefaultBatchSize            = 10
	DefaultBatchDelaySeconds    = 2.0
	DefaultPerItemDelaySeconds  = 0.5
	DefaultNotifyThreshold      = 5
	DefaultErrorNotifyThreshold = 2
	DefaultSchedulerHours       = 6
	DefaultRequestTimeout       = 10
	DefaultHost                 = "127.0.0.1"
	DefaultPort                 = 18620
	DefaultAdminKeyword         = "admin"
)

type Config struct {
	Platform  PlatformConfig  `json:"platform"`
	Retention RetentionConfig `json:"retention"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Notify    NotifyConfig    `json:"notify"`
	Server    ServerConfig    `json:"server"`
}

type PlatformConfig struct {
	BaseURL        string `json:"baseUrl"`
	Token          string `json:"token"`
	RequestTimeout int    `json:"requestTimeout,omitempty"` // seconds
}

type RetentionConfig struct {
	RetentionDays       int            `json:"retentionDays"`
	MaxCategorySize     int            `json:"maxCategorySize"`
	BatchSize           int            `json:"batchSize"`
	BatchDelaySeconds   float64        `json:"batchDelaySeconds"`
	PerItemDelaySeconds float64        `json:"perItemDelaySeconds"`
	Categories          []string       `json:"categories"`
	CategoryMaxSize     map[string]int `json:"categoryMaxSize,omitempty"`
}

type SchedulerConfig struct {
	Enabled       bool `json:"enabled"`
	IntervalHours int  `json:"intervalHours"`
}

type NotifyConfig struct {
	NotifyThreshold      int            `json:"notifyThreshold"`
	ErrorNotifyThreshold int            `json:"errorNotifyThreshold"`
	AdminKeyword         string         `json:"adminKeyword,omitempty"`
	DefaultSinkID        string         `json:"defaultSinkId,omitempty"`
	Telegram             TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	ChatID  int64  `json:"chatId"`
}

type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func DefaultConfig() *Config {
	return &Config{
		Platform: PlatformConfig{
			RequestTimeout: DefaultRequestTimeout,
		},
		Retention: RetentionConfig{
			RetentionDays:       DefaultRetentionDays,
			MaxCategorySize:     DefaultMaxCategorySize,
			BatchSize:           DefaultBatchSize,
			BatchDelaySeconds:   DefaultBatchDelaySeconds,
			PerItemDelaySeconds: DefaultPerItemDelaySeconds,
			Categories:          []string{"gameday"},
		},
		Scheduler: SchedulerConfig{
			Enabled:       true,
			IntervalHours: DefaultSchedulerHours,
		},
		Notify: NotifyConfig{
			NotifyThreshold:      DefaultNotifyThreshold,
			ErrorNotifyThreshold: DefaultErrorNotifyThreshold,
			AdminKeyword:         DefaultAdminKeyword,
		},
		Server: ServerConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".clubkeeper")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	return LoadConfigFrom(ConfigPath())
}

func LoadConfigFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if url := os.Getenv("CLUBKEEPER_BASE_URL"); url != "" {
		cfg.Platform.BaseURL = url
	}
	if token := os.Getenv("CLUBKEEPER_TOKEN"); token != "" {
		cfg.Platform.Token = token
	}
	if days := os.Getenv("CLUBKEEPER_RETENTION_DAYS"); days != "" {
		if parsed, err := strconv.Atoi(days); err == nil {
			cfg.Retention.RetentionDays = parsed
		}
	}
	if size := os.Getenv("CLUBKEEPER_MAX_CATEGORY_SIZE"); size != "" {
		if parsed, err := strconv.Atoi(size); err == nil {
			cfg.Retention.MaxCategorySize = parsed
		}
	}
	if hours := os.Getenv("CLUBKEEPER_SCHEDULER_HOURS"); hours != "" {
		if parsed, err := strconv.Atoi(hours); err == nil {
			cfg.Scheduler.IntervalHours = parsed
		}
	}
	if token := os.Getenv("CLUBKEEPER_TELEGRAM_TOKEN"); token != "" {
		cfg.Notify.Telegram.Token = token
	}
	if chat := os.Getenv("CLUBKEEPER_TELEGRAM_CHAT_ID"); chat != "" {
		if parsed, err := strconv.ParseInt(chat, 10, 64); err == nil {
			cfg.Notify.Telegram.ChatID = parsed
		}
	}

	applyFloors(cfg)

	return cfg, nil
}

// applyFloors backfills zero values left by partial config files.
func applyFloors(cfg *Config) {
	def := DefaultConfig()
	if cfg.Platform.RequestTimeout <= 0 {
		cfg.Platform.RequestTimeout = def.Platform.RequestTimeout
	}
	if cfg.Retention.RetentionDays <= 0 {
		cfg.Retention.RetentionDays = def.Retention.RetentionDays
	}
	if cfg.Retention.MaxCategorySize <= 0 {
		cfg.Retention.MaxCategorySize = def.Retention.MaxCategorySize
	}
	if cfg.Retention.BatchSize <= 0 {
		cfg.Retention.BatchSize = def.Retention.BatchSize
	}
	if cfg.Retention.BatchDelaySeconds < 0 {
		cfg.Retention.BatchDelaySeconds = def.Retention.BatchDelaySeconds
	}
	if cfg.Retention.PerItemDelaySeconds < 0 {
		cfg.Retention.PerItemDelaySeconds = def.Retention.PerItemDelaySeconds
	}
	if len(cfg.Retention.Categories) == 0 {
		cfg.Retention.Categories = def.Retention.Categories
	}
	if cfg.Scheduler.IntervalHours <= 0 {
		cfg.Scheduler.IntervalHours = def.Scheduler.IntervalHours
	}
	if cfg.Notify.NotifyThreshold <= 0 {
		cfg.Notify.NotifyThreshold = def.Notify.NotifyThreshold
	}
	if cfg.Notify.ErrorNotifyThreshold <= 0 {
		cfg.Notify.ErrorNotifyThreshold = def.Notify.ErrorNotifyThreshold
	}
	if cfg.Notify.AdminKeyword == "" {
		cfg.Notify.AdminKeyword = def.Notify.AdminKeyword
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = def.Server.Host
	}
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = def.Server.Port
	}
}

// MaxSizeFor returns the capacity ceiling for a category, honoring
// per-category overrides.
func (c *RetentionConfig) MaxSizeFor(category string) int {
	if size, ok := c.CategoryMaxSize[category]; ok && size > 0 {
		return size
	}
	return c.MaxCategorySize
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
