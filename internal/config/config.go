package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	customerrors "github.com/axellelanca/trailtrack/internal/errors"
	"github.com/axellelanca/trailtrack/internal/models"
)

// Config represents the main structure mapping the entire application configuration.
// This struct uses mapstructure tags to map YAML keys to Go struct fields.
type Config struct {
	// Service holds deployment-wide settings
	Service struct {
		Environment string `mapstructure:"environment"` // "production" switches to JSON logs
	} `mapstructure:"service"`

	// Server configuration section containing HTTP server settings
	Server struct {
		Port    int    `mapstructure:"port"`     // HTTP server port (default: 8080)
		BaseURL string `mapstructure:"base_url"` // Public base URL of this service
	} `mapstructure:"server"`

	// Storage selects the backing store used as the visitors' local storage
	Storage struct {
		Driver        string `mapstructure:"driver"`          // sqlite, redis or memory
		SQLitePath    string `mapstructure:"sqlite_path"`     // SQLite database file name
		RedisAddr     string `mapstructure:"redis_addr"`      // host:port of the Redis server
		RedisPassword string `mapstructure:"redis_password"`  // optional Redis password
		RedisTTLHours int    `mapstructure:"redis_ttl_hours"` // expiry of stored keys, 0 keeps them forever
	} `mapstructure:"storage"`

	// Tracking configures the attribution tracker
	Tracking struct {
		RefTag                string   `mapstructure:"ref_tag"`                 // fixed referral tag added to every tracking URL
		SessionTTLHours       int      `mapstructure:"session_ttl_hours"`       // max age of a restorable session
		ClickLogLimit         int      `mapstructure:"click_log_limit"`         // entries kept in the stored click log
		CommissionEndpoint    string   `mapstructure:"commission_endpoint"`     // URL receiving commission records
		CommissionBufferSize  int      `mapstructure:"commission_buffer_size"`  // size of the commission channel buffer
		CommissionWorkerCount int      `mapstructure:"commission_worker_count"` // number of goroutines posting commissions
		TrustedOrigins        []string `mapstructure:"trusted_origins"`         // origins allowed to post conversion messages
		IdleEvictionMinutes   int      `mapstructure:"idle_eviction_minutes"`   // unused trackers are saved and dropped after this long
	} `mapstructure:"tracking"`

	// Affiliate holds the link catalog registered in every new tracker
	Affiliate struct {
		Links []models.AffiliateLink `mapstructure:"links"`
	} `mapstructure:"affiliate"`

	// Analytics configures the GA4 event wrapper
	Analytics struct {
		MeasurementID string `mapstructure:"measurement_id"` // GA4 measurement id, empty disables GA4
		APISecret     string `mapstructure:"api_secret"`     // Measurement Protocol secret
		Endpoint      string `mapstructure:"endpoint"`       // Measurement Protocol base URL
		QueueLimit    int    `mapstructure:"queue_limit"`    // 0 keeps the pre-init queue unbounded
		BufferSize    int    `mapstructure:"buffer_size"`    // events waiting for the sender once ready
		Debug         bool   `mapstructure:"debug"`          // log every event
	} `mapstructure:"analytics"`

	// Monitor configuration for the SEO page watcher
	Monitor struct {
		IntervalMinutes int      `mapstructure:"interval_minutes"` // Interval in minutes between page checks
		Pages           []string `mapstructure:"pages"`            // Pages watched from startup
		RatePerSecond   float64  `mapstructure:"rate_per_second"`  // Fetch throttle
	} `mapstructure:"monitor"`

	// Audit configures the one-shot SEO audit
	Audit struct {
		VitalsWindowMS int `mapstructure:"vitals_window_ms"` // Core Web Vitals collection window
	} `mapstructure:"audit"`
}

const (
	defaultMonitorIntervalMinutes = 5
	defaultIdleEvictionMinutes    = 30
)

// SessionTTL returns the restorable session age as a duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Tracking.SessionTTLHours) * time.Hour
}

// TrackerIdleTimeout returns how long an unused tracker stays in memory.
func (c *Config) TrackerIdleTimeout() time.Duration {
	if c.Tracking.IdleEvictionMinutes <= 0 {
		return defaultIdleEvictionMinutes * time.Minute
	}
	return time.Duration(c.Tracking.IdleEvictionMinutes) * time.Minute
}

// MonitorInterval returns the page monitor tick interval. A non-positive
// setting falls back to the default.
func (c *Config) MonitorInterval() time.Duration {
	if c.Monitor.IntervalMinutes <= 0 {
		return defaultMonitorIntervalMinutes * time.Minute
	}
	return time.Duration(c.Monitor.IntervalMinutes) * time.Minute
}

// VitalsWindow returns the vitals sampling window.
func (c *Config) VitalsWindow() time.Duration {
	return time.Duration(c.Audit.VitalsWindowMS) * time.Millisecond
}

// SetDefaults registers every default value on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("service.environment", "development")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite_path", "trailtrack.db")
	v.SetDefault("storage.redis_addr", "127.0.0.1:6379")
	v.SetDefault("storage.redis_password", "")
	v.SetDefault("storage.redis_ttl_hours", 24*30)
	v.SetDefault("tracking.ref_tag", "rvtech")
	v.SetDefault("tracking.session_ttl_hours", 24)
	v.SetDefault("tracking.click_log_limit", 100)
	v.SetDefault("tracking.commission_endpoint", "http://localhost:8080/api/affiliate/commission")
	v.SetDefault("tracking.commission_buffer_size", 256)
	v.SetDefault("tracking.commission_worker_count", 2)
	v.SetDefault("tracking.trusted_origins", []string{})
	v.SetDefault("tracking.idle_eviction_minutes", defaultIdleEvictionMinutes)
	v.SetDefault("analytics.endpoint", "https://www.google-analytics.com")
	v.SetDefault("analytics.queue_limit", 0)
	v.SetDefault("analytics.buffer_size", 256)
	v.SetDefault("analytics.debug", false)
	v.SetDefault("monitor.interval_minutes", defaultMonitorIntervalMinutes)
	v.SetDefault("monitor.pages", []string{})
	v.SetDefault("monitor.rate_per_second", 2.0)
	v.SetDefault("audit.vitals_window_ms", 3000)
}

// Defaults returns a Config holding only the default values.
func Defaults() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// LoadConfig loads the application configuration using Viper.
// A .env file, when present, is loaded into the environment first so its
// values participate in the environment overrides.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment from .env")
	}

	v := viper.New()

	// "server.port" becomes "SERVER_PORT"
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.AddConfigPath("./configs")
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			log.Println("Config file not found, using default values")
		} else {
			return nil, customerrors.ErrConfigLoad{Path: v.ConfigFileUsed(), Reason: err.Error()}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	log.Printf("Configuration loaded: Server Port=%d, Storage=%s, Monitor Interval=%dmin, Pages=%d",
		cfg.Server.Port, cfg.Storage.Driver, cfg.Monitor.IntervalMinutes, len(cfg.Monitor.Pages))

	return &cfg, nil
}
