package config

import (
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"sync/atomic"
)

// Config is the full process configuration, loaded once at startup and
// re-read on every filesystem change via WatchConfig.
type Config struct {
	Env       string    `mapstructure:"env"`
	Server    Server    `mapstructure:"server"`
	Database  Database  `mapstructure:"database"`
	Logger    Logger    `mapstructure:"logger"`
	JWT       JWT       `mapstructure:"jwt"`
	RateLimit RateLimit `mapstructure:"rate_limit"`
	Security  Security  `mapstructure:"security"`
	Runner    Runner    `mapstructure:"runner"`
	AWS       AWS       `mapstructure:"aws"`

	// Destinations is the static notification-channel registry.
	// Destination CRUD is out of scope, so these are config-defined
	// rather than stored in Postgres alongside alerts.
	Destinations []Destination `mapstructure:"destinations"`

	Search Search `mapstructure:"search"`
}

// Search points at the Elasticsearch/OpenSearch cluster internal/collector queries.
type Search struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// Destination describes one configured notification channel.
type Destination struct {
	ID     string            `mapstructure:"id"`
	Type   string            `mapstructure:"type"`
	Name   string            `mapstructure:"name"`
	Config map[string]string `mapstructure:"config"`
}

type Server struct {
	Port         int `mapstructure:"port"`
	ReadTimeout  int `mapstructure:"read_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
	IdleTimeout  int `mapstructure:"idle_timeout"`
}

type Database struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	TimeZone        string `mapstructure:"timezone"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime int    `mapstructure:"conn_max_idle_time"`
}

type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type JWT struct {
	Secret     string `mapstructure:"secret"`
	Expiration int    `mapstructure:"expiration"`
}

type RateLimit struct {
	Enabled bool `mapstructure:"enabled"`
	RPS     int  `mapstructure:"rps"`
	Burst   int  `mapstructure:"burst"`
}

type Security struct {
	BcryptCost      int      `mapstructure:"bcrypt_cost"`
	PasswordMinLen  int      `mapstructure:"password_min_len"`
	HTTPSOnly       bool     `mapstructure:"https_only"`
	TrustedProxies  []string `mapstructure:"trusted_proxies"`
	AdminAPIKeyHash string   `mapstructure:"admin_api_key_hash"`
}

// Runner holds the monitor runner's settings: concurrency limits,
// per-monitor timeout, retry shapes, and the destination allow/deny list.
// cmd/runner reads them once at startup; a config reload does not
// re-apply them to the retry policies or the dispatcher already built.
type Runner struct {
	MaxConcurrentMonitors int      `mapstructure:"max_concurrent_monitors"`
	MonitorTimeoutSeconds int      `mapstructure:"monitor_timeout_seconds"`
	AllowedDestinations   []string `mapstructure:"allowed_destinations"`
	DeniedDestinations    []string `mapstructure:"denied_destinations"`
	// HostDenyList is "destination.host.deny.list" — publish hosts a
	// destination must never reach, checked independently of its type
	// being allowed.
	HostDenyList    []string `mapstructure:"host_deny_list"`
	ActionExecutors int      `mapstructure:"action_executors"`

	AlertSaveRetryMaxAttempts int `mapstructure:"alert_save_retry_max_attempts"`
	AlertSaveRetryDelayMillis int `mapstructure:"alert_save_retry_delay_millis"`

	MoveAlertsRetryMaxAttempts int `mapstructure:"move_alerts_retry_max_attempts"`
	MoveAlertsRetryInitialMS   int `mapstructure:"move_alerts_retry_initial_delay_millis"`
	MoveAlertsRetryMaxDelayMS  int `mapstructure:"move_alerts_retry_max_delay_millis"`

	PublishRetryMaxAttempts int `mapstructure:"publish_retry_max_attempts"`
	PublishRetryInitialMS   int `mapstructure:"publish_retry_initial_delay_millis"`
	PublishRetryMaxDelayMS  int `mapstructure:"publish_retry_max_delay_millis"`

	PublishRateLimitPerSecond float64 `mapstructure:"publish_rate_limit_per_second"`
	PublishRateLimitBurst     int     `mapstructure:"publish_rate_limit_burst"`
}

// AWS holds SNS publish settings. They are loaded into the Config (and
// so into the Live snapshot); no publish path reads them.
type AWS struct {
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SNSTopicARN     string `mapstructure:"sns_topic_arn"`
	ODFESupport     bool   `mapstructure:"odfe_support"`
}

// Live is a hot-reloadable Config snapshot, swapped atomically by
// OnConfigChange. In cmd/runner only the destination lookup reads
// through Live per call; retry shapes and allow/deny lists are captured
// from the startup Config.
type Live struct {
	ptr atomic.Pointer[Config]
}

func NewLive(initial *Config) *Live {
	l := &Live{}
	l.ptr.Store(initial)
	return l
}

func (l *Live) Get() *Config {
	return l.ptr.Load()
}

func (l *Live) set(cfg *Config) {
	l.ptr.Store(cfg)
}

// Load reads configuration from ./configs/config.yaml (or ./config.yaml),
// environment variables, and built-in defaults.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// WatchAndLive loads the initial config into a Live snapshot and
// starts watching the config file for changes, swapping in a freshly
// unmarshaled Config on every write and invoking onReload (if set)
// with the new snapshot.
func WatchAndLive(logger *logrus.Logger, onReload func(*Config)) (*Live, error) {
	initial, err := Load()
	if err != nil {
		return nil, err
	}

	live := NewLive(initial)

	viper.OnConfigChange(func(e fsnotify.Event) {
		var reloaded Config
		if err := viper.Unmarshal(&reloaded); err != nil {
			if logger != nil {
				logger.WithError(err).Warn("config reload failed, keeping previous snapshot")
			}
			return
		}
		live.set(&reloaded)
		if logger != nil {
			logger.WithField("file", e.Name).Info("configuration reloaded")
		}
		if onReload != nil {
			onReload(&reloaded)
		}
	})
	viper.WatchConfig()

	return live, nil
}

func setDefaults() {
	viper.SetDefault("env", "development")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 10)
	viper.SetDefault("server.write_timeout", 10)
	viper.SetDefault("server.idle_timeout", 60)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "monitorrunner")
	viper.SetDefault("database.password", "password")
	viper.SetDefault("database.dbname", "monitorrunner")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.timezone", "UTC")
	viper.SetDefault("database.max_idle_conns", 25)
	viper.SetDefault("database.max_open_conns", 100)
	viper.SetDefault("database.conn_max_lifetime", 3600)
	viper.SetDefault("database.conn_max_idle_time", 1800)

	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.format", "json")

	viper.SetDefault("jwt.secret", "change-me")
	viper.SetDefault("jwt.expiration", 24)

	viper.SetDefault("rate_limit.enabled", true)
	viper.SetDefault("rate_limit.rps", 50)
	viper.SetDefault("rate_limit.burst", 100)

	viper.SetDefault("security.bcrypt_cost", 12)
	viper.SetDefault("security.password_min_len", 8)
	viper.SetDefault("security.https_only", false)
	viper.SetDefault("security.trusted_proxies", []string{})
	viper.SetDefault("security.admin_api_key_hash", "")

	viper.SetDefault("runner.max_concurrent_monitors", 10)
	viper.SetDefault("runner.monitor_timeout_seconds", 60)
	viper.SetDefault("runner.allowed_destinations", []string{})
	viper.SetDefault("runner.denied_destinations", []string{})
	viper.SetDefault("runner.host_deny_list", []string{})
	viper.SetDefault("runner.action_executors", 8)
	viper.SetDefault("runner.alert_save_retry_max_attempts", 3)
	viper.SetDefault("runner.alert_save_retry_delay_millis", 500)
	viper.SetDefault("runner.move_alerts_retry_max_attempts", 3)
	viper.SetDefault("runner.move_alerts_retry_initial_delay_millis", 250)
	viper.SetDefault("runner.move_alerts_retry_max_delay_millis", 5000)
	viper.SetDefault("runner.publish_retry_max_attempts", 3)
	viper.SetDefault("runner.publish_retry_initial_delay_millis", 500)
	viper.SetDefault("runner.publish_retry_max_delay_millis", 10000)
	viper.SetDefault("runner.publish_rate_limit_per_second", 20)
	viper.SetDefault("runner.publish_rate_limit_burst", 40)

	viper.SetDefault("aws.odfe_support", false)

	viper.SetDefault("search.base_url", "http://localhost:9200")
	viper.SetDefault("search.timeout_seconds", 30)
}

// RetryDelay converts the millisecond values viper decodes cleanly
// from YAML/env into the time.Duration the recovery package wants.
func RetryDelay(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
