package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

const envPrefix = "NOTIFY"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Prefs     PrefsConfig     `mapstructure:"preferences"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Log       LogConfig       `mapstructure:"log"`
	Channels  ChannelsConfig  `mapstructure:"channels"`
	Email     EmailConfig     `mapstructure:"email"`
	SMS       SMSConfig       `mapstructure:"sms"`
	Push      PushConfig      `mapstructure:"push"`
	Delivery  DeliveryConfig  `mapstructure:"delivery"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Realtime  RealtimeConfig  `mapstructure:"realtime"`
	Retention RetentionConfig `mapstructure:"retention"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	// Driver is postgres, or memory for a throwaway in-process store.
	Driver       string `mapstructure:"driver"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	Migrate      bool   `mapstructure:"migrate"`
}

// DSN renders a lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type PrefsConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type RedisConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	Issuer      string `mapstructure:"issuer"`
	ExpiryHours int    `mapstructure:"expiry_hours"`
}

type LogConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
}

type ChannelToggle struct {
	Enabled bool `mapstructure:"enabled"`
}

type ChannelsConfig struct {
	Email ChannelToggle `mapstructure:"email"`
	SMS   ChannelToggle `mapstructure:"sms"`
	Push  ChannelToggle `mapstructure:"push"`
	InApp ChannelToggle `mapstructure:"in_app"`
}

type EmailConfig struct {
	Provider     string  `mapstructure:"provider"`
	From         string  `mapstructure:"from"`
	SMTPHost     string  `mapstructure:"smtp_host"`
	SMTPPort     int     `mapstructure:"smtp_port"`
	SMTPUsername string  `mapstructure:"smtp_username"`
	SMTPPassword string  `mapstructure:"smtp_password"`
	ServerToken  string  `mapstructure:"postmark_server_token"`
	AccountToken string  `mapstructure:"postmark_account_token"`
	RateLimit    float64 `mapstructure:"rate_limit"`
}

type SMSConfig struct {
	Endpoint  string  `mapstructure:"endpoint"`
	APIKey    string  `mapstructure:"api_key"`
	From      string  `mapstructure:"from"`
	RateLimit float64 `mapstructure:"rate_limit"`
}

type PushConfig struct {
	Endpoint  string  `mapstructure:"endpoint"`
	ServerKey string  `mapstructure:"server_key"`
	RateLimit float64 `mapstructure:"rate_limit"`
}

type DeliveryConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxWorkers int           `mapstructure:"max_workers"`
}

type RetryConfig struct {
	Attempts    int           `mapstructure:"attempts"`
	Delay       time.Duration `mapstructure:"delay"`
	MaxAgeHours int           `mapstructure:"max_age_hours"`
	BatchSize   int           `mapstructure:"batch_size"`
}

// MaxAge is the window in which failed records stay eligible for retry.
func (r RetryConfig) MaxAge() time.Duration {
	return time.Duration(r.MaxAgeHours) * time.Hour
}

type SchedulerConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
}

type RealtimeConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	StaleTimeout      time.Duration `mapstructure:"stale_timeout"`
}

type RetentionConfig struct {
	Days     int           `mapstructure:"days"`
	Interval time.Duration `mapstructure:"interval"`
}

type WorkerConfig struct {
	// Embedded runs the periodic tasks inside the API process.
	Embedded bool          `mapstructure:"embedded"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
	// ClaimTTL bounds how long a sweep holds the rows it picked up.
	ClaimTTL time.Duration `mapstructure:"claim_ttl"`
}

type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

// secrets are read straight from the environment and win over the file.
type secrets struct {
	DatabasePassword     string `envconfig:"DATABASE_PASSWORD"`
	JWTSecret            string `envconfig:"JWT_SECRET"`
	SMTPPassword         string `envconfig:"SMTP_PASSWORD"`
	PostmarkServerToken  string `envconfig:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `envconfig:"POSTMARK_ACCOUNT_TOKEN"`
	SMSAPIKey            string `envconfig:"SMS_API_KEY"`
	PushServerKey        string `envconfig:"PUSH_SERVER_KEY"`
	RedisURL             string `envconfig:"REDIS_URL"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.name", "notify")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.migrate", true)

	v.SetDefault("preferences.cache_ttl", 5*time.Minute)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.url", "redis://localhost:6379/0")

	v.SetDefault("jwt.issuer", "notify-api")
	v.SetDefault("jwt.expiry_hours", 24)

	v.SetDefault("log.level", "info")

	// external channels need credentials, so they are opt-in
	v.SetDefault("channels.email.enabled", false)
	v.SetDefault("channels.sms.enabled", false)
	v.SetDefault("channels.push.enabled", false)
	v.SetDefault("channels.in_app.enabled", true)

	v.SetDefault("email.provider", "smtp")
	v.SetDefault("email.smtp_port", 587)
	v.SetDefault("email.rate_limit", 10)
	v.SetDefault("sms.rate_limit", 5)
	v.SetDefault("push.rate_limit", 50)

	v.SetDefault("delivery.timeout", 30*time.Second)
	v.SetDefault("delivery.max_workers", 8)

	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.delay", 5*time.Minute)
	v.SetDefault("retry.max_age_hours", 24)
	v.SetDefault("retry.batch_size", 100)

	v.SetDefault("scheduler.poll_interval", 5*time.Second)
	v.SetDefault("scheduler.batch_size", 100)

	v.SetDefault("realtime.heartbeat_interval", 30*time.Second)
	v.SetDefault("realtime.stale_timeout", 120*time.Second)

	v.SetDefault("retention.days", 90)
	v.SetDefault("retention.interval", 24*time.Hour)

	v.SetDefault("worker.embedded", true)
	v.SetDefault("worker.lock_ttl", time.Minute)
	v.SetDefault("worker.claim_ttl", 10*time.Minute)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.rps", 20)
	v.SetDefault("rate_limit.burst", 40)
}

// Load reads config.yml from the usual locations, then env. A missing file is not
// an error: defaults and env are enough to boot.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./config", "/app/config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	var s secrets
	if err := envconfig.Process(envPrefix, &s); err != nil {
		return nil, fmt.Errorf("failed to load secrets: %w", err)
	}
	cfg.applySecrets(s)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applySecrets(s secrets) {
	override := func(dst *string, val string) {
		if val != "" {
			*dst = val
		}
	}
	override(&c.Database.Password, s.DatabasePassword)
	override(&c.JWT.Secret, s.JWTSecret)
	override(&c.Email.SMTPPassword, s.SMTPPassword)
	override(&c.Email.ServerToken, s.PostmarkServerToken)
	override(&c.Email.AccountToken, s.PostmarkAccountToken)
	override(&c.SMS.APIKey, s.SMSAPIKey)
	override(&c.Push.ServerKey, s.PushServerKey)
	override(&c.Redis.URL, s.RedisURL)
}

// Validate rejects settings the runtime cannot work with.
func (c *Config) Validate() error {
	switch {
	case c.Server.Port <= 0:
		return fmt.Errorf("server.port must be positive")
	case c.Delivery.Timeout <= 0:
		return fmt.Errorf("delivery.timeout must be positive")
	case c.Delivery.MaxWorkers <= 0:
		return fmt.Errorf("delivery.max_workers must be positive")
	case c.Retry.Attempts < 0:
		return fmt.Errorf("retry.attempts must not be negative")
	case c.Scheduler.PollInterval <= 0:
		return fmt.Errorf("scheduler.poll_interval must be positive")
	case c.Realtime.HeartbeatInterval <= 0 || c.Realtime.StaleTimeout <= 0:
		return fmt.Errorf("realtime intervals must be positive")
	case c.Realtime.StaleTimeout <= c.Realtime.HeartbeatInterval:
		return fmt.Errorf("realtime.stale_timeout must exceed realtime.heartbeat_interval")
	case c.Worker.ClaimTTL <= 0:
		return fmt.Errorf("worker.claim_ttl must be positive")
	case c.Retention.Days <= 0:
		return fmt.Errorf("retention.days must be positive")
	}
	if c.Database.Driver != "postgres" && c.Database.Driver != "memory" {
		return fmt.Errorf("database.driver must be postgres or memory, got %q", c.Database.Driver)
	}
	if c.Channels.Email.Enabled && c.Email.Provider != "smtp" && c.Email.Provider != "postmark" {
		return fmt.Errorf("email.provider must be smtp or postmark, got %q", c.Email.Provider)
	}
	return nil
}
