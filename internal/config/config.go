// Package config loads the CLI configuration from flags, environment and an
// optional config file through viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alejoacosta74/skinport-go/pkg/skinport"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. SKINPORT_REST_CLIENT_ID.
const EnvPrefix = "SKINPORT"

type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	Feed    FeedConfig    `mapstructure:"feed"`
	REST    RESTConfig    `mapstructure:"rest"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	Redis   RedisConfig   `mapstructure:"redis"`
	System  SystemConfig  `mapstructure:"system"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// FeedConfig configures the real-time connection. Each subscription reads
// "appid[:currency[:locale]]", e.g. "cs2:USD:de".
type FeedConfig struct {
	Endpoint       string        `mapstructure:"endpoint"`
	Subscriptions  []string      `mapstructure:"subscriptions"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	JoinTimeout    time.Duration `mapstructure:"join_timeout"`
	DrainTimeout   time.Duration `mapstructure:"drain_timeout"`
	QueueSize      int           `mapstructure:"queue_size"`
	ErrorPolicy    string        `mapstructure:"error_policy"`
	Print          bool          `mapstructure:"print"`
	Backoff        BackoffConfig `mapstructure:"backoff"`
}

type BackoffConfig struct {
	Initial     time.Duration `mapstructure:"initial"`
	Max         time.Duration `mapstructure:"max"`
	Multiplier  float64       `mapstructure:"multiplier"`
	Jitter      float64       `mapstructure:"jitter"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

type RESTConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	ClientID         string        `mapstructure:"client_id"`
	ClientSecret     string        `mapstructure:"client_secret"`
	Timeout          time.Duration `mapstructure:"timeout"`
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerTimeout   time.Duration `mapstructure:"breaker_timeout"`
}

type MetricsConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Addr            string        `mapstructure:"addr"`
	SummaryInterval time.Duration `mapstructure:"summary_interval"`
	Pprof           bool          `mapstructure:"pprof"`
}

type KafkaConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Brokers   []string `mapstructure:"brokers"`
	Topic     string   `mapstructure:"topic"`
	ClientID  string   `mapstructure:"client_id"`
	PoolSize  int      `mapstructure:"pool_size"`
	Workers   int      `mapstructure:"workers"`
	QueueSize int      `mapstructure:"queue_size"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// SystemConfig tunes the Go runtime. Zero values keep the runtime defaults.
type SystemConfig struct {
	MaxProcs      int `mapstructure:"max_procs"`
	GCPercent     int `mapstructure:"gc_percent"`
	MaxThreads    int `mapstructure:"max_threads"`
	MemoryLimitMB int `mapstructure:"memory_limit_mb"`
}

// SetDefaults registers the default of every key, which also makes every key
// resolvable from the environment.
func SetDefaults(v *viper.Viper) {
	backoff := skinport.DefaultBackoff()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	v.SetDefault("feed.endpoint", "")
	v.SetDefault("feed.subscriptions", []string{"730:EUR:en"})
	v.SetDefault("feed.connect_timeout", 10*time.Second)
	v.SetDefault("feed.join_timeout", 10*time.Second)
	v.SetDefault("feed.drain_timeout", 5*time.Second)
	v.SetDefault("feed.queue_size", 64)
	v.SetDefault("feed.error_policy", "isolate")
	v.SetDefault("feed.print", true)
	v.SetDefault("feed.backoff.initial", backoff.Initial)
	v.SetDefault("feed.backoff.max", backoff.Max)
	v.SetDefault("feed.backoff.multiplier", backoff.Multiplier)
	v.SetDefault("feed.backoff.jitter", backoff.Jitter)
	v.SetDefault("feed.backoff.max_attempts", backoff.MaxAttempts)

	v.SetDefault("rest.base_url", skinport.DefaultBaseURL)
	v.SetDefault("rest.client_id", "")
	v.SetDefault("rest.client_secret", "")
	v.SetDefault("rest.timeout", 30*time.Second)
	v.SetDefault("rest.breaker_threshold", 5)
	v.SetDefault("rest.breaker_timeout", 30*time.Second)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":2112")
	v.SetDefault("metrics.summary_interval", time.Minute)
	v.SetDefault("metrics.pprof", false)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "skinport.feed")
	v.SetDefault("kafka.client_id", "skinport-go")
	v.SetDefault("kafka.pool_size", 2)
	v.SetDefault("kafka.workers", 2)
	v.SetDefault("kafka.queue_size", 256)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.username", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "skinport")

	v.SetDefault("system.max_procs", 0)
	v.SetDefault("system.gc_percent", 0)
	v.SetDefault("system.max_threads", 0)
	v.SetDefault("system.memory_limit_mb", 0)
}

// Load reads file (when set), the environment and the defaults into a
// validated Config. Flags must already be bound to v.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values that cannot be fixed by a default.
func (c *Config) Validate() error {
	var errs []error
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if _, err := c.Feed.SaleFeeds(); err != nil {
		errs = append(errs, fmt.Errorf("feed.subscriptions: %w", err))
	}
	if _, err := c.Feed.Policy(); err != nil {
		errs = append(errs, fmt.Errorf("feed.error_policy: %w", err))
	}
	if c.Feed.Backoff.Jitter < 0 || c.Feed.Backoff.Jitter > 1 {
		errs = append(errs, fmt.Errorf("feed.backoff.jitter must be within [0, 1]"))
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("kafka.brokers is required when kafka is enabled"))
		}
		if c.Kafka.Topic == "" {
			errs = append(errs, errors.New("kafka.topic is required when kafka is enabled"))
		}
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required when redis is enabled"))
	}
	return errors.Join(errs...)
}

// LogLevel returns the parsed log level, info when invalid.
func (c LogConfig) LogLevel() logrus.Level {
	lvl, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// Backoff converts the section into the reconnect policy.
func (b BackoffConfig) Backoff() skinport.Backoff {
	return skinport.Backoff{
		Initial:     b.Initial,
		Max:         b.Max,
		Multiplier:  b.Multiplier,
		Jitter:      b.Jitter,
		MaxAttempts: b.MaxAttempts,
	}
}

// Policy parses ErrorPolicy: "isolate" or "propagate".
func (f FeedConfig) Policy() (skinport.ErrorPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(f.ErrorPolicy)) {
	case "", "isolate":
		return skinport.IsolateErrors, nil
	case "propagate":
		return skinport.PropagateErrors, nil
	}
	return skinport.IsolateErrors, fmt.Errorf("unknown error policy %q", f.ErrorPolicy)
}

// SaleFeeds parses the subscriptions. An empty list selects the default feed.
func (f FeedConfig) SaleFeeds() ([]skinport.SaleFeedParams, error) {
	feeds := make([]skinport.SaleFeedParams, 0, len(f.Subscriptions))
	for _, s := range f.Subscriptions {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		p, err := ParseSubscription(s)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, p)
	}
	if len(feeds) == 0 {
		feeds = append(feeds, skinport.DefaultSaleFeedParams())
	}
	return feeds, nil
}

// ParseSubscription parses "appid[:currency[:locale]]".
func ParseSubscription(s string) (skinport.SaleFeedParams, error) {
	p := skinport.DefaultSaleFeedParams()
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return p, fmt.Errorf("invalid subscription %q", s)
	}

	app, err := skinport.ParseAppID(parts[0])
	if err != nil {
		return p, err
	}
	p.AppID = app
	if len(parts) > 1 && parts[1] != "" {
		if p.Currency, err = skinport.ParseCurrency(parts[1]); err != nil {
			return p, err
		}
	}
	if len(parts) > 2 && parts[2] != "" {
		if p.Locale, err = skinport.ParseLocale(parts[2]); err != nil {
			return p, err
		}
	}
	return p, nil
}
