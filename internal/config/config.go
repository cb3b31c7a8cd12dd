package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/i474232898/weather-station-feed/internal/engine"
	"github.com/i474232898/weather-station-feed/internal/feed"
	"github.com/i474232898/weather-station-feed/internal/station"
)

// DefaultFeedURL is the Herent weather station's realtime YoWindow feed.
const DefaultFeedURL = "https://www.weerstation-herent.be/weather2/yowindowRT.php"

var validate = validator.New()

type AppConfig struct {
	FeedURL    string `validate:"required,url"`
	NamePrefix string

	// Delays before the first cycle, after a success and after a failure.
	InitialDelay time.Duration `validate:"gt=0"`
	SuccessDelay time.Duration `validate:"gt=0"`
	FailureDelay time.Duration `validate:"gt=0"`

	FetchTimeout     time.Duration `validate:"gt=0"`
	BreakerThreshold int           `validate:"gte=0"`
	BreakerTimeout   time.Duration `validate:"gte=0"`

	Port      string `validate:"required,numeric"`
	LogLevel  string `validate:"oneof=debug info warn error"`
	LogFormat string `validate:"oneof=text json"`

	// MQTT publishing is enabled when MQTTBroker is set.
	MQTTBroker      string `validate:"omitempty,url"`
	MQTTClientID    string
	MQTTTopicPrefix string

	// Redis publishing is enabled when RedisAddr is set.
	RedisAddr      string `validate:"omitempty,hostname_port"`
	RedisPassword  string
	RedisDB        int `validate:"gte=0"`
	RedisKeyPrefix string

	// Metrics holds per-metric display overrides.
	Metrics map[station.Metric]MetricOverride
}

// MetricOverride replaces a metric's default unit or icon when non-empty.
type MetricOverride struct {
	Unit string `yaml:"unit"`
	Icon string `yaml:"icon"`
}

// fileConfig mirrors the optional YAML config file. Durations are strings
// such as "10m" or "90s".
type fileConfig struct {
	FeedURL    string `yaml:"feed_url"`
	NamePrefix string `yaml:"name_prefix"`

	Schedule struct {
		Initial string `yaml:"initial"`
		Success string `yaml:"success"`
		Failure string `yaml:"failure"`
	} `yaml:"schedule"`

	FetchTimeout string `yaml:"fetch_timeout"`

	Breaker struct {
		Threshold string `yaml:"threshold"`
		Timeout   string `yaml:"timeout"`
	} `yaml:"breaker"`

	Port string `yaml:"port"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	MQTT struct {
		Broker      string `yaml:"broker"`
		ClientID    string `yaml:"client_id"`
		TopicPrefix string `yaml:"topic_prefix"`
	} `yaml:"mqtt"`

	Redis struct {
		Addr      string `yaml:"addr"`
		Password  string `yaml:"password"`
		DB        string `yaml:"db"`
		KeyPrefix string `yaml:"key_prefix"`
	} `yaml:"redis"`

	Metrics map[string]MetricOverride `yaml:"metrics"`
}

// Options controls where Load looks for configuration.
type Options struct {
	// File is an optional YAML config file.
	File string
	// EnvFiles are loaded with godotenv before reading the environment.
	// Defaults to ".env"; missing files are not an error.
	EnvFiles []string
}

// Load reads configuration with precedence defaults < YAML file < environment.
func Load(opts Options) (*AppConfig, error) {
	envFiles := opts.EnvFiles
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil {
			log.Printf("INFO: No %s file found or error loading it: %v", f, err)
		}
	}

	var fc fileConfig
	if opts.File != "" {
		data, err := os.ReadFile(opts.File)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", opts.File, err)
		}
	}

	cfg := &AppConfig{
		FeedURL:         getenvDefault("FEED_URL", fc.FeedURL, DefaultFeedURL),
		NamePrefix:      getenvDefault("SENSOR_NAME_PREFIX", fc.NamePrefix, "lt"),
		Port:            getenvDefault("PORT", fc.Port, "8080"),
		LogLevel:        strings.ToLower(getenvDefault("LOG_LEVEL", fc.Log.Level, "info")),
		LogFormat:       strings.ToLower(getenvDefault("LOG_FORMAT", fc.Log.Format, "text")),
		MQTTBroker:      getenvDefault("MQTT_BROKER", fc.MQTT.Broker, ""),
		MQTTClientID:    getenvDefault("MQTT_CLIENT_ID", fc.MQTT.ClientID, "weather-station-feed"),
		MQTTTopicPrefix: getenvDefault("MQTT_TOPIC_PREFIX", fc.MQTT.TopicPrefix, "weather-station"),
		RedisAddr:       getenvDefault("REDIS_ADDR", fc.Redis.Addr, ""),
		RedisPassword:   getenvDefault("REDIS_PASSWORD", fc.Redis.Password, ""),
		RedisKeyPrefix:  getenvDefault("REDIS_KEY_PREFIX", fc.Redis.KeyPrefix, "weather-station"),
	}

	var err error
	durations := []struct {
		key, file, def string
		dst            *time.Duration
	}{
		{"INITIAL_DELAY", fc.Schedule.Initial, engine.DefaultInitialDelay.String(), &cfg.InitialDelay},
		{"SUCCESS_DELAY", fc.Schedule.Success, engine.DefaultSuccessDelay.String(), &cfg.SuccessDelay},
		{"FAILURE_DELAY", fc.Schedule.Failure, engine.DefaultFailureDelay.String(), &cfg.FailureDelay},
		{"FETCH_TIMEOUT", fc.FetchTimeout, feed.DefaultTimeout.String(), &cfg.FetchTimeout},
		{"BREAKER_TIMEOUT", fc.Breaker.Timeout, "5m", &cfg.BreakerTimeout},
	}
	for _, d := range durations {
		if *d.dst, err = getenvDuration(d.key, d.file, d.def); err != nil {
			return nil, err
		}
	}

	if cfg.BreakerThreshold, err = getenvInt("BREAKER_THRESHOLD", fc.Breaker.Threshold, 5); err != nil {
		return nil, err
	}
	if cfg.RedisDB, err = getenvInt("REDIS_DB", fc.Redis.DB, 0); err != nil {
		return nil, err
	}

	if cfg.Metrics, err = parseMetricOverrides(fc.Metrics); err != nil {
		return nil, err
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Timing returns the engine delays.
func (c *AppConfig) Timing() engine.Timing {
	return engine.Timing{
		Initial: c.InitialDelay,
		Success: c.SuccessDelay,
		Failure: c.FailureDelay,
	}
}

// Descriptors returns the metric table with configured overrides applied.
func (c *AppConfig) Descriptors() []station.Descriptor {
	ds := station.Descriptors()
	for i, d := range ds {
		o, ok := c.Metrics[d.Metric]
		if !ok {
			continue
		}
		if o.Unit != "" {
			ds[i].Unit = o.Unit
		}
		if o.Icon != "" {
			ds[i].Icon = o.Icon
		}
	}
	return ds
}

func parseMetricOverrides(raw map[string]MetricOverride) (map[station.Metric]MetricOverride, error) {
	out := make(map[station.Metric]MetricOverride, len(raw))
	var errs []error
	for name, o := range raw {
		m, err := station.ParseMetric(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out[m] = o
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid metrics section: %w", errors.Join(errs...))
	}
	return out, nil
}

// getenvDefault returns the environment value, then the file value, then def.
func getenvDefault(key, file, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	if file != "" {
		return file
	}
	return def
}

func getenvDuration(key, file, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, file, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getenvInt(key, file string, def int) (int, error) {
	v := getenvDefault(key, file, "")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
