package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"db-admission-gateway/middleware/admission/domain"
	"db-admission-gateway/middleware/admission/infra"

	"github.com/spf13/viper"
)

type config struct {
	Server struct {
		ListenAddr        string        `mapstructure:"listen_addr"`
		ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
		WriteTimeout      time.Duration `mapstructure:"write_timeout"`
		ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`

	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`

	Admission domain.Config        `mapstructure:"admission"`
	Postgres  infra.PostgresConfig `mapstructure:"postgres"`

	HTTP struct {
		PriorityHeader string        `mapstructure:"priority_header"`
		ElevatedPaths  []string      `mapstructure:"elevated_paths"`
		AddHeaders     bool          `mapstructure:"add_headers"`
		RetryAfter     time.Duration `mapstructure:"retry_after"`
		// ProbeQuery é o statement somente-leitura executado por POST /v1/query.
		ProbeQuery string `mapstructure:"probe_query"`
	} `mapstructure:"http"`

	Stats struct {
		Redis struct {
			Enabled  bool          `mapstructure:"enabled"`
			Addr     string        `mapstructure:"addr"`
			Password string        `mapstructure:"password"`
			DB       int           `mapstructure:"db"`
			Prefix   string        `mapstructure:"prefix"`
			TTL      time.Duration `mapstructure:"ttl"`
			Bucket   string        `mapstructure:"bucket"`
		} `mapstructure:"redis"`
		Kafka struct {
			Enabled bool     `mapstructure:"enabled"`
			Brokers []string `mapstructure:"brokers"`
			Topic   string   `mapstructure:"topic"`
		} `mapstructure:"kafka"`
	} `mapstructure:"stats"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.read_header_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("log.level", "info")

	d := domain.DefaultConfig()
	v.SetDefault("admission.max_concurrent_requests", d.MaxConcurrentRequests)
	v.SetDefault("admission.max_queue_size", d.MaxQueueSize)
	v.SetDefault("admission.request_timeout", d.RequestTimeout)
	v.SetDefault("admission.operation_timeout", d.OperationTimeout)
	v.SetDefault("admission.max_retries", d.MaxRetries)
	v.SetDefault("admission.retry_base_delay", d.RetryBaseDelay)
	v.SetDefault("admission.burst_window", d.BurstWindow)
	v.SetDefault("admission.burst_limit", d.BurstLimit)
	v.SetDefault("admission.max_pending_acquires", d.MaxPendingAcquires)
	v.SetDefault("admission.connect_timeout", d.ConnectTimeout)
	v.SetDefault("admission.slow_query_threshold", d.SlowQueryThreshold)
	v.SetDefault("admission.report_interval", d.ReportInterval)
	v.SetDefault("admission.shed_below", int(d.ShedBelow))
	v.SetDefault("admission.elevated_priority", int(d.ElevatedPriority))

	v.SetDefault("postgres.dsn", "postgres://postgres@localhost:5432/postgres?sslmode=disable")
	v.SetDefault("postgres.max_open_conns", 20)
	v.SetDefault("postgres.max_idle_conns", 10)
	v.SetDefault("postgres.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("postgres.conn_max_idle_time", 5*time.Minute)

	v.SetDefault("http.priority_header", "X-Priority")
	v.SetDefault("http.elevated_paths", []string{"/ready", "/admin"})
	v.SetDefault("http.add_headers", false)
	v.SetDefault("http.retry_after", time.Second)
	v.SetDefault("http.probe_query", "SELECT 1")

	v.SetDefault("stats.redis.enabled", false)
	v.SetDefault("stats.redis.addr", "")
	v.SetDefault("stats.redis.password", "")
	v.SetDefault("stats.redis.db", 0)
	v.SetDefault("stats.redis.prefix", "admission:stats")
	v.SetDefault("stats.redis.ttl", 24*time.Hour)
	v.SetDefault("stats.redis.bucket", "minute")
	v.SetDefault("stats.kafka.enabled", false)
	v.SetDefault("stats.kafka.brokers", []string{})
	v.SetDefault("stats.kafka.topic", "admission.stats")
}

// loadConfig lê defaults, config.yaml opcional (./config ou .) e variáveis
// GATEWAY_*, nessa ordem de precedência crescente.
func loadConfig(v *viper.Viper) (config, error) {
	setDefaults(v)

	v.SetEnvPrefix("GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg config
	if err := v.Unmarshal(&cfg); err != nil {
		return config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (c config) validate() error {
	if err := c.Admission.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		return errors.New("postgres.dsn is required")
	}
	if c.Stats.Redis.Enabled && strings.TrimSpace(c.Stats.Redis.Addr) == "" {
		return errors.New("stats.redis.addr is required when stats.redis.enabled=true")
	}
	if c.Stats.Kafka.Enabled && len(c.Stats.Kafka.Brokers) == 0 {
		return errors.New("stats.kafka.brokers is required when stats.kafka.enabled=true")
	}
	return nil
}
