// Package config builds the service configuration from an optional TOML file
// and environment variables. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Backend names.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendKafka    = "kafka"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr string `toml:"addr"`
	// StreamKeepAliveSeconds is the interval between event-stream keep-alives.
	StreamKeepAliveSeconds int `toml:"stream_keep_alive_seconds"`
	ShutdownTimeoutSeconds int `toml:"shutdown_timeout_seconds"`
}

type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Backends selects the implementation behind each storage or transport concern.
type Backends struct {
	State   string `toml:"state"`
	Limiter string `toml:"limiter"`
	Broker  string `toml:"broker"`
}

type Redis struct {
	URL                 string `toml:"url"`
	PoolSize            int    `toml:"pool_size"`
	MinIdleConns        int    `toml:"min_idle_conns"`
	DialTimeoutSeconds  int    `toml:"dial_timeout_seconds"`
	ReadTimeoutSeconds  int    `toml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `toml:"write_timeout_seconds"`
}

type Postgres struct {
	URL      string `toml:"url"`
	MaxConns int32  `toml:"max_conns"`
}

type Kafka struct {
	Brokers           []string `toml:"brokers"`
	ClientID          string   `toml:"client_id"`
	Partitions        int32    `toml:"partitions"`
	ReplicationFactor int16    `toml:"replication_factor"`
}

// Limiter is the per-catalog sliding window.
type Limiter struct {
	PermitLimit       int `toml:"permit_limit"`
	WindowSeconds     int `toml:"window_seconds"`
	SegmentsPerWindow int `toml:"segments_per_window"`
	QueueLimit        int `toml:"queue_limit"`
}

// APILimit throttles inbound API requests per client IP. Zero requests disables it.
type APILimit struct {
	Requests      int `toml:"requests"`
	WindowSeconds int `toml:"window_seconds"`
}

// Catalog is one searchable library catalog.
type Catalog struct {
	ID        string            `toml:"id"`
	SearchURL string            `toml:"search_url"`
	Headers   map[string]string `toml:"headers"`
}

type Letterboxd struct {
	BaseURL     string `toml:"base_url"`
	UserAgent   string `toml:"user_agent"`
	Concurrency int    `toml:"concurrency"`
}

// Actors tunes the per-key instances behind lookups and collections.
type Actors struct {
	IdleTimeoutSeconds  int `toml:"idle_timeout_seconds"`
	ObserverTTLSeconds  int `toml:"observer_ttl_seconds"`
	DispatchConcurrency int `toml:"dispatch_concurrency"`
}

type Config struct {
	Server     Server     `toml:"server"`
	Log        Log        `toml:"log"`
	Backends   Backends   `toml:"backends"`
	Redis      Redis      `toml:"redis"`
	Postgres   Postgres   `toml:"postgres"`
	Kafka      Kafka      `toml:"kafka"`
	Limiter    Limiter    `toml:"limiter"`
	APILimit   APILimit   `toml:"api_limit"`
	Catalogs   []Catalog  `toml:"catalogs"`
	Letterboxd Letterboxd `toml:"letterboxd"`
	Actors     Actors     `toml:"actors"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Server: Server{
			Addr:                   ":8080",
			StreamKeepAliveSeconds: 30,
			ShutdownTimeoutSeconds: 15,
		},
		Log: Log{Level: "info", Format: "json"},
		Backends: Backends{
			State:   BackendMemory,
			Limiter: BackendMemory,
			Broker:  BackendMemory,
		},
		Redis: Redis{
			PoolSize:            10,
			MinIdleConns:        2,
			DialTimeoutSeconds:  5,
			ReadTimeoutSeconds:  3,
			WriteTimeoutSeconds: 3,
		},
		Postgres: Postgres{MaxConns: 10},
		Kafka: Kafka{
			ClientID:          "shelfcheck",
			Partitions:        6,
			ReplicationFactor: 1,
		},
		Limiter: Limiter{
			PermitLimit:       10,
			WindowSeconds:     1,
			SegmentsPerWindow: 2,
			QueueLimit:        10000,
		},
		APILimit: APILimit{Requests: 120, WindowSeconds: 60},
		Catalogs: []Catalog{{
			ID:        "www.richlandlibrary.com",
			SearchURL: "https://www.richlandlibrary.com/api/search/catalog",
		}},
		Letterboxd: Letterboxd{
			BaseURL:     "https://letterboxd.com",
			UserAgent:   "shelfcheck/1.0",
			Concurrency: 4,
		},
		Actors: Actors{
			IdleTimeoutSeconds:  600,
			ObserverTTLSeconds:  300,
			DispatchConcurrency: 16,
		},
	}
}

// FromEnv loads the file named by SHELFCHECK_CONFIG, if any, then applies
// environment overrides and validates the result.
func FromEnv() (Config, error) {
	return Load(os.Getenv("SHELFCHECK_CONFIG"))
}

// Load is FromEnv with an explicit file path. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := toml.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.Server.Addr, "SHELFCHECK_ADDR")
	setString(&c.Log.Level, "SHELFCHECK_LOG_LEVEL")
	setString(&c.Log.Format, "SHELFCHECK_LOG_FORMAT")
	setString(&c.Backends.State, "SHELFCHECK_STATE_BACKEND")
	setString(&c.Backends.Limiter, "SHELFCHECK_LIMITER_BACKEND")
	setString(&c.Backends.Broker, "SHELFCHECK_BROKER")
	setString(&c.Redis.URL, "REDIS_URL")
	setString(&c.Postgres.URL, "DATABASE_URL")
	setString(&c.Letterboxd.BaseURL, "LETTERBOXD_BASE_URL")
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}

	ints := []struct {
		dst *int
		env string
	}{
		{&c.Server.StreamKeepAliveSeconds, "SHELFCHECK_STREAM_KEEPALIVE_SECONDS"},
		{&c.Limiter.PermitLimit, "SHELFCHECK_CATALOG_PERMITS"},
		{&c.Limiter.WindowSeconds, "SHELFCHECK_CATALOG_WINDOW_SECONDS"},
		{&c.Limiter.QueueLimit, "SHELFCHECK_CATALOG_QUEUE_LIMIT"},
		{&c.Actors.DispatchConcurrency, "SHELFCHECK_DISPATCH_CONCURRENCY"},
		{&c.APILimit.Requests, "SHELFCHECK_API_REQUESTS_PER_WINDOW"},
	}
	for _, i := range ints {
		if err := setInt(i.dst, i.env); err != nil {
			return err
		}
	}
	return nil
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	c.Backends.State = strings.ToLower(c.Backends.State)
	c.Backends.Limiter = strings.ToLower(c.Backends.Limiter)
	c.Backends.Broker = strings.ToLower(c.Backends.Broker)

	for _, b := range []struct{ name, value string }{
		{"backends.state", c.Backends.State},
		{"backends.limiter", c.Backends.Limiter},
	} {
		switch b.value {
		case BackendMemory:
		case BackendRedis:
			if c.Redis.URL == "" {
				return fmt.Errorf("%s is redis but redis.url is not set", b.name)
			}
		case BackendPostgres:
			if c.Postgres.URL == "" {
				return fmt.Errorf("%s is postgres but postgres.url is not set", b.name)
			}
		default:
			return fmt.Errorf("%s: unknown backend %q", b.name, b.value)
		}
	}
	switch c.Backends.Broker {
	case BackendMemory:
	case BackendKafka:
		if len(c.Kafka.Brokers) == 0 {
			return errors.New("backends.broker is kafka but kafka.brokers is empty")
		}
	default:
		return fmt.Errorf("backends.broker: unknown broker %q", c.Backends.Broker)
	}

	if len(c.Catalogs) == 0 {
		return errors.New("at least one catalog is required")
	}
	seen := make(map[string]bool, len(c.Catalogs))
	for _, cat := range c.Catalogs {
		id := strings.ToLower(cat.ID)
		if id == "" || cat.SearchURL == "" {
			return errors.New("catalogs need an id and a search_url")
		}
		if seen[id] {
			return fmt.Errorf("catalog %s is configured twice", cat.ID)
		}
		seen[id] = true
	}
	if c.Limiter.PermitLimit <= 0 || c.Limiter.WindowSeconds <= 0 {
		return errors.New("limiter.permit_limit and limiter.window_seconds must be positive")
	}
	return nil
}

func (s Server) StreamKeepAlive() time.Duration { return seconds(s.StreamKeepAliveSeconds) }
func (s Server) ShutdownTimeout() time.Duration { return seconds(s.ShutdownTimeoutSeconds) }
func (l Limiter) Window() time.Duration { return seconds(l.WindowSeconds) }
func (l APILimit) Window() time.Duration { return seconds(l.WindowSeconds) }
func (a Actors) IdleTimeout() time.Duration { return seconds(a.IdleTimeoutSeconds) }
func (a Actors) ObserverTTL() time.Duration { return seconds(a.ObserverTTLSeconds) }

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func setInt(dst *int, env string) error {
	v := os.Getenv(env)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", env, err)
	}
	*dst = n
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
