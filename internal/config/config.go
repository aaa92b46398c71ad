package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"threadgraph/api/internal/broadcast"
	"threadgraph/api/internal/identity"
	"threadgraph/api/internal/ingest"
)

type Config struct {
	Env           string
	BindAddr      string
	DatabaseURL   string
	MigrationsDir string
	StaticDir     string
	CORSOrigin    string

	// NATS JetStream ingestion. Only used when RootURIs is non-empty.
	NATSHosts   []string
	NATSNKey    string
	NATSStream  string
	NATSSubject string
	NATSDurable string

	RootURIs []string

	// Identity resolution
	RedisURL          string
	PLCDirectoryURL   string
	PLCRateLimit      float64
	IdentityCacheSize int

	BroadcastCapacity int
	BroadcastOverflow broadcast.Policy

	MeiliURL       string
	MeiliMasterKey string
}

// LoadDotEnv reads an optional .env file into the process environment so
// the flag EnvVars below can see it. A missing file is not an error.
func LoadDotEnv(filenames ...string) {
	_ = godotenv.Load(filenames...)
}

func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "env", EnvVars: []string{"ENV"}, Value: "development", Usage: "`development` or production logging"},
		&cli.StringFlag{Name: "bind-addr", EnvVars: []string{"BIND_ADDR"}, Value: "0.0.0.0:8080", Usage: "HTTP listen address"},
		&cli.StringFlag{Name: "database-url", EnvVars: []string{"DATABASE_URL"}, Usage: "Postgres connection `URL`"},
		&cli.StringFlag{Name: "migrations-dir", EnvVars: []string{"MIGRATIONS_DIR"}, Value: "./db/migrations", Usage: "directory of .up.sql/.down.sql files"},
		&cli.StringFlag{Name: "static-dir", EnvVars: []string{"STATIC_DIR"}, Value: "static", Usage: "directory served under /static"},
		&cli.StringFlag{Name: "cors-origin", EnvVars: []string{"CORS_ORIGIN"}, Value: "*", Usage: "allowed CORS origin"},

		&cli.StringSliceFlag{Name: "nats-host", EnvVars: []string{"NATS_HOST"}, Usage: "NATS server (repeatable or comma separated)"},
		&cli.StringFlag{Name: "nats-nkey", EnvVars: []string{"NATS_NKEY"}, Usage: "NATS nkey `SEED`"},
		&cli.StringFlag{Name: "nats-stream", EnvVars: []string{"NATS_STREAM"}, Value: ingest.DefaultStream},
		&cli.StringFlag{Name: "nats-subject", EnvVars: []string{"NATS_SUBJECT"}, Value: ingest.DefaultSubject},
		&cli.StringFlag{Name: "nats-durable", EnvVars: []string{"NATS_DURABLE"}, Value: ingest.DefaultDurable, Usage: "durable consumer name (empty: ephemeral, new messages only)"},

		&cli.StringSliceFlag{Name: "root-uris", EnvVars: []string{"ROOT_URIS"}, Usage: "at:// URIs of threads to track"},

		&cli.StringFlag{Name: "redis-url", EnvVars: []string{"REDIS_URL"}, Usage: "Redis identity cache (empty: use Postgres)"},
		&cli.StringFlag{Name: "plc-directory-url", EnvVars: []string{"PLC_DIRECTORY_URL"}, Value: identity.DefaultDirectoryURL},
		&cli.Float64Flag{Name: "plc-rate-limit", EnvVars: []string{"PLC_RATE_LIMIT"}, Usage: "directory requests per second (0: unlimited)"},
		&cli.IntFlag{Name: "identity-cache-size", EnvVars: []string{"IDENTITY_CACHE_SIZE"}, Value: identity.DefaultCacheSize},

		&cli.IntFlag{Name: "broadcast-capacity", EnvVars: []string{"BROADCAST_CAPACITY"}, Value: broadcast.DefaultCapacity},
		&cli.StringFlag{Name: "broadcast-overflow", EnvVars: []string{"BROADCAST_OVERFLOW"}, Value: string(broadcast.DropOldest), Usage: "drop-oldest or drop-newest"},

		&cli.StringFlag{Name: "meili-url", EnvVars: []string{"MEILI_URL"}, Usage: "Meilisearch URL (empty: Postgres search only)"},
		&cli.StringFlag{Name: "meili-master-key", EnvVars: []string{"MEILI_MASTER_KEY"}},
	}
}

// FromContext reads the flags registered by Flags and validates the result.
func FromContext(c *cli.Context) (Config, error) {
	cfg := Config{
		Env:               c.String("env"),
		BindAddr:          c.String("bind-addr"),
		DatabaseURL:       c.String("database-url"),
		MigrationsDir:     c.String("migrations-dir"),
		StaticDir:         c.String("static-dir"),
		CORSOrigin:        c.String("cors-origin"),
		NATSHosts:         splitList(c.StringSlice("nats-host")),
		NATSNKey:          c.String("nats-nkey"),
		NATSStream:        c.String("nats-stream"),
		NATSSubject:       c.String("nats-subject"),
		NATSDurable:       c.String("nats-durable"),
		RootURIs:          splitList(c.StringSlice("root-uris")),
		RedisURL:          c.String("redis-url"),
		PLCDirectoryURL:   c.String("plc-directory-url"),
		PLCRateLimit:      c.Float64("plc-rate-limit"),
		IdentityCacheSize: c.Int("identity-cache-size"),
		BroadcastCapacity: c.Int("broadcast-capacity"),
		MeiliURL:          c.String("meili-url"),
		MeiliMasterKey:    c.String("meili-master-key"),
	}

	policy, err := broadcast.ParsePolicy(c.String("broadcast-overflow"))
	if err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	cfg.BroadcastOverflow = policy

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks that required configuration values are set.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return errors.New("DATABASE_URL is required")
	}
	if len(c.RootURIs) > 0 && len(c.NATSHosts) == 0 {
		return errors.New("NATS_HOST is required when ROOT_URIS is set")
	}
	for _, uri := range c.RootURIs {
		if !strings.HasPrefix(uri, "at://") {
			return fmt.Errorf("root uri %q is not an at:// uri", uri)
		}
	}
	if c.IdentityCacheSize <= 0 {
		return errors.New("IDENTITY_CACHE_SIZE must be positive")
	}
	if c.BroadcastCapacity <= 0 {
		return errors.New("BROADCAST_CAPACITY must be positive")
	}
	if c.PLCRateLimit < 0 {
		return errors.New("PLC_RATE_LIMIT must not be negative")
	}
	if _, err := broadcast.ParsePolicy(string(c.BroadcastOverflow)); err != nil {
		return err
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Ingesting reports whether any thread is tracked live.
func (c *Config) Ingesting() bool {
	return len(c.RootURIs) > 0
}

// splitList flattens comma separated entries and drops blanks.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
