package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/voyagen/m3uvault/internal/m3u"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreBolt     = "bolt"
	StoreMemory   = "memory"
)

var (
	ErrMissingDatabaseURL = errors.New("DATABASE_URL is required for the postgres store")
	ErrMissingBoltPath    = errors.New("BOLT_PATH is required for the bolt store")
	ErrUnknownStore       = errors.New("unknown store backend")
)

// Config holds application configuration.
type Config struct {
	Store          string `yaml:"store" env:"STORE"`
	DatabaseURL    string `yaml:"database_url" env:"DATABASE_URL"`
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH"`
	BoltPath       string `yaml:"bolt_path" env:"BOLT_PATH"`
	RedisURL       string `yaml:"redis_url" env:"REDIS_URL"`
	ServerPort     string `yaml:"server_port" env:"SERVER_PORT"`

	UserAgent        string        `yaml:"user_agent" env:"FETCHER_USER_AGENT"`
	Timeout          time.Duration `yaml:"timeout" env:"FETCHER_TIMEOUT"`
	MaxPlaylistBytes int64         `yaml:"max_playlist_bytes" env:"FETCHER_MAX_BYTES"`
	// AllowLocalFiles lets subscriptions read file:// urls and paths on this host.
	AllowLocalFiles  bool          `yaml:"allow_local_files" env:"ALLOW_LOCAL_FILES"`

	RefreshCron        string `yaml:"refresh_cron" env:"REFRESH_CRON"`
	RefreshOnBoot      bool   `yaml:"refresh_on_boot" env:"REFRESH_ON_BOOT"`
	RefreshConcurrency int    `yaml:"refresh_concurrency" env:"REFRESH_CONCURRENCY"`

	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat string `yaml:"log_format" env:"LOG_FORMAT"`
	SafeLogs  bool   `yaml:"safe_logs" env:"SAFE_LOGS"`

	Parser Parser `yaml:"parser"`
}

// Parser holds the attribute mapping handed to the m3u parser.
type Parser struct {
	TitleKeys            []string `yaml:"title_keys" env:"PARSER_TITLE_KEYS"`
	GroupKeys            []string `yaml:"group_keys" env:"PARSER_GROUP_KEYS"`
	CoverKeys            []string `yaml:"cover_keys" env:"PARSER_COVER_KEYS"`
	IDKeys               []string `yaml:"id_keys" env:"PARSER_ID_KEYS"`
	PreferAttributeTitle bool     `yaml:"prefer_attribute_title" env:"PARSER_PREFER_ATTRIBUTE_TITLE"`
}

// Options converts the mapping into parser options; empty lists keep the defaults.
func (p Parser) Options() m3u.Options {
	return m3u.Options{
		TitleKeys:            p.TitleKeys,
		GroupKeys:            p.GroupKeys,
		CoverKeys:            p.CoverKeys,
		IDKeys:               p.IDKeys,
		PreferAttributeTitle: p.PreferAttributeTitle,
	}
}

// Load builds config from environment variables. When no store is selected
// by STORE, DATABASE_URL or BOLT_PATH, it first reads .env.local and .env
// from CONFIG_DIR, the working directory and the executable's directory.
func Load() (*Config, error) {
	if os.Getenv("STORE") == "" && os.Getenv("DATABASE_URL") == "" && os.Getenv("BOLT_PATH") == "" {
		loadEnvFiles()
	}
	c := &Config{
		Store:              os.Getenv("STORE"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		MigrationsPath:     os.Getenv("MIGRATIONS_PATH"),
		BoltPath:           os.Getenv("BOLT_PATH"),
		RedisURL:           os.Getenv("REDIS_URL"),
		ServerPort:         os.Getenv("SERVER_PORT"),
		UserAgent:          os.Getenv("FETCHER_USER_AGENT"),
		RefreshCron:        os.Getenv("REFRESH_CRON"),
		LogLevel:           os.Getenv("LOG_LEVEL"),
		LogFormat:          os.Getenv("LOG_FORMAT"),
		RefreshOnBoot:      envBool("REFRESH_ON_BOOT", false),
		SafeLogs:           envBool("SAFE_LOGS", false),
		AllowLocalFiles:    envBool("ALLOW_LOCAL_FILES", false),
		RefreshConcurrency: envInt("REFRESH_CONCURRENCY"),
		MaxPlaylistBytes:   int64(envInt("FETCHER_MAX_BYTES")),
		Parser: Parser{
			TitleKeys:            envList("PARSER_TITLE_KEYS"),
			GroupKeys:            envList("PARSER_GROUP_KEYS"),
			CoverKeys:            envList("PARSER_COVER_KEYS"),
			IDKeys:               envList("PARSER_ID_KEYS"),
			PreferAttributeTitle: envBool("PARSER_PREFER_ATTRIBUTE_TITLE", false),
		},
	}
	if s := os.Getenv("FETCHER_TIMEOUT"); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			c.Timeout = d
		}
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Store == "" {
		if c.DatabaseURL != "" {
			c.Store = StorePostgres
		} else {
			c.Store = StoreBolt
		}
	}
	if c.Store == StoreBolt && c.BoltPath == "" {
		c.BoltPath = "m3uvault.db"
	}
	if c.MigrationsPath == "" {
		c.MigrationsPath = "migrations"
	}
	if c.ServerPort == "" {
		c.ServerPort = "8080"
	}
	if c.UserAgent == "" {
		c.UserAgent = "m3uvault/1.0"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxPlaylistBytes <= 0 {
		c.MaxPlaylistBytes = 64 << 20
	}
	if c.RefreshConcurrency <= 0 {
		c.RefreshConcurrency = 4
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "pretty"
	}
}

// Validate checks the store selection.
func (c *Config) Validate() error {
	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return ErrMissingDatabaseURL
		}
	case StoreBolt:
		if c.BoltPath == "" {
			return ErrMissingBoltPath
		}
	case StoreMemory:
	default:
		return ErrUnknownStore
	}
	return nil
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string) int {
	n, _ := strconv.Atoi(os.Getenv(key))
	return n
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
