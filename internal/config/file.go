package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type fileConfig struct {
	Store              string `yaml:"store"`
	DatabaseURL        string `yaml:"database_url"`
	MigrationsPath     string `yaml:"migrations_path"`
	BoltPath           string `yaml:"bolt_path"`
	RedisURL           string `yaml:"redis_url"`
	ServerPort         string `yaml:"server_port"`
	UserAgent          string `yaml:"user_agent"`
	Timeout            string `yaml:"timeout"`
	MaxPlaylistBytes   int64  `yaml:"max_playlist_bytes"`
	AllowLocalFiles    bool   `yaml:"allow_local_files"`
	RefreshCron        string `yaml:"refresh_cron"`
	RefreshOnBoot      bool   `yaml:"refresh_on_boot"`
	RefreshConcurrency int    `yaml:"refresh_concurrency"`
	LogLevel           string `yaml:"log_level"`
	LogFormat          string `yaml:"log_format"`
	SafeLogs           bool   `yaml:"safe_logs"`
	Parser             Parser `yaml:"parser"`
}

// LoadFromFile loads config from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	c := &Config{
		Store:              f.Store,
		DatabaseURL:        f.DatabaseURL,
		MigrationsPath:     f.MigrationsPath,
		BoltPath:           f.BoltPath,
		RedisURL:           f.RedisURL,
		ServerPort:         f.ServerPort,
		UserAgent:          f.UserAgent,
		MaxPlaylistBytes:   f.MaxPlaylistBytes,
		AllowLocalFiles:    f.AllowLocalFiles,
		RefreshCron:        f.RefreshCron,
		RefreshOnBoot:      f.RefreshOnBoot,
		RefreshConcurrency: f.RefreshConcurrency,
		LogLevel:           f.LogLevel,
		LogFormat:          f.LogFormat,
		SafeLogs:           f.SafeLogs,
		Parser:             f.Parser,
	}
	if f.Timeout != "" {
		if d, err := time.ParseDuration(f.Timeout); err == nil {
			c.Timeout = d
		}
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
