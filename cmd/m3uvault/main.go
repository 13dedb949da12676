package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/voyagen/m3uvault/internal/cache"
	"github.com/voyagen/m3uvault/internal/config"
	"github.com/voyagen/m3uvault/internal/fetcher"
	"github.com/voyagen/m3uvault/internal/logging"
	"github.com/voyagen/m3uvault/internal/server"
	"github.com/voyagen/m3uvault/internal/service"
	"github.com/voyagen/m3uvault/internal/store"
)

const usage = `usage: m3uvault [-config file] [serve]
       m3uvault [-config file] parse [-subscription-url url] <file|url>
`

func main() {
	configPath := flag.String("config", "", "Optional config file path (YAML); else use environment variables")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFromFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	args := flag.Args()
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}
	switch cmd {
	case "serve":
		err = serve(ctx, cfg, log)
	case "parse":
		err = parse(ctx, cfg, args, os.Stdout)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Error().Err(err).Str("command", cmd).Msg("exiting")
		stop()
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	base, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	// Connect to Redis if REDIS_URL is configured.
	var (
		rds      *cache.Redis
		appStore = base
		opts     = []service.Option{
			service.WithLogger(logging.Component(log, "refresh")),
			service.WithParserOptions(cfg.Parser.Options()),
			service.WithConcurrency(cfg.RefreshConcurrency),
			service.WithRedactor(logging.Redactor(cfg.SafeLogs)),
			service.WithAllowLocal(cfg.AllowLocalFiles),
		}
	)
	if cfg.RedisURL != "" {
		rds, err = cache.New(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rds.Close()
		if err := rds.Ping(ctx); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		appStore = store.NewCachedStore(base, rds, logging.Component(log, "cache"))
		opts = append(opts, service.WithLocker(cache.NewRedisLocker(rds)))
		log.Info().Msg("redis connected (caching, shared locks and async refresh enabled)")
	} else if cfg.Store != config.StoreMemory {
		appStore = store.NewCachedStore(base, cache.NewMemory(10*time.Minute), logging.Component(log, "cache"))
		log.Info().Msg("redis disabled (REDIS_URL not set), using in-process cache")
	}

	f := fetcher.New(cfg.UserAgent, cfg.Timeout, fetcher.WithMaxBytes(cfg.MaxPlaylistBytes))
	refresher := service.NewRefresher(appStore, f, opts...)

	var worker *service.Worker
	if rds != nil {
		worker = service.NewWorker(rds, refresher, logging.Component(log, "worker"))
		go worker.Run(ctx)
	}

	if cfg.RefreshCron != "" {
		sched, err := service.NewScheduler(refresher, cfg.RefreshCron, logging.Component(log, "scheduler"))
		if err != nil {
			return err
		}
		if err := sched.Start(ctx, cfg.RefreshOnBoot); err != nil {
			return err
		}
		defer func() { <-sched.Stop().Done() }()
	} else if cfg.RefreshOnBoot {
		go func() {
			if _, err := refresher.RefreshAll(ctx); err != nil {
				log.Warn().Err(err).Msg("refresh on boot")
			}
		}()
	}

	srv := server.New(appStore, refresher, worker, cfg, logging.Component(log, "http"))
	return srv.ListenAndServe(ctx)
}

// openStore opens the configured backend and returns its close function.
func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (store.Store, func(), error) {
	switch cfg.Store {
	case config.StorePostgres:
		if err := store.RunMigrations(cfg.DatabaseURL, migrationsDir(cfg.MigrationsPath), logging.Component(log, "migrate")); err != nil {
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("db: %w", err)
		}
		log.Info().Msg("postgres store ready")
		return pg, pg.Close, nil
	case config.StoreBolt:
		b, err := store.NewBolt(cfg.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("path", cfg.BoltPath).Msg("bolt store ready")
		return b, func() { _ = b.Close() }, nil
	default:
		m, err := store.NewMemory()
		if err != nil {
			return nil, nil, err
		}
		log.Warn().Msg("memory store: data is lost on exit")
		return m, func() {}, nil
	}
}

// migrationsDir resolves dir against the working directory, falling back to
// the directory of the executable.
func migrationsDir(dir string) string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	if _, err := os.Stat(abs); err != nil && !filepath.IsAbs(dir) {
		if exe, e := os.Executable(); e == nil {
			abs = filepath.Join(filepath.Dir(exe), dir)
		}
	}
	return abs
}
