package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/parley-labs/parley/internal/channel/matrix"
	"github.com/parley-labs/parley/internal/command"
	"github.com/parley-labs/parley/internal/engine"
	"github.com/parley-labs/parley/internal/llm"
	"github.com/parley-labs/parley/pkg/cache"
	"github.com/parley-labs/parley/pkg/history"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "Path to config file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("parley %s (%s)\n", version, commit)
		os.Exit(0)
	}

	// Logger
	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	// Load config
	cp := *configPath
	if cp == "" {
		cp = os.Getenv("PARLEY_CONFIG_PATH")
	}

	cfg, err := engine.LoadConfig(cp)
	if err != nil {
		slog.Error("failed to load config", "path", cp, "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// State cache
	var stateCache cache.Cache
	if cfg.Cache.RedisAddr != "" {
		rc, err := cache.NewRedis(cache.RedisConfig{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
			Prefix:   cfg.Name,
		})
		if err != nil {
			slog.Error("failed to connect to redis", "addr", cfg.Cache.RedisAddr, "error", err)
			os.Exit(1)
		}
		stateCache = rc
	} else {
		stateCache = cache.NewMemory(0)
	}

	// Transcript store
	store, err := history.Open(ctx, cfg.History.DSN)
	if err != nil {
		slog.Error("failed to open history store", "dsn", cfg.History.DSN, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Models and router
	models, err := llm.FromConfig(cfg.Models, store)
	if err != nil {
		slog.Error("failed to build models", "error", err)
		os.Exit(1)
	}

	keywords := engine.DefaultKeywords()
	router, err := llm.NewRouter(models, llm.RouterOptions{
		Keywords:         keywords,
		SwallowExhausted: cfg.Fallback.SwallowExhausted,
	})
	if err != nil {
		slog.Error("failed to build router", "error", err)
		os.Exit(1)
	}

	var sessionTTL time.Duration
	if cfg.SessionTTL != "" {
		sessionTTL, err = time.ParseDuration(cfg.SessionTTL)
		if err != nil {
			slog.Error("invalid session_ttl", "value", cfg.SessionTTL, "error", err)
			os.Exit(1)
		}
	}

	eng, err := engine.New(engine.Options{
		Name:                  cfg.Name,
		Maintainers:           cfg.Maintainers,
		CommandPrefix:         cfg.CommandPrefix,
		DisableOutdatedFilter: cfg.DisableOutdatedFilter,
		SessionTTL:            sessionTTL,
		Debug:                 cfg.Debug || *debug,
		Keywords:              keywords,
		SourcePointer:         cfg.SourceURL,
		Cache:                 stateCache,
		Model:                 router,
	})
	if err != nil {
		slog.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	eng.SetCommands(command.NewRunner(eng.Monitor()))

	transport := matrix.New(matrix.Config{
		Homeserver:   cfg.Matrix.Homeserver,
		UserID:       cfg.Matrix.UserID,
		Password:     cfg.Matrix.Password,
		ServerName:   cfg.Matrix.ServerName,
		AllowedUsers: cfg.Matrix.AllowedUsers,
		DataDir:      cfg.Matrix.DataDir,
	})

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	slog.Info("parley starting",
		"version", version,
		"models", len(models),
		"transport", transport.Name(),
	)

	if err := eng.Run(ctx, transport); err != nil {
		slog.Error("engine stopped", "error", err)
		os.Exit(1)
	}
}
