package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/cyberinferno/dotgame/config"
	"github.com/cyberinferno/dotgame/gameserver"
	"github.com/cyberinferno/dotgame/logger"
	"github.com/cyberinferno/dotgame/metrics"
	"github.com/cyberinferno/dotgame/palette"
)

const (
	redisPingTimeout  = 3 * time.Second
	colorCacheCleanup = 10 * time.Minute
)

func serveCmd() *cobra.Command {
	cfg := config.Default()
	config.LoadFromEnv(&cfg)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the game server",
		Long: `Run the game server.

Settings come from defaults, then DOTGAME_* environment variables, then flags.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cfg)
		},
	}
	cfg.BindFlags(cmd.Flags())

	return cmd
}

func runServe(ctx context.Context, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.New(logger.Options{
		Service: cfg.ServiceName,
		Level:   cfg.LogLevel,
		Pretty:  cfg.LogPretty,
		Dir:     cfg.LogDir,
	})
	if err != nil {
		return err
	}
	defer log.Close()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	store, closeStore, err := colorStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	srv := gameserver.New(gameserver.Options{
		Config:   cfg,
		Logger:   log,
		Colors:   palette.NewAssigner(store),
		Metrics:  metrics.New(promReg, ""),
		Gatherer: promReg,
	})

	return srv.Run(ctx)
}

// colorStore picks Redis when an address is configured and the in-process
// cache otherwise.
func colorStore(ctx context.Context, cfg config.Config, log logger.Logger) (palette.Store, func(), error) {
	if cfg.RedisAddr == "" {
		log.Info("color memory in process", logger.Field{Key: "ttl", Value: cfg.ColorTTL.String()})
		return palette.NewMemoryStore(cfg.ColorTTL, colorCacheCleanup), func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	store := palette.NewRedisStore(rdb, palette.DefaultRedisPrefix, cfg.ColorTTL)

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
	}

	log.Info("color memory in redis", logger.Field{Key: "addr", Value: cfg.RedisAddr})
	return store, func() { _ = rdb.Close() }, nil
}
