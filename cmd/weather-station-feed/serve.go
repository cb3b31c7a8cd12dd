package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	httpapi "github.com/i474232898/weather-station-feed/internal/api/http"
	"github.com/i474232898/weather-station-feed/internal/config"
	"github.com/i474232898/weather-station-feed/internal/engine"
	"github.com/i474232898/weather-station-feed/internal/feed"
	"github.com/i474232898/weather-station-feed/internal/scheduler"
	"github.com/i474232898/weather-station-feed/internal/sensor"
	"github.com/i474232898/weather-station-feed/internal/sink"
	"github.com/i474232898/weather-station-feed/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Poll the feed on schedule and serve sensor states over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func serve(parent context.Context, cfg *config.AppConfig) error {
	log := newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Host-side state: always kept in memory, optionally mirrored to MQTT and Redis.
	memStore := store.NewMemoryStore()
	writers := sink.Multi{memStore}

	if cfg.MQTTBroker != "" {
		client, err := sink.DialMQTT(cfg.MQTTBroker, cfg.MQTTClientID)
		if err != nil {
			return err
		}
		defer client.Disconnect(250)
		writers = append(writers, sink.NewMQTT(client, cfg.MQTTTopicPrefix))
		log.Info("publishing sensor states to mqtt", "broker", cfg.MQTTBroker, "prefix", cfg.MQTTTopicPrefix)
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: ping %s: %w", cfg.RedisAddr, err)
		}
		writers = append(writers, sink.NewRedis(client, cfg.RedisKeyPrefix))
		log.Info("publishing sensor states to redis", "addr", cfg.RedisAddr, "prefix", cfg.RedisKeyPrefix)
	}

	var observers []engine.Observer
	for _, d := range cfg.Descriptors() {
		observers = append(observers, sensor.New(cfg.FeedURL, cfg.NamePrefix, d, writers))
	}

	reader := feed.NewReader(feed.Options{
		Timeout:          cfg.FetchTimeout,
		BreakerThreshold: uint32(cfg.BreakerThreshold),
		BreakerTimeout:   cfg.BreakerTimeout,
	})

	sched := scheduler.New(log)
	sched.Start()
	defer sched.Stop()

	eng := engine.New(cfg.FeedURL, reader, sched, observers, cfg.Timing(), engine.WithLogger(log))
	eng.Start(ctx)

	app := fiber.New(fiber.Config{
		AppName:               "weather-station-feed",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		st := eng.Status()
		return c.JSON(fiber.Map{
			"status":              "ok",
			"service":             "weather-station-feed",
			"lastSuccess":         st.LastSuccess,
			"consecutiveFailures": st.ConsecutiveFailures,
		})
	})

	httpapi.RegisterRoutes(app, memStore, eng)

	go func() {
		log.Info("http server listening", "port", cfg.Port, "feed", cfg.FeedURL)
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Error("fiber server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error("error during shutdown", "error", err)
	}
	return nil
}
