package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atrarium/atrarium/community"
	"github.com/atrarium/atrarium/ingest"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "atrarium",
		Usage:   "community feed indexing daemon",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "relay-host",
			Usage:   "hostname and port of the relay to subscribe to",
			Value:   "wss://jetstream2.us-east.bsky.network",
			EnvVars: []string{"ATRARIUM_RELAY_HOST"},
		},
	}

	app.Commands = []*cli.Command{
		runCmd,
	}

	return app.Run(args)
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the service",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "data-dir",
			Usage:   "directory for the community state store",
			Value:   "data/atrarium/groups",
			EnvVars: []string{"ATRARIUM_DATA_DIR"},
		},
		&cli.StringFlag{
			Name:    "cursor-db",
			Usage:   "sqlite file for relay cursor state",
			Value:   "data/atrarium/cursor.db",
			EnvVars: []string{"ATRARIUM_CURSOR_DB"},
		},
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "IP or address, and port, to listen on for the feed API",
			Value:   ":3595",
			EnvVars: []string{"ATRARIUM_BIND"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics",
			Value:   ":3594",
			EnvVars: []string{"ATRARIUM_METRICS_LISTEN"},
		},
		&cli.DurationFlag{
			Name:    "retention-window",
			Usage:   "how long post index entries are kept, from their own creation time",
			Value:   community.DefaultRetention,
			EnvVars: []string{"ATRARIUM_RETENTION_WINDOW"},
		},
		&cli.DurationFlag{
			Name:    "cleanup-interval",
			Usage:   "how often the retention sweep runs",
			Value:   time.Hour,
			EnvVars: []string{"ATRARIUM_CLEANUP_INTERVAL"},
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
		slog.SetDefault(logger)

		// Enable OTLP HTTP exporter
		// For relevant environment variables:
		// https://pkg.go.dev/go.opentelemetry.io/otel/exporters/otlp/otlptrace#readme-environment-variables
		// At a minimum, you need to set
		// OTEL_EXPORTER_OTLP_ENDPOINT=http://localhost:4318
		if ep := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); ep != "" {
			logger.Info("setting up trace exporter", "endpoint", ep)
			exp, err := otlptracehttp.New(ctx)
			if err != nil {
				return fmt.Errorf("failed to create trace exporter: %w", err)
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				if err := exp.Shutdown(ctx); err != nil {
					logger.Error("failed to shutdown trace exporter", "err", err)
				}
			}()

			tp := tracesdk.NewTracerProvider(
				tracesdk.WithBatcher(exp),
				tracesdk.WithResource(resource.NewWithAttributes(
					semconv.SchemaURL,
					semconv.ServiceNameKey.String("atrarium"),
					attribute.String("env", os.Getenv("ENVIRONMENT")),
				)),
			)
			otel.SetTracerProvider(tp)
		}

		store, err := community.OpenStore(cctx.String("data-dir"))
		if err != nil {
			return err
		}
		defer store.Close()

		db, err := gorm.Open(sqlite.Open(cctx.String("cursor-db")), &gorm.Config{})
		if err != nil {
			return fmt.Errorf("opening cursor database: %w", err)
		}

		mgr := community.NewManager(store, logger)
		router := ingest.NewRouter(mgr, logger)
		consumer, err := ingest.NewConsumer(cctx.String("relay-host"), router, db, logger)
		if err != nil {
			return err
		}

		srv := NewServer(mgr, Config{
			Logger: logger,
		})

		go func() {
			if err := srv.RunMetrics(cctx.String("metrics-listen")); err != nil {
				logger.Error("failed to start metrics endpoint", "err", err)
			}
		}()
		go func() {
			if err := srv.RunAPI(cctx.String("bind")); err != nil {
				logger.Error("feed API stopped", "err", err)
			}
		}()
		go srv.RunCleanup(ctx, cctx.Duration("cleanup-interval"), cctx.Duration("retention-window"))

		if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("failed to run relay consumer: %w", err)
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := consumer.Flush(); err != nil {
			logger.Error("failed to persist final cursor", "err", err)
		}
		return srv.Shutdown(shutdownCtx)
	},
}
