// Command busfeed runs the consumer side of the telemetry pipeline.
//
// Subcommands:
//
//	busfeed ingest  - consume breadcrumb messages: validate, transform in
//	                  flush-bounded batches, and write trips/breadcrumbs to
//	                  PostgreSQL plus daily CSV/JSON artifacts to the bucket.
//	busfeed stops   - consume stop-event messages: enrich Trip rows and
//	                  write the daily stop-data artifact.
//
// Configuration comes from built-in defaults, an optional YAML file
// (-config), and flags; flags set on the command line win. PostgreSQL flags
// fall back to POSTGRES_* environment variables.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"busfeed/internal/archive"
	"busfeed/internal/config"
	"busfeed/internal/pipeline"
	"busfeed/internal/storage"
	"busfeed/internal/validate"
)

func usage(w io.Writer) {
	fmt.Fprintln(w, "busfeed - vehicle telemetry pipeline (consumer side)")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  busfeed ingest [options]   consume breadcrumbs")
	fmt.Fprintln(w, "  busfeed stops  [options]   consume stop events")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Run 'busfeed <command> -h' for command options.")
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	switch strings.ToLower(os.Args[1]) {
	case "ingest":
		runIngest(os.Args[2:])
	case "stops":
		runStops(os.Args[2:])
	case "-h", "--help", "help":
		usage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		usage(os.Stderr)
		os.Exit(2)
	}
}

// commonFlags registers the flags shared by both subcommands and returns a
// function that folds parsed values into the config.
func commonFlags(fs *flag.FlagSet, defaults config.Config) func() config.Config {
	cfgPath := fs.String("config", "", "YAML config file")
	debug := fs.Bool("debug", false, "Enable debug logging")

	natsURL := fs.String("nats-url", defaults.NATS.URL, "NATS server URL")
	stream := fs.String("stream", defaults.NATS.Stream, "JetStream stream name")

	pgHost := fs.String("pg-host", envOrDefault("POSTGRES_HOST", defaults.Postgres.Host), "PostgreSQL host")
	pgPort := fs.Int("pg-port", envOrDefaultInt("POSTGRES_PORT", defaults.Postgres.Port), "PostgreSQL port")
	pgUser := fs.String("pg-user", envOrDefault("POSTGRES_USER", defaults.Postgres.User), "PostgreSQL user")
	pgPassword := fs.String("pg-password", envOrDefault("POSTGRES_PASSWORD", defaults.Postgres.Password), "PostgreSQL password")
	pgDB := fs.String("pg-database", envOrDefault("POSTGRES_DATABASE", defaults.Postgres.Database), "PostgreSQL database")

	bucket := fs.String("bucket", defaults.Bucket, "Object store bucket (empty disables archiving)")
	rejects := fs.String("rejects", defaults.RejectJournal, "Reject journal SQLite path (empty disables)")

	chHost := fs.String("ch-host", "", "ClickHouse host (empty disables the audit sink)")
	chPort := fs.Int("ch-port", 9000, "ClickHouse port")
	chDB := fs.String("ch-database", "busfeed", "ClickHouse database")
	chUser := fs.String("ch-user", "default", "ClickHouse user")
	chPassword := fs.String("ch-password", "", "ClickHouse password")

	flushSize := fs.Int("flush-size", defaults.Pipeline.FlushSize, "Flush after this many accepted records")
	flushInterval := fs.Duration("flush-interval", defaults.Pipeline.FlushInterval, "Flush on this period")
	timeout := fs.Duration("timeout", defaults.Pipeline.RunTimeout, "Overall run timeout")

	return func() config.Config {
		setupLogging(*debug)

		cfg, err := config.Load(*cfgPath)
		if err != nil {
			log.Fatal().Err(err).Msg("config load failed")
		}

		// Flags set explicitly on the command line win over the file.
		fs.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "nats-url":
				cfg.NATS.URL = *natsURL
			case "stream":
				cfg.NATS.Stream = *stream
			case "pg-host":
				cfg.Postgres.Host = *pgHost
			case "pg-port":
				cfg.Postgres.Port = *pgPort
			case "pg-user":
				cfg.Postgres.User = *pgUser
			case "pg-password":
				cfg.Postgres.Password = *pgPassword
			case "pg-database":
				cfg.Postgres.Database = *pgDB
			case "bucket":
				cfg.Bucket = *bucket
			case "rejects":
				cfg.RejectJournal = *rejects
			case "flush-size":
				cfg.Pipeline.FlushSize = *flushSize
			case "flush-interval":
				cfg.Pipeline.FlushInterval = *flushInterval
			case "timeout":
				cfg.Pipeline.RunTimeout = *timeout
			}
		})
		if *cfgPath == "" {
			// No file in play; flag defaults (including env fallbacks)
			// are authoritative.
			cfg.NATS.URL = *natsURL
			cfg.NATS.Stream = *stream
			cfg.Postgres = storage.PostgresConfig{
				Host: *pgHost, Port: *pgPort, User: *pgUser,
				Password: *pgPassword, Database: *pgDB,
			}
			cfg.Bucket = *bucket
			cfg.RejectJournal = *rejects
			cfg.Pipeline.FlushSize = *flushSize
			cfg.Pipeline.FlushInterval = *flushInterval
			cfg.Pipeline.RunTimeout = *timeout
		}
		if *chHost != "" {
			cfg.ClickHouse = &storage.ClickHouseConfig{
				Host: *chHost, Port: *chPort, Database: *chDB,
				User: *chUser, Password: *chPassword,
			}
		}
		return cfg
	}
}

func runIngest(args []string) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	resolve := commonFlags(fs, config.Default())
	subject := fs.String("subject", config.Default().NATS.BreadcrumbSubject, "Breadcrumb subject")
	durable := fs.String("durable", "busfeed-ingest", "Durable consumer name")
	initSchema := fs.Bool("init-schema", false, "Create database tables before ingesting")
	_ = fs.Parse(args)

	cfg := resolve()
	logger := log.With().Str("component", "ingest").Logger()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pg, js, nc := connect(ctx, cfg, *initSchema)
	defer nc.Close()
	defer pg.Close()

	var archiver pipeline.Archiver
	if cfg.Bucket != "" {
		bucket, err := archive.NewGCSBucket(ctx, cfg.Bucket)
		if err != nil {
			logger.Fatal().Err(err).Msg("object store unavailable")
		}
		archiver = archive.NewUploader(bucket, logger)
	}

	p := pipeline.New(pipeline.Config{
		FlushSize:     cfg.Pipeline.FlushSize,
		FlushInterval: cfg.Pipeline.FlushInterval,
	}, validate.NewTracker(), pg, archiver, logger)

	attachOptionalSinks(ctx, cfg, *initSchema, logger, p.SetAudit, p.SetRejectJournal)

	runCtx, cancelRun := context.WithTimeout(ctx, cfg.Pipeline.RunTimeout)
	defer cancelRun()

	src := pipeline.NewNATSSource(js, *subject, *durable)
	if err := p.Run(runCtx, src); err != nil {
		logger.Fatal().Err(err).Msg("pipeline failed")
	}
}

func runStops(args []string) {
	fs := flag.NewFlagSet("stops", flag.ExitOnError)
	resolve := commonFlags(fs, config.Default())
	subject := fs.String("subject", config.Default().NATS.StopSubject, "Stop-event subject")
	durable := fs.String("durable", "busfeed-stops", "Durable consumer name")
	initSchema := fs.Bool("init-schema", false, "Create database tables before ingesting")
	_ = fs.Parse(args)

	cfg := resolve()
	logger := log.With().Str("component", "stops").Logger()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pg, js, nc := connect(ctx, cfg, *initSchema)
	defer nc.Close()
	defer pg.Close()

	var archiver pipeline.StopArchiver
	if cfg.Bucket != "" {
		bucket, err := archive.NewGCSBucket(ctx, cfg.Bucket)
		if err != nil {
			logger.Fatal().Err(err).Msg("object store unavailable")
		}
		archiver = archive.NewUploader(bucket, logger)
	}

	p := pipeline.NewStopPipeline(pg, archiver, logger)
	attachOptionalSinks(ctx, cfg, *initSchema, logger, p.SetAudit, p.SetRejectJournal)

	runCtx, cancelRun := context.WithTimeout(ctx, cfg.Pipeline.RunTimeout)
	defer cancelRun()

	src := pipeline.NewNATSSource(js, *subject, *durable)
	if err := p.Run(runCtx, src); err != nil {
		logger.Fatal().Err(err).Msg("pipeline failed")
	}
}

// connect opens the queue and the relational store. Startup failures here
// are the only fatal errors in the process.
func connect(ctx context.Context, cfg config.Config, initSchema bool) (*storage.PostgresDB, nats.JetStreamContext, *nats.Conn) {
	nc, err := nats.Connect(cfg.NATS.URL, nats.Name("busfeed"))
	if err != nil {
		log.Fatal().Err(err).Str("url", cfg.NATS.URL).Msg("queue unreachable")
	}
	js, err := nc.JetStream()
	if err != nil {
		log.Fatal().Err(err).Msg("jetstream unavailable")
	}
	err = pipeline.EnsureStream(js, cfg.NATS.Stream, []string{
		cfg.NATS.BreadcrumbSubject, cfg.NATS.StopSubject,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("stream setup failed")
	}

	pg, err := storage.OpenPostgres(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres unreachable")
	}
	if initSchema {
		if err := pg.CreateSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("schema setup failed")
		}
	}
	return pg, js, nc
}

// attachOptionalSinks wires the ClickHouse audit sink and the SQLite reject
// journal when configured. Neither is required for the pipeline to run.
func attachOptionalSinks(ctx context.Context, cfg config.Config, initSchema bool, logger zerolog.Logger,
	setAudit func(pipeline.Audit), setRejects func(pipeline.Rejects)) {

	if cfg.ClickHouse != nil {
		ch, err := storage.OpenClickHouse(ctx, *cfg.ClickHouse)
		if err != nil {
			logger.Fatal().Err(err).Msg("clickhouse unreachable")
		}
		if initSchema {
			if err := ch.CreateSchema(ctx); err != nil {
				logger.Fatal().Err(err).Msg("clickhouse schema setup failed")
			}
		}
		setAudit(ch)
	}

	if cfg.RejectJournal != "" {
		journal, err := storage.OpenRejectJournal(cfg.RejectJournal)
		if err != nil {
			logger.Fatal().Err(err).Msg("reject journal unavailable")
		}
		setRejects(journal)
	}
}

func setupLogging(debug bool) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	if debug {
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	} else {
		log.Logger = log.Logger.Level(zerolog.InfoLevel)
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}
