// Command busscrape runs the producer side of the telemetry pipeline: it
// polls the upstream API for each vehicle in the roster and publishes one
// queue message per record.
//
// Subcommands:
//
//	busscrape breadcrumbs  - fetch GPS breadcrumbs per vehicle
//	busscrape stops        - scrape stop-event tables per vehicle
//
// The vehicle roster comes from the YAML config file (scrape.vehicles) or
// from -vehicles as a comma-separated list.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"busfeed/internal/config"
	"busfeed/internal/pipeline"
	"busfeed/internal/scrape"
)

func usage(w io.Writer) {
	fmt.Fprintln(w, "busscrape - vehicle telemetry pipeline (producer side)")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  busscrape breadcrumbs [options]   publish GPS breadcrumbs")
	fmt.Fprintln(w, "  busscrape stops       [options]   publish stop events")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Run 'busscrape <command> -h' for command options.")
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	switch strings.ToLower(os.Args[1]) {
	case "breadcrumbs":
		run(os.Args[2:], false)
	case "stops":
		run(os.Args[2:], true)
	case "-h", "--help", "help":
		usage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		usage(os.Stderr)
		os.Exit(2)
	}
}

func run(args []string, stops bool) {
	name := "breadcrumbs"
	if stops {
		name = "stops"
	}
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	cfgPath := fs.String("config", "", "YAML config file")
	debug := fs.Bool("debug", false, "Enable debug logging")
	natsURL := fs.String("nats-url", config.Default().NATS.URL, "NATS server URL")
	stream := fs.String("stream", config.Default().NATS.Stream, "JetStream stream name")
	subject := fs.String("subject", "", "Publish subject (default from config)")
	baseURL := fs.String("base-url", "", "Upstream endpoint prefix (default from config)")
	vehicles := fs.String("vehicles", "", "Comma-separated vehicle IDs (default from config)")
	_ = fs.Parse(args)

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	if *debug {
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	} else {
		log.Logger = log.Logger.Level(zerolog.InfoLevel)
	}
	logger := log.With().Str("component", "busscrape-"+name).Logger()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("config load failed")
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "nats-url":
			cfg.NATS.URL = *natsURL
		case "stream":
			cfg.NATS.Stream = *stream
		}
	})

	subj := cfg.NATS.BreadcrumbSubject
	url := cfg.Scrape.BreadcrumbURL
	if stops {
		subj = cfg.NATS.StopSubject
		url = cfg.Scrape.StopURL
	}
	if *subject != "" {
		subj = *subject
	}
	if *baseURL != "" {
		url = *baseURL
	}

	roster := cfg.Scrape.Vehicles
	if *vehicles != "" {
		roster, err = parseRoster(*vehicles)
		if err != nil {
			logger.Fatal().Err(err).Msg("bad -vehicles value")
		}
	}
	if len(roster) == 0 {
		logger.Fatal().Msg("no vehicles configured; set scrape.vehicles or -vehicles")
	}

	nc, err := nats.Connect(cfg.NATS.URL, nats.Name("busscrape"))
	if err != nil {
		logger.Fatal().Err(err).Str("url", cfg.NATS.URL).Msg("queue unreachable")
	}
	defer nc.Close()

	js, err := nc.JetStream()
	if err != nil {
		logger.Fatal().Err(err).Msg("jetstream unavailable")
	}
	err = pipeline.EnsureStream(js, cfg.NATS.Stream, []string{
		cfg.NATS.BreadcrumbSubject, cfg.NATS.StopSubject,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("stream setup failed")
	}

	ctx := context.Background()
	client := scrape.NewClient(url)
	pub := jsPublisher{js}

	var published int
	if stops {
		published = scrape.PublishStopEvents(ctx, client, pub, subj, roster, logger)
	} else {
		published = scrape.PublishBreadcrumbs(ctx, client, pub, subj, roster, logger)
	}
	logger.Info().Int("published", published).Int("vehicles", len(roster)).Msg("publishing complete")
}

// jsPublisher adapts JetStream publish to the scrape.Publisher interface.
type jsPublisher struct {
	js nats.JetStreamContext
}

func (p jsPublisher) Publish(subject string, data []byte) error {
	_, err := p.js.Publish(subject, data)
	return err
}

func parseRoster(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	ids := make([]int, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("vehicle ID %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
