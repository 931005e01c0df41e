package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/pteich/configstruct"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pteich/elastic-client-kit/elastic"
	"github.com/pteich/elastic-client-kit/export"
	"github.com/pteich/elastic-client-kit/flags"
	"github.com/pteich/elastic-client-kit/importer"
)

var Version string

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Fatal().Err(err).Msg("Error loading .env file")
	}

	conf := flags.Default()
	if err := configstruct.Parse(&conf); err != nil {
		log.Fatal().Err(err).Msg("Error parsing flags")
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if conf.Trace {
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	log.Debug().Str("version", Version).Str("mode", conf.Mode).Msg("Starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts, err := conf.SessionOptions()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid connection settings")
	}
	es, err := elastic.NewSession(append(opts, elastic.WithLogger(log.Logger))...)
	if err != nil {
		log.Fatal().Err(err).Msg("Error connecting to ElasticSearch")
	}

	switch conf.Mode {
	case flags.ModeImport:
		err = importer.Run(ctx, &conf, es)
	case flags.ModeExport, "":
		err = export.Run(ctx, &conf, es)
	default:
		err = errors.Errorf("unknown mode %q", conf.Mode)
	}

	if cerr := es.Close(context.Background()); cerr != nil {
		log.Warn().Err(cerr).Msg("Error closing session")
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed")
		os.Exit(1)
	}
}
