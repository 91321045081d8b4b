package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"intake/internal/config"
	"intake/internal/invoice"
	"intake/internal/sheets"
	"intake/internal/store"
	"intake/pkg/services"
)

// loadConfig loads configuration and applies a command-specific check.
func loadConfig(validate func(*config.Config) error) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// signalContext returns a context canceled on SIGINT/SIGTERM and, when
// timeout is positive, after timeout.
func signalContext(timeout time.Duration, log zerolog.Logger) (context.Context, context.CancelFunc) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			log.Info().
				Str("signal", sig.String()).
				Msg("Received interrupt signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// openSink builds the configured RecordSink. The returned close function is never nil.
func openSink(ctx context.Context, cfg *config.Config, log zerolog.Logger) (services.RecordSink, func(), error) {
	noop := func() {}

	switch cfg.Sink {
	case config.SinkSheets:
		svc, err := sheets.NewSheetsService(ctx, cfg.GoogleSheetURL, cfg.GoogleSheetWorksheet, sheets.Credentials{
			JSON: cfg.GoogleCredentials,
			File: cfg.GoogleApplicationCredentials,
		})
		if err != nil {
			return nil, noop, fmt.Errorf("failed to create Google Sheets sink: %w", err)
		}
		log.Info().Str("worksheet", cfg.GoogleSheetWorksheet).Msg("Using Google Sheets sink")
		return svc, noop, nil

	case config.SinkPostgres:
		sink, err := store.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to create PostgreSQL sink: %w", err)
		}
		log.Info().Msg("Using PostgreSQL sink")
		return sink, func() {
			if err := sink.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close database")
			}
		}, nil

	default:
		log.Info().Msg("Using log sink")
		return services.NewLogSink(log), noop, nil
	}
}

// newAnalyzer creates the Document AI analyzer with a user-friendly error.
func newAnalyzer(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*invoice.DocumentAIAnalyzer, error) {
	analyzer, err := invoice.NewDocumentAIAnalyzer(ctx, cfg.GetDocumentAIConfig())
	if err != nil {
		if errors.Is(err, invoice.ErrMissingCredentials) {
			log.Error().
				Err(err).
				Msg("Google Cloud credentials not configured")
			return nil, fmt.Errorf("missing Google Cloud credentials. Please set one of:\n"+
				"  GOOGLE_APPLICATION_CREDENTIALS=/path/to/service-account-key.json\n"+
				"  GOOGLE_CREDENTIALS='<json-credentials>'\n"+
				"or run on a host with Application Default Credentials.\n"+
				"Original error: %w", err)
		}
		if errors.Is(err, invoice.ErrInvalidConfiguration) {
			log.Error().
				Err(err).
				Msg("Document AI configuration invalid")
			return nil, fmt.Errorf("invalid Document AI configuration. Please check your .env file:\n"+
				"  GOOGLE_CLOUD_PROJECT - your Google Cloud project ID\n"+
				"  GOOGLE_CLOUD_LOCATION - processing location (us, eu, etc.)\n"+
				"  DOCUMENT_AI_PROCESSOR_ID - your Document AI processor ID\n"+
				"Original error: %w", err)
		}
		log.Error().
			Err(err).
			Msg("Failed to create Document AI analyzer")
		return nil, fmt.Errorf("failed to create Document AI analyzer: %w", err)
	}

	log.Debug().Str("processor", cfg.GetDocumentAIConfig().ProcessorName()).Msg("Document AI analyzer created")
	return analyzer, nil
}
