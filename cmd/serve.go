package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"google.golang.org/api/option"

	"intake/internal/config"
	"intake/internal/invoice"
	"intake/internal/logger"
	"intake/internal/media"
	"intake/internal/secrets"
	"intake/internal/webhook"
	"intake/internal/whatsapp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the WhatsApp webhook server",
	Long: `Start the HTTP server that Meta calls for the WhatsApp Cloud API webhook.

GET / answers the subscription handshake, POST / accepts message
notifications. Every image message is downloaded, analyzed with the Document
AI invoice parser, saved to the configured sink, and acknowledged with a reply
to the sender.

Required environment variables:
  WHATSAPP_VERIFY_TOKEN - Token configured in the Meta app dashboard
  WHATSAPP_ACCESS_TOKEN - Permanent access token, OR
  WHATSAPP_TOKEN_SECRET_ID - Secret Manager secret holding it
  GOOGLE_CLOUD_PROJECT - Your Google Cloud project ID
  DOCUMENT_AI_PROCESSOR_ID - Your Document AI invoice processor ID

Optional:
  WHATSAPP_APP_SECRET - Enables X-Hub-Signature-256 checks
  SINK - sheets, postgres or log (default: log)
  GOOGLE_SHEET_URL - Required for SINK=sheets
  DATABASE_URL - Required for SINK=postgres`,
	Example: `  # Listen on $PORT (default 8080)
  intake serve

  # Listen on a specific port
  intake serve --port 9000`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("port", "", "Port to listen on (default: $PORT or 8080)")
	serveCmd.Flags().Duration("shutdown-timeout", 30*time.Second, "Time to finish queued messages on shutdown")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("serve")

	port, _ := cmd.Flags().GetString("port")
	shutdownTimeout, _ := cmd.Flags().GetDuration("shutdown-timeout")

	cfg, err := loadConfig((*config.Config).ValidateServe)
	if err != nil {
		return err
	}
	if port == "" {
		port = cfg.Port
	}

	ctx, cancel := signalContext(0, log)
	defer cancel()

	accessToken, err := resolveAccessToken(ctx, cfg, log)
	if err != nil {
		return err
	}

	analyzer, err := newAnalyzer(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := analyzer.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close Document AI client")
		}
	}()

	sink, closeSink, err := openSink(ctx, cfg, logger.WithComponent("sink"))
	if err != nil {
		return err
	}
	defer closeSink()

	client := whatsapp.NewClient(whatsapp.ClientConfig{
		BaseURL:      cfg.WhatsAppAPIBaseURL,
		APIVersion:   cfg.WhatsAppAPIVersion,
		AccessToken:  accessToken,
		RateLimit:    cfg.MediaRateLimit,
		MaxBodyBytes: cfg.MediaMaxBytes,
	})

	dispatcher := webhook.NewDispatcher(client, invoice.NewProcessor(analyzer), sink, client, webhook.DispatcherConfig{
		Workers:         cfg.DispatchWorkers,
		QueueSize:       cfg.DispatchQueueSize,
		ProcessTimeout:  cfg.ProcessTimeout,
		DeliveryTimeout: cfg.DeliveryTimeout,
		ReplyMessage:    cfg.WhatsAppReplyMessage,
		Media: media.Options{
			MaxBytes:     cfg.MediaMaxBytes,
			MaxDimension: cfg.MediaMaxDimension,
		},
	})

	// Workers outlive the signal context so queued messages can drain
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	dispatcher.Start(workerCtx)

	gin.SetMode(gin.ReleaseMode)
	server := &http.Server{
		Addr: ":" + port,
		Handler: webhook.NewRouter(webhook.RouterConfig{
			VerifyToken: cfg.WhatsAppVerifyToken,
			AppSecret:   cfg.WhatsAppAppSecret,
		}, dispatcher),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.WhatsAppAppSecret == "" {
		log.Warn().Msg("WHATSAPP_APP_SECRET not set, webhook signatures are not verified")
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Str("sink", cfg.Sink).Msg("Webhook server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("webhook server failed: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown incomplete")
	}
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Queued messages were not all processed")
	}

	log.Info().Msg("Webhook server stopped")
	return nil
}

// resolveAccessToken returns WHATSAPP_ACCESS_TOKEN or reads it from Secret Manager.
func resolveAccessToken(ctx context.Context, cfg *config.Config, log zerolog.Logger) (string, error) {
	if cfg.WhatsAppAccessToken != "" {
		return cfg.WhatsAppAccessToken, nil
	}

	var opts []option.ClientOption
	switch {
	case cfg.GoogleCredentials != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.GoogleCredentials)))
	case cfg.GoogleApplicationCredentials != "":
		opts = append(opts, option.WithCredentialsFile(cfg.GoogleApplicationCredentials))
	}

	resolver, err := secrets.NewResolver(ctx, cfg.GoogleCloudProject, opts...)
	if err != nil {
		return "", fmt.Errorf("failed to create secret resolver: %w", err)
	}
	defer func() {
		if err := resolver.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close Secret Manager client")
		}
	}()

	token, err := resolver.Resolve(ctx, cfg.WhatsAppTokenSecretID, "")
	if err != nil {
		return "", fmt.Errorf("failed to load WhatsApp access token: %w", err)
	}
	return token, nil
}
