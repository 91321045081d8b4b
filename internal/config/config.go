package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"intake/internal/invoice"
	"intake/internal/logger"
)

// Supported persistence sinks
const (
	SinkSheets   = "sheets"
	SinkPostgres = "postgres"
	SinkLog      = "log"
)

type Config struct {
	// HTTP Server Configuration
	Port string

	// WhatsApp Cloud API Configuration
	WhatsAppVerifyToken   string
	WhatsAppAppSecret     string
	WhatsAppAccessToken   string
	WhatsAppTokenSecretID string
	WhatsAppAPIBaseURL    string
	WhatsAppAPIVersion    string
	WhatsAppReplyMessage  string

	// Media Configuration
	MediaRateLimit    float64 // Graph API requests per second
	MediaMaxBytes     int64
	MediaMaxDimension int

	// Dispatcher Configuration
	DispatchWorkers   int
	DispatchQueueSize int
	ProcessTimeout    time.Duration
	DeliveryTimeout   time.Duration // Save and reply, after processing

	// Google Cloud Configuration
	GoogleCloudProject           string
	GoogleCloudLocation          string
	DocumentAIProcessorID        string
	DocumentAIProcessorVersion   string
	DocumentAITimeout            time.Duration
	GoogleCredentials            string
	GoogleApplicationCredentials string

	// Persistence Configuration
	Sink                 string
	GoogleSheetURL       string
	GoogleSheetWorksheet string
	DatabaseURL          string

	// Logging Configuration
	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
}

func Load() (*Config, error) {
	config := &Config{
		Port:                         getEnv("PORT", "8080"),
		WhatsAppVerifyToken:          getEnv("WHATSAPP_VERIFY_TOKEN", ""),
		WhatsAppAppSecret:            getEnv("WHATSAPP_APP_SECRET", ""),
		WhatsAppAccessToken:          getEnv("WHATSAPP_ACCESS_TOKEN", ""),
		WhatsAppTokenSecretID:        getEnv("WHATSAPP_TOKEN_SECRET_ID", "whatsapp-permanent-token"),
		WhatsAppAPIBaseURL:           getEnv("WHATSAPP_API_BASE_URL", "https://graph.facebook.com"),
		WhatsAppAPIVersion:           getEnv("WHATSAPP_API_VERSION", "v19.0"),
		WhatsAppReplyMessage:         getEnv("WHATSAPP_REPLY_MESSAGE", "Your invoice has been received and processed."),
		GoogleCloudProject:           getEnv("GOOGLE_CLOUD_PROJECT", ""),
		GoogleCloudLocation:          getEnv("GOOGLE_CLOUD_LOCATION", "us"),
		DocumentAIProcessorID:        getEnv("DOCUMENT_AI_PROCESSOR_ID", ""),
		DocumentAIProcessorVersion:   getEnv("DOCUMENT_AI_PROCESSOR_VERSION", ""),
		GoogleCredentials:            getEnv("GOOGLE_CREDENTIALS", ""),
		GoogleApplicationCredentials: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
		Sink:                         strings.ToLower(getEnv("SINK", SinkLog)),
		GoogleSheetURL:               getEnv("GOOGLE_SHEET_URL", ""),
		GoogleSheetWorksheet:         getEnv("GOOGLE_SHEET_WORKSHEET", "Invoices"),
		DatabaseURL:                  getEnv("DATABASE_URL", ""),
		LogLevel:                     getEnv("LOG_LEVEL", "info"),
		LogFormat:                    getEnv("LOG_FORMAT", "console"),
		LogTimeFormat:                getEnv("LOG_TIME_FORMAT", "2006-01-02T15:04:05Z07:00"),
		LogOutput:                    getEnv("LOG_OUTPUT", "stdout"),
	}

	var err error
	if config.MediaRateLimit, err = getEnvFloat("MEDIA_RATE_LIMIT", 5); err != nil {
		return nil, err
	}
	if config.MediaMaxBytes, err = getEnvInt64("MEDIA_MAX_BYTES", invoice.MaxDocumentSizeBytes); err != nil {
		return nil, err
	}
	if config.MediaMaxDimension, err = getEnvInt("MEDIA_MAX_DIMENSION", 2400); err != nil {
		return nil, err
	}
	if config.DispatchWorkers, err = getEnvInt("DISPATCH_WORKERS", 4); err != nil {
		return nil, err
	}
	if config.DispatchQueueSize, err = getEnvInt("DISPATCH_QUEUE_SIZE", 64); err != nil {
		return nil, err
	}
	if config.ProcessTimeout, err = getEnvDuration("PROCESS_TIMEOUT", 2*time.Minute); err != nil {
		return nil, err
	}
	if config.DeliveryTimeout, err = getEnvDuration("DELIVERY_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if config.DocumentAITimeout, err = getEnvDuration("DOCUMENT_AI_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// validate checks settings every command depends on
func (c *Config) validate() error {
	switch c.Sink {
	case SinkSheets, SinkPostgres, SinkLog:
	default:
		return fmt.Errorf("SINK must be one of %s, %s, %s (got %q)", SinkSheets, SinkPostgres, SinkLog, c.Sink)
	}
	if c.DispatchWorkers <= 0 {
		return fmt.Errorf("DISPATCH_WORKERS must be positive")
	}
	if c.DispatchQueueSize < 0 {
		return fmt.Errorf("DISPATCH_QUEUE_SIZE cannot be negative")
	}
	if c.MediaRateLimit <= 0 {
		return fmt.Errorf("MEDIA_RATE_LIMIT must be positive")
	}
	if c.MediaMaxBytes <= 0 {
		return fmt.Errorf("MEDIA_MAX_BYTES must be positive")
	}
	return nil
}

// ValidateExtract checks the settings needed to analyze a document.
func (c *Config) ValidateExtract() error {
	if c.GoogleCloudProject == "" {
		return fmt.Errorf("GOOGLE_CLOUD_PROJECT is required")
	}
	if c.DocumentAIProcessorID == "" {
		return fmt.Errorf("DOCUMENT_AI_PROCESSOR_ID is required")
	}
	return c.ValidateSink()
}

// ValidateSink checks the settings of the selected persistence sink.
func (c *Config) ValidateSink() error {
	switch c.Sink {
	case SinkSheets:
		if c.GoogleSheetURL == "" {
			return fmt.Errorf("GOOGLE_SHEET_URL is required when SINK=%s", SinkSheets)
		}
	case SinkPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when SINK=%s", SinkPostgres)
		}
	}
	return nil
}

// ValidateServe checks the settings needed to run the webhook server.
// The access token may still come from Secret Manager, so it is not required here.
func (c *Config) ValidateServe() error {
	if c.WhatsAppVerifyToken == "" {
		return fmt.Errorf("WHATSAPP_VERIFY_TOKEN is required")
	}
	if c.WhatsAppAccessToken == "" && c.WhatsAppTokenSecretID == "" {
		return fmt.Errorf("WHATSAPP_ACCESS_TOKEN or WHATSAPP_TOKEN_SECRET_ID is required")
	}
	return c.ValidateExtract()
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

// GetDocumentAIConfig returns the Document AI processor configuration
func (c *Config) GetDocumentAIConfig() invoice.DocumentAIConfig {
	return invoice.DocumentAIConfig{
		ProjectID:        c.GoogleCloudProject,
		Location:         c.GoogleCloudLocation,
		ProcessorID:      c.DocumentAIProcessorID,
		ProcessorVersion: c.DocumentAIProcessorVersion,
		Timeout:          c.DocumentAITimeout,
		CredentialsJSON:  c.GoogleCredentials,
		CredentialsFile:  c.GoogleApplicationCredentials,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return parsed, nil
}

func getEnvInt64(key string, defaultValue int64) (int64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return parsed, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number: %w", key, err)
	}
	return parsed, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration like 30s or 2m: %w", key, err)
	}
	return parsed, nil
}
