// Package invoice turns Google Document AI invoice parser results into
// normalized invoice records.
//
// The extraction itself (FindEntity, ParseAmount, Extract, Analyze) is pure
// and works on RawEntity values. DocumentAIAnalyzer produces those entities
// from image bytes and Processor chains the two.
//
// Document AI API Limitations:
//   - Maximum file size: 20MB for synchronous processing
//   - Supported formats: PDF, TIFF, GIF, JPEG, PNG, BMP, WEBP
//   - Quota limits apply (check Google Cloud Console)
package invoice

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"intake/internal/logger"
)

// Analyzer produces the entity list of a document.
type Analyzer interface {
	Analyze(ctx context.Context, content []byte, mimeType string) ([]RawEntity, error)
}

// DocumentAIConfig holds configuration for Google Document AI processing.
type DocumentAIConfig struct {
	// ProjectID is the Google Cloud project ID where Document AI is enabled.
	ProjectID string

	// Location is the processing location (e.g., "us", "eu").
	// Should match where your Document AI processor is created.
	Location string

	// ProcessorID is the Document AI invoice processor ID.
	ProcessorID string

	// ProcessorVersion specifies a particular processor version.
	// If empty, uses the default version.
	ProcessorVersion string

	// Timeout is the maximum time to wait for processing.
	// Default: 60 seconds.
	Timeout time.Duration

	// CredentialsJSON is an inline service account key. Takes precedence over CredentialsFile.
	CredentialsJSON string

	// CredentialsFile is a path to a service account key file.
	CredentialsFile string
}

// DefaultConfig returns a DocumentAIConfig with sensible defaults.
func DefaultConfig() DocumentAIConfig {
	return DocumentAIConfig{
		Location: "us",
		Timeout:  60 * time.Second,
	}
}

// ProcessorName returns the full resource name of the configured processor.
func (c DocumentAIConfig) ProcessorName() string {
	if c.ProcessorVersion != "" {
		return fmt.Sprintf("projects/%s/locations/%s/processors/%s/processorVersions/%s",
			c.ProjectID, c.Location, c.ProcessorID, c.ProcessorVersion)
	}
	return fmt.Sprintf("projects/%s/locations/%s/processors/%s",
		c.ProjectID, c.Location, c.ProcessorID)
}

// Validate checks that the processor can be addressed.
func (c DocumentAIConfig) Validate() error {
	const op = "DocumentAIConfig.Validate"

	if c.ProjectID == "" {
		return WrapInvoiceProcessingError(op, ErrInvalidConfiguration, "project ID is required")
	}
	if c.ProcessorID == "" {
		return WrapInvoiceProcessingError(op, ErrInvalidConfiguration, "processor ID is required")
	}
	if c.Location == "" {
		return WrapInvoiceProcessingError(op, ErrInvalidConfiguration, "location is required")
	}
	return nil
}

// Processor runs a document through an Analyzer and extracts the invoice record.
type Processor struct {
	analyzer Analyzer
	log      zerolog.Logger
}

// NewProcessor creates a Processor on top of the given analyzer.
func NewProcessor(analyzer Analyzer) *Processor {
	return &Processor{
		analyzer: analyzer,
		log:      logger.WithComponent("invoice"),
	}
}

// Process analyzes the document and extracts its invoice record.
// On analyzer failure the error is returned together with an empty extraction;
// callers decide whether to continue with the empty record.
func (p *Processor) Process(ctx context.Context, content []byte, mimeType string) (Extraction, error) {
	const op = "Process"

	entities, err := p.analyzer.Analyze(ctx, content, mimeType)
	if err != nil {
		return Extraction{}, WrapInvoiceProcessingError(op, err, "document analysis failed")
	}

	extraction := Analyze(entities)

	event := p.log.Info()
	if extraction.UnparseableAmount {
		event = p.log.Warn().Str("amount_text", extraction.AmountText)
	}
	event.
		Int("entities", len(entities)).
		Str("supplier", extraction.Record.Supplier).
		Str("currency", extraction.Record.Currency).
		Str("amount_source", extraction.AmountSource).
		Strs("missing", extraction.Missing).
		Msg("Invoice extraction completed")

	return extraction, nil
}
