package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"intake/internal/config"
	"intake/internal/invoice"
	"intake/internal/logger"
	"intake/internal/media"
	"intake/pkg/models"
	"intake/pkg/services"
)

var extractCmd = &cobra.Command{
	Use:   "extract [image-file]",
	Short: "Extract invoice fields from a local image using Google Document AI",
	Long: `Process an invoice photo or PDF with the Document AI invoice parser and
print the supplier, date, total amount and currency as JSON.

The file goes through the same preparation as WhatsApp media: images are
rotated upright, downsized and re-encoded as JPEG; PDFs are sent as is.

Required environment variables:
  GOOGLE_APPLICATION_CREDENTIALS - Path to service account JSON file, OR
  GOOGLE_CREDENTIALS - Inline JSON credentials string
  GOOGLE_CLOUD_PROJECT - Your Google Cloud project ID
  GOOGLE_CLOUD_LOCATION - Processing location (us, eu, etc.)
  DOCUMENT_AI_PROCESSOR_ID - Your Document AI invoice processor ID`,
	Example: `  # Extract invoice fields to stdout
  intake extract receipt.jpg

  # Save extracted data to a JSON file
  intake extract receipt.jpg -o receipt.json

  # Also store the record in the configured sink
  SINK=sheets intake extract receipt.jpg --save

  # Process with custom timeout
  intake extract scan.pdf --timeout 180`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

// ExtractOutput is the JSON written by the extract command
type ExtractOutput struct {
	// Invoice contains the extracted fields
	Invoice models.InvoiceRecord `json:"invoice"`

	// Missing lists the fields that could not be determined
	Missing []string `json:"missing,omitempty"`

	// AmountSource tells where the total amount text came from
	AmountSource string `json:"amount_source"`

	// AmountText is the raw text the total amount was parsed from
	AmountText string `json:"amount_text,omitempty"`

	// Metadata contains processing information
	Metadata ExtractMetadata `json:"metadata"`
}

// ExtractMetadata contains information about the processing operation
type ExtractMetadata struct {
	FileName           string        `json:"file_name"`
	FileSize           int64         `json:"file_size_bytes"`
	MIMEType           string        `json:"mime_type"`
	Resized            bool          `json:"resized"`
	ProcessedAt        time.Time     `json:"processed_at"`
	ProcessingDuration time.Duration `json:"processing_duration"`
	ProcessorUsed      string        `json:"processor_used"`
	EntryID            string        `json:"entry_id,omitempty"`
}

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	extractCmd.Flags().Bool("save", false, "Store the record in the configured sink")
	extractCmd.Flags().Int("timeout", 120, "Processing timeout in seconds")
}

func runExtract(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("extract")

	outputPath, _ := cmd.Flags().GetString("output")
	save, _ := cmd.Flags().GetBool("save")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	imagePath := args[0]

	log.Info().
		Str("file", imagePath).
		Str("output", outputPath).
		Bool("save", save).
		Int("timeout", timeoutSecs).
		Msg("Starting invoice extraction")

	cfg, err := loadConfig((*config.Config).ValidateExtract)
	if err != nil {
		return err
	}

	fileInfo, err := validateInputFile(imagePath, cfg.MediaMaxBytes, log)
	if err != nil {
		return err
	}

	content, err := os.ReadFile(imagePath)
	if err != nil {
		log.Error().Err(err).Str("file", imagePath).Msg("Failed to read file")
		return fmt.Errorf("failed to read file: %w", err)
	}

	prepared, err := media.Prepare(content, "", media.Options{
		MaxBytes:     cfg.MediaMaxBytes,
		MaxDimension: cfg.MediaMaxDimension,
	})
	if err != nil {
		return handleExtractError(err, log)
	}

	ctx, cancel := signalContext(time.Duration(timeoutSecs)*time.Second, log)
	defer cancel()

	analyzer, err := newAnalyzer(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := analyzer.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("Failed to close Document AI client")
		}
	}()

	log.Info().
		Str("file", imagePath).
		Str("mime_type", prepared.MIMEType).
		Int("bytes", len(prepared.Content)).
		Bool("resized", prepared.Resized).
		Msg("Processing invoice with Document AI")

	startTime := time.Now()
	extraction, err := invoice.NewProcessor(analyzer).Process(ctx, prepared.Content, prepared.MIMEType)
	if err != nil {
		return handleExtractError(err, log)
	}
	processingDuration := time.Since(startTime)

	output := ExtractOutput{
		Invoice:      extraction.Record,
		Missing:      extraction.Missing,
		AmountSource: extraction.AmountSource,
		AmountText:   extraction.AmountText,
		Metadata: ExtractMetadata{
			FileName:           filepath.Base(fileInfo.Name()),
			FileSize:           fileInfo.Size(),
			MIMEType:           prepared.MIMEType,
			Resized:            prepared.Resized,
			ProcessedAt:        time.Now(),
			ProcessingDuration: processingDuration,
			ProcessorUsed:      "Google Document AI Invoice Parser",
		},
	}

	if save {
		entryID, err := saveRecord(ctx, cfg, extraction.Record, filepath.Base(imagePath), log)
		if err != nil {
			return err
		}
		output.Metadata.EntryID = entryID
	}

	return writeJSON(output, outputPath, log)
}

// validateInputFile checks that the file exists, is regular and fits the size limit
func validateInputFile(path string, maxBytes int64, log zerolog.Logger) (os.FileInfo, error) {
	fileInfo, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Error().Str("file", path).Msg("Input file not found")
			return nil, fmt.Errorf("input file not found: %s", path)
		}
		if os.IsPermission(err) {
			log.Error().Str("file", path).Msg("Permission denied accessing input file")
			return nil, fmt.Errorf("permission denied accessing input file: %s", path)
		}
		return nil, fmt.Errorf("error accessing input file: %w", err)
	}

	if !fileInfo.Mode().IsRegular() {
		log.Error().Str("file", path).Msg("Path is not a regular file")
		return nil, fmt.Errorf("path is not a regular file: %s", path)
	}

	if fileInfo.Size() == 0 {
		log.Error().Str("file", path).Msg("Input file is empty")
		return nil, fmt.Errorf("input file is empty: %s", path)
	}

	if fileInfo.Size() > maxBytes {
		log.Error().
			Str("file", path).
			Int64("size", fileInfo.Size()).
			Int64("max_size", maxBytes).
			Msg("Input file exceeds maximum size limit")
		return nil, fmt.Errorf("input file too large (%d bytes). Maximum size is %d bytes", fileInfo.Size(), maxBytes)
	}

	return fileInfo, nil
}

func saveRecord(ctx context.Context, cfg *config.Config, record models.InvoiceRecord, fileName string, log zerolog.Logger) (string, error) {
	sink, closeSink, err := openSink(ctx, cfg, logger.WithComponent("sink"))
	if err != nil {
		return "", err
	}
	defer closeSink()

	entry := services.NewInvoiceEntry(record, "", "", fileName, time.Now())
	if err := sink.Save(ctx, entry); err != nil {
		log.Error().Err(err).Str("sink", cfg.Sink).Msg("Failed to save invoice entry")
		return "", fmt.Errorf("failed to save invoice entry to %s: %w", cfg.Sink, err)
	}

	log.Info().Str("entry_id", entry.ID).Str("sink", cfg.Sink).Msg("Invoice entry saved")
	return entry.ID, nil
}

// handleExtractError provides user-friendly error messages for extraction failures
func handleExtractError(err error, log zerolog.Logger) error {
	log.Error().Err(err).Msg("Invoice extraction failed")

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("invoice processing timed out. Try increasing --timeout or processing a smaller file")
	case errors.Is(err, context.Canceled), errors.Is(err, invoice.ErrContextCanceled):
		return fmt.Errorf("invoice processing was canceled")
	case errors.Is(err, media.ErrUnsupportedMedia), errors.Is(err, invoice.ErrUnsupportedFormat):
		return fmt.Errorf("unsupported file format. Send a JPEG, PNG, TIFF, WEBP image or a PDF")
	case errors.Is(err, media.ErrMediaTooLarge), errors.Is(err, invoice.ErrDocumentTooLarge):
		return fmt.Errorf("file is too large (maximum 20MB). Try a smaller photo or scan")
	case errors.Is(err, invoice.ErrProcessorNotFound):
		return fmt.Errorf("Document AI processor not found. Please check your DOCUMENT_AI_PROCESSOR_ID environment variable")
	case errors.Is(err, invoice.ErrInvalidCredentials):
		return fmt.Errorf("Google Cloud authentication failed. Please check your credentials:\n\n" +
			"1. Set GOOGLE_APPLICATION_CREDENTIALS to your service account JSON file path\n" +
			"2. Or set GOOGLE_CREDENTIALS with inline JSON credentials\n" +
			"3. Ensure the service account has 'Document AI API User' role\n\n" +
			"Original error: %v", err)
	case errors.Is(err, invoice.ErrQuotaExceeded):
		return fmt.Errorf("Document AI API quota exceeded. Check your project quotas in Google Cloud Console")
	case errors.Is(err, invoice.ErrProcessingFailed):
		return fmt.Errorf("Document AI processing failed. This may be due to network issues or service unavailability: %w", err)
	default:
		return fmt.Errorf("invoice extraction failed: %w", err)
	}
}

// writeJSON writes v as indented JSON to outputPath or stdout
func writeJSON(v any, outputPath string, log zerolog.Logger) error {
	jsonData, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal output to JSON")
		return fmt.Errorf("failed to create JSON output: %w", err)
	}

	if outputPath != "" {
		if err := os.WriteFile(outputPath, jsonData, 0644); err != nil {
			log.Error().
				Err(err).
				Str("output_file", outputPath).
				Msg("Failed to write output file")
			return fmt.Errorf("failed to write output file: %w", err)
		}

		log.Info().
			Str("output_file", outputPath).
			Int("bytes", len(jsonData)).
			Msg("Invoice data written to file")
		return nil
	}

	if _, err := os.Stdout.Write(jsonData); err != nil {
		log.Error().Err(err).Msg("Failed to write to stdout")
		return fmt.Errorf("failed to write output: %w", err)
	}
	fmt.Println()
	return nil
}
