package invoice

import (
	"context"
	"errors"
	"fmt"
	"strings"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/googleapis/gax-go/v2"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"intake/internal/logger"
)

const (
	// MaxDocumentSizeBytes is the maximum document size for processing (20MB)
	MaxDocumentSizeBytes = 20 * 1024 * 1024
)

// documentProcessor is the subset of the Document AI client used here.
type documentProcessor interface {
	ProcessDocument(ctx context.Context, req *documentaipb.ProcessRequest, opts ...gax.CallOption) (*documentaipb.ProcessResponse, error)
	Close() error
}

// DocumentAIAnalyzer implements Analyzer using a Google Document AI invoice processor.
type DocumentAIAnalyzer struct {
	client documentProcessor
	config DocumentAIConfig
	log    zerolog.Logger
}

// NewDocumentAIAnalyzer creates an analyzer for the configured processor.
// Credentials come from config; with neither CredentialsJSON nor CredentialsFile
// set, Application Default Credentials are used.
func NewDocumentAIAnalyzer(ctx context.Context, config DocumentAIConfig) (*DocumentAIAnalyzer, error) {
	const op = "NewDocumentAIAnalyzer"

	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}

	var clientOptions []option.ClientOption

	// Non-US processors are served from regional endpoints
	if config.Location != "us" {
		endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", config.Location)
		clientOptions = append(clientOptions, option.WithEndpoint(endpoint))
	}

	explicitCredentials := true
	switch {
	case config.CredentialsJSON != "":
		clientOptions = append(clientOptions, option.WithCredentialsJSON([]byte(config.CredentialsJSON)))
	case config.CredentialsFile != "":
		clientOptions = append(clientOptions, option.WithCredentialsFile(config.CredentialsFile))
	default:
		explicitCredentials = false
	}

	client, err := documentai.NewDocumentProcessorClient(ctx, clientOptions...)
	if err != nil {
		if !explicitCredentials {
			return nil, WrapInvoiceProcessingError(op, ErrMissingCredentials, "no credentials configured and application default credentials unavailable")
		}
		return nil, WrapInvoiceProcessingError(op, err, fmt.Sprintf("failed to create Document AI client for location: %s", config.Location))
	}

	return newDocumentAIAnalyzer(config, client), nil
}

func newDocumentAIAnalyzer(config DocumentAIConfig, client documentProcessor) *DocumentAIAnalyzer {
	return &DocumentAIAnalyzer{
		client: client,
		config: config,
		log:    logger.WithComponent("document-ai"),
	}
}

// Analyze sends the document to Document AI and returns its entities.
func (a *DocumentAIAnalyzer) Analyze(ctx context.Context, content []byte, mimeType string) ([]RawEntity, error) {
	const op = "Analyze"

	if len(content) == 0 {
		return nil, WrapInvoiceProcessingError(op, ErrEmptyDocument, "no content")
	}
	if len(content) > MaxDocumentSizeBytes {
		return nil, WrapInvoiceProcessingError(op, ErrDocumentTooLarge, fmt.Sprintf("file size: %d bytes", len(content)))
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	processCtx := ctx
	if a.config.Timeout > 0 {
		var cancel context.CancelFunc
		processCtx, cancel = context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
	}

	req := &documentaipb.ProcessRequest{
		Name: a.config.ProcessorName(),
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  content,
				MimeType: mimeType,
			},
		},
	}

	a.log.Debug().
		Str("processor", req.Name).
		Str("mime_type", mimeType).
		Int("size", len(content)).
		Msg("Sending document to Document AI")

	resp, err := a.client.ProcessDocument(processCtx, req)
	if err != nil {
		return nil, a.handleProcessingError(op, err)
	}
	if resp.GetDocument() == nil {
		return nil, WrapInvoiceProcessingError(op, ErrProcessingFailed, "no document in response")
	}

	entities := EntitiesFromDocument(resp.GetDocument())

	a.log.Debug().
		Int("entities", len(entities)).
		Msg("Document AI analysis completed")

	return entities, nil
}

// handleProcessingError maps context and gRPC failures from Document AI onto
// the package sentinels, tagged with the processor that was called.
func (a *DocumentAIAnalyzer) handleProcessingError(op string, err error) error {
	details, sentinel := classifyProcessingError(err)
	return &InvoiceProcessingError{
		Op:          op,
		Err:         sentinel,
		Details:     details,
		ProcessorID: a.config.ProcessorID,
	}
}

func classifyProcessingError(err error) (details string, sentinel error) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "processing timeout", context.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return "processing was canceled", ErrContextCanceled
	}

	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated:
		return "insufficient permissions for Document AI", ErrInvalidCredentials
	case codes.ResourceExhausted:
		return "Document AI API quota exceeded", ErrQuotaExceeded
	case codes.NotFound:
		return "processor not found", ErrProcessorNotFound
	case codes.InvalidArgument:
		return "document format not supported or corrupted", ErrUnsupportedFormat
	case codes.DeadlineExceeded:
		return "processing timeout", context.DeadlineExceeded
	case codes.Canceled:
		return "processing was canceled", ErrContextCanceled
	default:
		return fmt.Sprintf("Document AI error: %v", err), ErrProcessingFailed
	}
}

// Close closes the underlying Document AI client.
func (a *DocumentAIAnalyzer) Close() error {
	if a.client != nil {
		return a.client.Close()
	}
	return nil
}

// EntitiesFromDocument converts Document AI entities, including nested
// properties, into RawEntity values. Mention text is trimmed.
func EntitiesFromDocument(doc *documentaipb.Document) []RawEntity {
	return convertEntities(doc.GetEntities())
}

func convertEntities(entities []*documentaipb.Document_Entity) []RawEntity {
	if len(entities) == 0 {
		return nil
	}

	converted := make([]RawEntity, 0, len(entities))
	for _, entity := range entities {
		if entity == nil {
			continue
		}
		converted = append(converted, RawEntity{
			Type:        entity.GetType(),
			MentionText: strings.TrimSpace(entity.GetMentionText()),
			Properties:  convertEntities(entity.GetProperties()),
		})
	}
	return converted
}
