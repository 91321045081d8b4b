package invoice

import (
	"errors"
	"strings"
)

// Sentinel errors returned by the analyzer and Processor. Match them with errors.Is.
var (
	ErrEmptyDocument        = errors.New("document is empty")
	ErrDocumentTooLarge     = errors.New("document exceeds maximum size limit")
	ErrUnsupportedFormat    = errors.New("unsupported document format")
	ErrProcessingFailed     = errors.New("document AI processing failed")
	ErrProcessorNotFound    = errors.New("Document AI processor not found")
	ErrQuotaExceeded        = errors.New("Document AI API quota exceeded")
	ErrContextCanceled      = errors.New("invoice processing was canceled")
	ErrMissingCredentials   = errors.New("missing Google Cloud credentials")
	ErrInvalidCredentials   = errors.New("invalid Google Cloud credentials")
	ErrInvalidConfiguration = errors.New("invalid Document AI configuration")
)

// InvoiceProcessingError records which step failed, against which processor.
type InvoiceProcessingError struct {
	Op          string // Failed step, e.g. "Analyze"
	Err         error  // Usually one of the sentinels above
	Details     string
	ProcessorID string // Set for errors coming back from Document AI
}

// Error renders "invoice: <op> failed (processor: <id>): <details>: <err>",
// leaving out the parts that are empty.
func (e *InvoiceProcessingError) Error() string {
	var b strings.Builder
	b.WriteString("invoice: ")
	b.WriteString(e.Op)
	b.WriteString(" failed")
	if e.ProcessorID != "" {
		b.WriteString(" (processor: ")
		b.WriteString(e.ProcessorID)
		b.WriteString(")")
	}
	if e.Details != "" {
		b.WriteString(": ")
		b.WriteString(e.Details)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *InvoiceProcessingError) Unwrap() error {
	return e.Err
}

// NewInvoiceProcessingError builds an InvoiceProcessingError without a processor ID.
func NewInvoiceProcessingError(op string, err error, details string) *InvoiceProcessingError {
	return &InvoiceProcessingError{Op: op, Err: err, Details: details}
}

// WrapInvoiceProcessingError wraps err unless it already carries an
// InvoiceProcessingError, so the innermost step and processor are kept.
// A nil err stays nil.
func WrapInvoiceProcessingError(op string, err error, details string) error {
	if err == nil {
		return nil
	}

	var existing *InvoiceProcessingError
	if errors.As(err, &existing) {
		return err
	}
	return NewInvoiceProcessingError(op, err, details)
}
