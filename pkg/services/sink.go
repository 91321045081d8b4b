package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"intake/pkg/models"
)

// RecordSink defines the interface for persisting extracted invoice records
type RecordSink interface {
	// Save stores one invoice entry
	Save(ctx context.Context, entry InvoiceEntry) error
}

// InvoiceEntry is an invoice record together with where it came from
type InvoiceEntry struct {
	ID         string               `json:"id"`          // Generated entry identifier
	Record     models.InvoiceRecord `json:"record"`      // Extracted invoice fields
	Sender     string               `json:"sender"`      // WhatsApp ID of the sender (empty for CLI runs)
	MessageID  string               `json:"message_id"`  // WhatsApp message ID
	MediaID    string               `json:"media_id"`    // WhatsApp media ID or local file name
	ReceivedAt time.Time            `json:"received_at"` // When the message was received
}

// NewInvoiceEntry wraps a record with a fresh ID
func NewInvoiceEntry(record models.InvoiceRecord, sender, messageID, mediaID string, receivedAt time.Time) InvoiceEntry {
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}
	return InvoiceEntry{
		ID:         uuid.NewString(),
		Record:     record,
		Sender:     sender,
		MessageID:  messageID,
		MediaID:    mediaID,
		ReceivedAt: receivedAt.UTC(),
	}
}

// LogSink writes entries to the log only
type LogSink struct {
	log zerolog.Logger
}

// NewLogSink creates a sink that logs each entry
func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log}
}

// Save logs the entry
func (s *LogSink) Save(_ context.Context, entry InvoiceEntry) error {
	event := s.log.Info().
		Str("entry_id", entry.ID).
		Str("sender", entry.Sender).
		Str("media_id", entry.MediaID).
		Str("supplier", entry.Record.Supplier).
		Str("date", entry.Record.Date).
		Str("currency", entry.Record.Currency)
	if entry.Record.TotalAmount != nil {
		event = event.Float64("total_amount", *entry.Record.TotalAmount)
	}
	event.Msg("Invoice entry recorded")
	return nil
}
