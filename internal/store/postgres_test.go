package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intake/pkg/models"
	"intake/pkg/services"
)

func TestToRow(t *testing.T) {
	amount := 450.75
	received := time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC)
	entry := services.InvoiceEntry{
		ID:         "2b0b5f0e-6a8e-4f8e-9b8a-0d6e1c2a7f10",
		Record:     models.InvoiceRecord{Supplier: "Acme Corp", Date: "02/05/2024", TotalAmount: &amount, Currency: "USD"},
		Sender:     "15550001111",
		MessageID:  "wamid.2",
		MediaID:    "media-2",
		ReceivedAt: received,
	}

	row := toRow(entry)
	assert.Equal(t, entry.ID, row.ID)
	assert.Equal(t, received, row.ReceivedAt)
	assert.Equal(t, "Acme Corp", row.Supplier)
	assert.Equal(t, "02/05/2024", row.Date)
	assert.Equal(t, "USD", row.Currency)
	require.NotNil(t, row.TotalAmount)
	assert.Equal(t, 450.75, *row.TotalAmount)

	// The row owns its own copy of the amount
	amount = 1
	assert.Equal(t, 450.75, *row.TotalAmount)
}

func TestToRow_MissingAmount(t *testing.T) {
	row := toRow(services.InvoiceEntry{ID: "x"})
	assert.Nil(t, row.TotalAmount)
	assert.Equal(t, "invoices", row.TableName())
}
