package models

// InvoiceRecord is the normalized result of reading an invoice image.
// Text fields are empty and TotalAmount is nil when a value could not be determined.
type InvoiceRecord struct {
	Supplier    string   `json:"supplier"`     // Supplier/vendor name as printed
	Date        string   `json:"date"`         // Invoice date, raw mention text
	TotalAmount *float64 `json:"total_amount"` // Total amount, nil if absent or unparseable
	Currency    string   `json:"currency"`     // Currency as printed (EUR, $, ...)
}

// EmptyInvoiceRecord returns a record with every field absent.
func EmptyInvoiceRecord() InvoiceRecord {
	return InvoiceRecord{}
}

// HasAmount reports whether a total amount was extracted.
func (r InvoiceRecord) HasAmount() bool {
	return r.TotalAmount != nil
}

// IsEmpty reports whether nothing at all was extracted.
func (r InvoiceRecord) IsEmpty() bool {
	return r.Supplier == "" && r.Date == "" && r.TotalAmount == nil && r.Currency == ""
}
