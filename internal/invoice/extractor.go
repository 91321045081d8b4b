package invoice

import "intake/pkg/models"

// Where the amount text of an Extraction came from.
const (
	AmountFromProperty = "total_amount_property"
	AmountFromTotal    = "total_amount"
	AmountFromNone     = ""
)

// Extraction is the full result of reading an entity list: the record plus
// what was missing and where the amount came from.
type Extraction struct {
	Record models.InvoiceRecord

	// Missing lists the record fields that could not be determined
	// ("supplier", "date", "total_amount", "currency").
	Missing []string

	// AmountSource is one of the AmountFrom* constants.
	AmountSource string

	// AmountText is the text handed to ParseAmount.
	AmountText string

	// UnparseableAmount is set when AmountText was present but held no number.
	UnparseableAmount bool
}

// Extract builds an invoice record from a document analysis result.
// It never fails; undeterminable fields are left empty.
func Extract(entities []RawEntity) models.InvoiceRecord {
	return Analyze(entities).Record
}

// Analyze is Extract with the intermediate results kept.
func Analyze(entities []RawEntity) Extraction {
	var result Extraction
	record := &result.Record

	record.Supplier = entityText(entities, EntitySupplierName)
	if record.Supplier == "" {
		record.Supplier = entityText(entities, EntityVendorName)
	}
	record.Date = entityText(entities, EntityInvoiceDate)
	record.Currency = entityText(entities, EntityCurrency)

	if total, ok := FindEntity(entities, EntityTotalAmount); ok {
		for _, prop := range total.Properties {
			switch prop.Type {
			case PropertyAmount, PropertyValue:
				if result.AmountText == "" && prop.HasText() {
					result.AmountText = prop.MentionText
					result.AmountSource = AmountFromProperty
				}
			case PropertyCurrency:
				if record.Currency == "" {
					record.Currency = prop.MentionText
				}
			}
		}
		if result.AmountText == "" && total.HasText() {
			result.AmountText = total.MentionText
			result.AmountSource = AmountFromTotal
		}
	}

	if result.AmountText != "" {
		if amount, ok := ParseAmount(result.AmountText); ok {
			record.TotalAmount = &amount
		} else {
			result.UnparseableAmount = true
		}
	}

	result.Missing = missingFields(*record)
	return result
}

func missingFields(record models.InvoiceRecord) []string {
	var missing []string
	if record.Supplier == "" {
		missing = append(missing, "supplier")
	}
	if record.Date == "" {
		missing = append(missing, "date")
	}
	if record.TotalAmount == nil {
		missing = append(missing, "total_amount")
	}
	if record.Currency == "" {
		missing = append(missing, "currency")
	}
	return missing
}
