package invoice

// Document AI invoice parser entity types read by the extractor.
const (
	EntitySupplierName = "supplier_name"
	EntityVendorName   = "vendor_name"
	EntityInvoiceDate  = "invoice_date"
	EntityCurrency     = "currency"
	EntityTotalAmount  = "total_amount"

	PropertyAmount   = "amount"
	PropertyValue    = "value"
	PropertyCurrency = "currency"
)

// RawEntity is one node of a document analysis result.
//
// MentionText is the raw text span of the entity; an empty MentionText is
// treated as absent. Properties holds nested sub-fields in document order,
// e.g. the amount and currency parts of a total.
type RawEntity struct {
	Type        string      `json:"type"`
	MentionText string      `json:"mention_text,omitempty"`
	Properties  []RawEntity `json:"properties,omitempty"`
}

// HasText reports whether the entity carries mention text.
func (e RawEntity) HasText() bool {
	return e.MentionText != ""
}

// FindEntity returns the first entity whose type equals typeName.
func FindEntity(entities []RawEntity, typeName string) (RawEntity, bool) {
	for _, entity := range entities {
		if entity.Type == typeName {
			return entity, true
		}
	}
	return RawEntity{}, false
}

// entityText returns the mention text of the first entity of the given type,
// or "" when there is no such entity.
func entityText(entities []RawEntity, typeName string) string {
	entity, ok := FindEntity(entities, typeName)
	if !ok {
		return ""
	}
	return entity.MentionText
}
