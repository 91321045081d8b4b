package invoice

import (
	"regexp"
	"strconv"
	"strings"
)

// amountPattern matches a signed decimal number using "." or "," as the
// decimal separator, or else a plain signed integer. The leftmost match wins,
// so "1.234,56" yields "1.234" and "Invoice #4521" yields "4521".
var amountPattern = regexp.MustCompile(`[-+]?[0-9]*[.,][0-9]+|[-+]?[0-9]+`)

// ParseAmount extracts the first number found in free-form text such as
// "Total: 450,75 EUR" or "$75.00". It reports false when text is empty or
// contains no digits.
func ParseAmount(text string) (float64, bool) {
	if text == "" {
		return 0, false
	}

	match := amountPattern.FindString(text)
	if match == "" {
		return 0, false
	}

	value, err := strconv.ParseFloat(strings.Replace(match, ",", ".", 1), 64)
	if err != nil {
		return 0, false
	}
	return value, true
}
