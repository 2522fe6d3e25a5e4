// Package slip turns the plain text of packing-slip pages into (order, sku)
// classifications.
package slip

import (
	"regexp"
	"strings"
)

const (
	productNameLabel = "Product Name"
	sellerSKULabel   = "Seller SKU"
)

var (
	orderIDRegex    = regexp.MustCompile(`Order ID[:#\s]*(\d+)`)
	barcodeRegex    = regexp.MustCompile(`\b\d{10,18}\b`)
	labeledSKURegex = regexp.MustCompile(`(?i)\b(?:seller\s+)?sku\s*:\s*(\S+)`)
)

// Fields is what one page's text tells us on its own.
type Fields struct {
	// OrderID is empty when the page carries no order id.
	OrderID string
	// Barcode is set when a 10-18 digit token marks the page as a
	// continuation of the previous line item.
	Barcode bool
	// SKUHint is the structural or labeled SKU candidate, empty if none.
	SKUHint string
}

// ExtractFields reads the order id, barcode marker and SKU hint from page text.
func ExtractFields(text string) Fields {
	var f Fields

	if m := orderIDRegex.FindStringSubmatch(text); m != nil {
		f.OrderID = m[1]
	}

	// A long order id may be printed more than once; none of its copies is a barcode.
	for _, token := range barcodeRegex.FindAllString(text, -1) {
		if token == f.OrderID {
			continue
		}
		f.Barcode = true
		break
	}

	f.SKUHint = tableSKU(text)
	if f.SKUHint == "" {
		f.SKUHint = labeledSKU(text)
	}
	return f
}

// tableSKU finds the product table header and takes the second-to-last token
// of the first content line below it.
func tableSKU(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if !strings.Contains(line, productNameLabel) || !strings.Contains(line, sellerSKULabel) {
			continue
		}
		for _, next := range lines[i+1:] {
			parts := strings.Fields(next)
			if len(parts) == 0 {
				continue
			}
			if len(parts) < 2 {
				return ""
			}
			return parts[len(parts)-2]
		}
		return ""
	}
	return ""
}

func labeledSKU(text string) string {
	m := labeledSKURegex.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}
