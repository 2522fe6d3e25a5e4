package slip

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Lllllllleong/packingslipsorter/internal/models"
)

// MaxSKULength bounds a sanitised SKU so it stays usable in file names.
const MaxSKULength = 50

var unsafeSKUChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// Page is one page of a source document. Index is 0-based.
type Page struct {
	Index int
	Text  string
}

// State is the carry-forward state of one source document.
type State struct {
	LastOrderID string
	LastSKU     string
}

// Classify resolves a page against the carried state and returns the next state.
func Classify(state State, page Page) (State, models.Classification) {
	fields := ExtractFields(page.Text)

	orderID := state.LastOrderID
	if fields.OrderID != "" {
		orderID = fields.OrderID
	}

	var sku string
	var resolution models.Resolution
	switch {
	case fields.Barcode && state.LastSKU != "":
		sku, resolution = state.LastSKU, models.ResolutionBarcode
	case fields.SKUHint != "":
		sku, resolution = fields.SKUHint, models.ResolutionExtracted
	case state.LastSKU != "":
		sku, resolution = state.LastSKU, models.ResolutionCarried
	}

	sku = SanitizeSKU(sku)
	if sku == "" {
		sku, resolution = fmt.Sprintf("UNKNOWN_%d", page.Index), models.ResolutionGenerated
	}

	next := State{LastOrderID: orderID, LastSKU: sku}
	return next, models.Classification{
		OrderID:    orderID,
		SKU:        sku,
		SourcePage: page.Index,
		Resolution: resolution,
	}
}

// SanitizeSKU makes a raw SKU safe as a key and file name component.
func SanitizeSKU(raw string) string {
	s := strings.TrimSpace(raw)
	s = unsafeSKUChars.ReplaceAllString(s, "_")
	if len(s) > MaxSKULength {
		s = s[:MaxSKULength]
	}
	return s
}

// Classifier streams pages of one or more documents through Classify.
type Classifier struct {
	state State
}

// NewClassifier returns a classifier with empty carried state.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Next classifies the next page in document order.
func (c *Classifier) Next(page Page) models.Classification {
	var cl models.Classification
	c.state, cl = Classify(c.state, page)
	return cl
}

// State returns the carried state.
func (c *Classifier) State() State {
	return c.state
}

// Reset clears the carried state, used between source documents.
func (c *Classifier) Reset() {
	c.state = State{}
}
