package slip

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/packingslipsorter/internal/models"
)

func tablePage(orderID, sku string) string {
	var b strings.Builder
	if orderID != "" {
		b.WriteString("Order ID: " + orderID + "\n")
	}
	b.WriteString("Product Name   Seller SKU   Qty\n")
	b.WriteString("Some Product  " + sku + " 1\n")
	return b.String()
}

func classifyAll(texts ...string) []models.Classification {
	c := NewClassifier()
	out := make([]models.Classification, 0, len(texts))
	for i, text := range texts {
		out = append(out, c.Next(Page{Index: i, Text: text}))
	}
	return out
}

func TestClassify_CarryForward(t *testing.T) {
	got := classifyAll(
		tablePage("100", "X"),
		"nothing useful here",
		"Order ID: 200",
	)
	assert.Equal(t, []models.Classification{
		{OrderID: "100", SKU: "X", SourcePage: 0, Resolution: models.ResolutionExtracted},
		{OrderID: "100", SKU: "X", SourcePage: 1, Resolution: models.ResolutionCarried},
		{OrderID: "200", SKU: "X", SourcePage: 2, Resolution: models.ResolutionCarried},
	}, got)
}

func TestClassify_BarcodeSuppressesTable(t *testing.T) {
	got := classifyAll(
		tablePage("100", "X"),
		"12345678901234\n"+tablePage("", "Y"),
	)
	assert.Equal(t, "X", got[1].SKU)
	assert.Equal(t, models.ResolutionBarcode, got[1].Resolution)
}

func TestClassify_BarcodeWithoutPriorSKUUsesHint(t *testing.T) {
	got := classifyAll("12345678901234\n" + tablePage("100", "Y"))
	assert.Equal(t, "Y", got[0].SKU)
	assert.Equal(t, models.ResolutionExtracted, got[0].Resolution)
}

func TestClassify_NewTableChangesSKU(t *testing.T) {
	got := classifyAll(tablePage("100", "X"), tablePage("", "Y"))
	assert.Equal(t, "100", got[1].OrderID)
	assert.Equal(t, "Y", got[1].SKU)
}

func TestClassify_GeneratedFallback(t *testing.T) {
	got := classifyAll("", "", "Order ID: 5")
	assert.Equal(t, "UNKNOWN_0", got[0].SKU)
	assert.Equal(t, models.ResolutionGenerated, got[0].Resolution)
	assert.Equal(t, "", got[0].OrderID)
	// carried state is updated by generated ids too
	assert.Equal(t, "UNKNOWN_0", got[1].SKU)
	assert.Equal(t, models.ResolutionCarried, got[1].Resolution)
	assert.Equal(t, "UNKNOWN_0", got[2].SKU)
	assert.Equal(t, "5", got[2].OrderID)
}

func TestClassify_SKUNeverEmpty(t *testing.T) {
	texts := []string{"", "   ", "Product Name Seller SKU\n", "SKU: ///", "12345678901", "\x00\x01"}
	for i, cl := range classifyAll(texts...) {
		assert.NotEmpty(t, cl.SKU, "page %d", i)
	}
}

func TestClassify_PureTransition(t *testing.T) {
	state := State{LastOrderID: "9", LastSKU: "S"}
	next, cl := Classify(state, Page{Index: 4, Text: ""})
	assert.Equal(t, State{LastOrderID: "9", LastSKU: "S"}, next)
	assert.Equal(t, models.Classification{OrderID: "9", SKU: "S", SourcePage: 4, Resolution: models.ResolutionCarried}, cl)
	assert.Equal(t, State{LastOrderID: "9", LastSKU: "S"}, state)
}

func TestSanitizeSKU(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"SKU123", "SKU123"},
		{"  AB/12 ", "AB_12"},
		{`a\b`, "a_b"},
		{"red.shirt#L", "red_shirt_L"},
		{"keep-dash_under", "keep-dash_under"},
		{strings.Repeat("x", 80), strings.Repeat("x", MaxSKULength)},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeSKU(tt.in), tt.in)
	}
}

func TestClassifier_Reset(t *testing.T) {
	c := NewClassifier()
	c.Next(Page{Index: 0, Text: tablePage("1", "X")})
	require.Equal(t, State{LastOrderID: "1", LastSKU: "X"}, c.State())

	c.Reset()
	cl := c.Next(Page{Index: 0, Text: ""})
	assert.Equal(t, "UNKNOWN_0", cl.SKU)
	assert.Equal(t, "", cl.OrderID)
}
