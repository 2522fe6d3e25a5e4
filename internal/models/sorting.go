package models

// Resolution records how a page's SKU was decided.
type Resolution string

const (
	ResolutionExtracted Resolution = "extracted"
	ResolutionBarcode   Resolution = "barcode"
	ResolutionCarried   Resolution = "carried"
	ResolutionGenerated Resolution = "generated"
)

// NoOrderID stands in for a missing order id when composing group keys, so
// pages seen before any order id are still grouped.
const NoOrderID = "NO_ORDER"

// Classification is the resolved (order, sku) pair for one page.
// An empty OrderID means no order id has been seen yet in the document.
type Classification struct {
	OrderID    string     `json:"orderId,omitempty"`
	SKU        string     `json:"sku"`
	SourcePage int        `json:"sourcePage"`
	Resolution Resolution `json:"resolution"`
}

// GroupKey returns the identity of the intermediate document the page belongs to.
func (c Classification) GroupKey() string {
	return GroupKey(c.OrderID, c.SKU)
}

// GroupKey composes order id and an already sanitised SKU.
func GroupKey(orderID, sku string) string {
	if orderID == "" {
		orderID = NoOrderID
	}
	return orderID + "_" + sku
}

// GroupedDocument is an intermediate per-(order, sku) document written by the
// grouping stage. Pages are 0-based indices into Source.
type GroupedDocument struct {
	OrderID string `json:"orderId"`
	SKU     string `json:"sku"`
	Key     string `json:"key"`
	Source  string `json:"source"`
	Pages   []int  `json:"pages"`
	Path    string `json:"path"`
}

// Name is the output file name of the grouped document.
func (g GroupedDocument) Name() string {
	return g.Key + ".pdf"
}

// OrderKey is the order id used for primary SKU mapping and ordering.
func (g GroupedDocument) OrderKey() string {
	if g.OrderID == "" {
		return NoOrderID
	}
	return g.OrderID
}

// ConsolidatedDocument is one final per-primary-SKU document.
type ConsolidatedDocument struct {
	PrimarySKU string            `json:"primarySku"`
	Members    []GroupedDocument `json:"members"`
	PageCount  int               `json:"pageCount"`
	Path       string            `json:"path"`
}

// Name is the output file name of the consolidated document.
func (c ConsolidatedDocument) Name() string {
	return c.PrimarySKU + ".pdf"
}

// PageRecord is one row of the classification manifest.
type PageRecord struct {
	Source string
	Classification
}
