package pdfiotest

import (
	"bytes"
	"fmt"
	"os"
	"strings"
)

// Line is a run of text drawn with its baseline starting at (X, Y).
type Line struct {
	X, Y float64
	Text string
}

// Page lists the text runs of one real PDF page. Runs are positioned with
// relative Td moves unless TextMatrix is set, in which case each run sets an
// absolute Tm.
type Page struct {
	Lines      []Line
	TextMatrix bool
}

// TablePage lays out a packing slip page: an order id line, the product table
// header and one product row whose SKU sits in its own column.
func TablePage(orderID, product, sku string) Page {
	return Page{Lines: []Line{
		{X: 72, Y: 740, Text: "Order ID: " + orderID},
		{X: 72, Y: 700, Text: "Product Name"},
		{X: 250, Y: 700, Text: "Seller SKU"},
		{X: 400, Y: 700, Text: "Qty"},
		{X: 72, Y: 680, Text: product},
		{X: 250, Y: 680, Text: sku},
		{X: 400, Y: 680, Text: "1"},
	}}
}

// WritePDF persists a real PDF built from pages at path.
func WritePDF(path string, pages ...Page) error {
	return os.WriteFile(path, BuildPDF(pages...), 0o644)
}

// BuildPDF returns a minimal uncompressed PDF 1.4 document drawing every
// page's runs in 10pt Helvetica with WinAnsi encoding and fixed 600 unit widths.
func BuildPDF(pages ...Page) []byte {
	const fontObj = 3
	firstPageObj := fontObj + 1

	var objects []string
	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", firstPageObj+2*i)
	}
	objects = append(objects,
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding"+
			" /FirstChar 32 /LastChar 126 /Widths ["+strings.TrimSpace(strings.Repeat("600 ", 95))+"] >>",
	)
	for i, page := range pages {
		content := contentStream(page)
		objects = append(objects,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792]"+
				" /Resources << /Font << /F1 %d 0 R >> >> /Contents %d 0 R >>", fontObj, firstPageObj+2*i+1),
			fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		)
	}

	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return b.Bytes()
}

func contentStream(page Page) string {
	var b strings.Builder
	b.WriteString("BT\n/F1 10 Tf\n")
	var x, y float64
	for _, line := range page.Lines {
		if page.TextMatrix {
			fmt.Fprintf(&b, "1 0 0 1 %g %g Tm\n", line.X, line.Y)
		} else {
			fmt.Fprintf(&b, "%g %g Td\n", line.X-x, line.Y-y)
			x, y = line.X, line.Y
		}
		fmt.Fprintf(&b, "(%s) Tj\n", escape(line.Text))
	}
	b.WriteString("ET")
	return b.String()
}

func escape(s string) string {
	return strings.NewReplacer(`\`, `\\`, "(", `\(`, ")", `\)`).Replace(s)
}
