package parser

import (
	"strings"
	"testing"

	"github.com/sporteng/tabledoc/layout"
)

func mustDef(t *testing.T, yamlText string) *layout.LayoutDef {
	t.Helper()
	def, err := layout.DecodeDef(strings.NewReader(yamlText))
	if err != nil {
		t.Fatalf("DecodeDef: %v", err)
	}
	return def
}

const invoiceV1YAML = `
invoice.v1:
  - name: header
    format: 'Invoice\s+(\d+)'
  - name: line
    repeat: true
    required: false
    fields:
      - name: sku
        format: 'SKU-(\d+)'
      - name: qty
        format: 'Qty:\s*(\d+)'
  - name: footer
    eop: true
    format: 'TOTAL\s+(\d+)'
`

const invoiceV2YAML = `
invoice.v2:
  - name: header
    format: 'INV#\s*(\d+)'
  - name: line
    repeat: true
    required: false
    fields:
      - name: sku
        format: 'SKU-(\d+)'
  - name: footer
    eop: true
    format: 'GRAND TOTAL\s+(\d+)'
`

func TestScanSinglePageSingleLayout(t *testing.T) {
	doc := []byte("Invoice 100\nSKU-1 Qty: 2\nSKU-2 Qty: 3\nTOTAL 999")
	fp := NewFormatParser([]*layout.LayoutDef{mustDef(t, invoiceV1YAML)}, NewConfig().Silent())

	name, root, report, err := fp.Scan(doc, "test.txt")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if name != "invoice.v1" {
		t.Fatalf("expected invoice.v1 to win, got %q", name)
	}
	if len(root.Rows) != 4 {
		t.Fatalf("expected 4 rows merged into root (header, 2 lines, footer), got %d", len(root.Rows))
	}
	if v, _ := root.Rows[0].Field("header"); v != "100" {
		t.Fatalf("expected header=100, got %q", v)
	}
	if !report.Checked["invoice.v1"].Valid {
		t.Fatalf("expected invoice.v1 recorded valid in the scan report")
	}
}

func TestScanFamilyRotationAcrossPages(t *testing.T) {
	page1 := "Invoice 100\nSKU-1 Qty: 2\nTOTAL 999"
	page2 := "INV# 200\nSKU-9\nGRAND TOTAL 555"
	doc := []byte(page1 + "\x0c" + page2)

	fp := NewFormatParser([]*layout.LayoutDef{
		mustDef(t, invoiceV1YAML),
		mustDef(t, invoiceV2YAML),
	}, NewConfig().Silent())

	name, root, _, err := fp.Scan(doc, "test.txt")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	// Rotation restricts to the winning family (invoice) but each page may
	// be won by a different sub-format within that family.
	if !strings.HasPrefix(name, "invoice") {
		t.Fatalf("expected an invoice.* layout to win, got %q", name)
	}
	if len(root.Rows) == 0 {
		t.Fatalf("expected at least one merged row across both pages")
	}
}

func TestScanSkipsEmptyPageWithoutConsumingLayout(t *testing.T) {
	page1 := "Invoice 100\nTOTAL 999"
	page2 := ""
	page3 := "Invoice 300\nTOTAL 111"
	doc := []byte(page1 + "\x0c" + page2 + "\x0c" + page3)

	fp := NewFormatParser([]*layout.LayoutDef{mustDef(t, invoiceV1YAML)}, NewConfig().Silent())
	name, root, _, err := fp.Scan(doc, "test.txt")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if name != "invoice.v1" {
		t.Fatalf("expected invoice.v1 to win, got %q", name)
	}
	// header-like DAOs from different pages coalesce into one root row,
	// the later page's fields overwriting the earlier page's.
	headers := root.RowsNamed("header")
	if len(headers) != 1 {
		t.Fatalf("expected both non-empty pages' headers coalesced into one, got %d", len(headers))
	}
	if v, _ := headers[0].Field("header"); v != "300" {
		t.Fatalf("expected page 3's header value merged in, got %q", v)
	}
}

func TestScanNoLayoutMatchesReturnsEmptyResult(t *testing.T) {
	doc := []byte("this text matches nothing at all")
	fp := NewFormatParser([]*layout.LayoutDef{mustDef(t, invoiceV1YAML)}, NewConfig().Silent())

	name, root, report, err := fp.Scan(doc, "test.txt")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if name != "" {
		t.Fatalf("expected no winning layout, got %q", name)
	}
	if len(root.Rows) != 0 {
		t.Fatalf("expected an empty root DAO, got %d rows", len(root.Rows))
	}
	if report.Checked["invoice.v1"].Valid {
		t.Fatalf("expected invoice.v1 recorded invalid")
	}
}

func TestScanSecondPageMissingRequiredContextIsNotWronglyAccepted(t *testing.T) {
	// page1 fully satisfies invoice.v1 (header, a line, and the required
	// eop footer). page2 never produces a footer at all. Before
	// Layout.ClearData was wired into parser.parseRun's per-page loop,
	// footer's stale valid=true from page1 survived into page2's
	// validScanResults, so AllRequiredContextsValid() stayed true and
	// page2 was wrongly accepted as matched even though its footer
	// context never validated.
	page1 := "Invoice 100\nSKU-1 Qty: 2\nTOTAL 999"
	page2 := "Invoice 200\nSKU-9 Qty: 1"
	doc := []byte(page1 + "\x0c" + page2)

	fp := NewFormatParser([]*layout.LayoutDef{mustDef(t, invoiceV1YAML)}, NewConfig().Silent())
	name, root, _, err := fp.Scan(doc, "test.txt")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if name != "invoice.v1" {
		t.Fatalf("expected invoice.v1 to win on page 1, got %q", name)
	}
	headers := root.RowsNamed("header")
	if len(headers) != 1 {
		t.Fatalf("expected only page 1's header merged (page 2 must not match), got %d", len(headers))
	}
	footers := root.RowsNamed("footer")
	if len(footers) != 1 {
		t.Fatalf("expected only page 1's footer merged, got %d", len(footers))
	}
	for _, h := range headers {
		if v, _ := h.Field("header"); v != "100" {
			t.Fatalf("expected page 2 (header=200) to be rejected, root only holds %q", v)
		}
	}
}

func TestScanWithFamilyFilterExcludesOtherFamilies(t *testing.T) {
	doc := []byte("Invoice 100\nTOTAL 999")
	fp := NewFormatParser([]*layout.LayoutDef{mustDef(t, invoiceV1YAML)}, NewConfig().Silent())

	_, _, _, err := fp.Scan(doc, "test.txt", WithFamilyFilter("remittance"))
	if err == nil {
		t.Fatalf("expected an error when no layout matches the family filter")
	}
}
