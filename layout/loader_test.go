package layout

import (
	"strings"
	"testing"
)

const simpleLayoutYAML = `
invoice.v1:
  - name: header
    format: 'Invoice\s+(\d+)'
  - name: line
    repeat: true
    fields:
      - name: sku
        format: 'SKU-(\d+)'
      - name: qty
        format: 'qty=(\d+)'
  - name: footer
    eop: true
    format: 'TOTAL\s+(\d+)'
`

func TestLoadDecodesSingleTopLevelEntry(t *testing.T) {
	l, err := Load(strings.NewReader(simpleLayoutYAML), Options{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if l.Name() != "invoice.v1" {
		t.Fatalf("expected name invoice.v1, got %q", l.Name())
	}
	if l.Family() != "invoice" {
		t.Fatalf("expected family invoice, got %q", l.Family())
	}
	if l.Len() != 3 {
		t.Fatalf("expected 3 contexts, got %d", l.Len())
	}
}

func TestLoadRejectsMultipleTopLevelEntries(t *testing.T) {
	_, err := Load(strings.NewReader("a: []\nb: []\n"), Options{})
	if err == nil {
		t.Fatalf("expected an error for multiple top-level layout names")
	}
}

func TestBuildDefaultsRequiredAndPopOutTrue(t *testing.T) {
	def := &LayoutDef{
		Name: "x.v1",
		Contexts: []contextYAML{
			{Name: "only", Fields: []fieldYAML{{Name: "f", Format: "(.*)"}}},
		},
	}
	l, err := Build(def, Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	c := l.ContextAt(0)
	if !c.Required {
		t.Fatalf("expected context required to default true")
	}
	if !c.Fields[0].Required || !c.Fields[0].PopOut {
		t.Fatalf("expected field required/pop_out to default true")
	}
}

func TestBuildHonorsExplicitFalseDefaults(t *testing.T) {
	falseVal := false
	def := &LayoutDef{
		Name: "x.v1",
		Contexts: []contextYAML{
			{Name: "only", Required: &falseVal, Fields: []fieldYAML{{Name: "f", Required: &falseVal, PopOut: &falseVal}}},
		},
	}
	l, err := Build(def, Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	c := l.ContextAt(0)
	if c.Required {
		t.Fatalf("expected explicit required: false to stick")
	}
	if c.Fields[0].Required || c.Fields[0].PopOut {
		t.Fatalf("expected explicit field false defaults to stick")
	}
}

func TestBuildRejectsUnknownParent(t *testing.T) {
	def := &LayoutDef{
		Name: "x.v1",
		Contexts: []contextYAML{
			{Name: "child", Parent: "nonexistent"},
		},
	}
	_, err := Build(def, Options{})
	if err == nil {
		t.Fatalf("expected an unknown-parent error")
	}
	ce, ok := err.(*ConfigError)
	if !ok || ce.Type != ErrorTypeUnknownParent {
		t.Fatalf("expected ErrorTypeUnknownParent, got %v", err)
	}
}

func TestValidateCollectsAllDefects(t *testing.T) {
	def := &LayoutDef{
		Name: "x.v1",
		Contexts: []contextYAML{
			{Name: "a", Parent: "missing-parent"},
			{Name: "a"}, // duplicate
			{Name: "b", Keys: []string{"undeclared"}},
		},
	}
	errs := Validate(def)
	if len(errs) < 3 {
		t.Fatalf("expected at least 3 collected defects, got %d: %v", len(errs), errs)
	}
}

func TestValidateCleanLayoutHasNoDefects(t *testing.T) {
	def := mustDefFromYAML(t, simpleLayoutYAML)
	if errs := Validate(def); len(errs) != 0 {
		t.Fatalf("expected no defects for a clean layout, got %v", errs)
	}
}

func mustDefFromYAML(t *testing.T, yamlText string) *LayoutDef {
	t.Helper()
	def, err := DecodeDef(strings.NewReader(yamlText))
	if err != nil {
		t.Fatalf("DecodeDef: %v", err)
	}
	return def
}

func TestBuildRejectsDuplicateContextNames(t *testing.T) {
	def := &LayoutDef{
		Name: "x.v1",
		Contexts: []contextYAML{
			{Name: "dup"},
			{Name: "dup"},
		},
	}
	_, err := Build(def, Options{})
	if err == nil {
		t.Fatalf("expected a duplicate-name error")
	}
}
