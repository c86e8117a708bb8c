package layout

import (
	"testing"
	"time"
)

func mustLayout(t *testing.T, name string, contexts []*ContextDef) *Layout {
	t.Helper()
	l, err := NewLayout(name, contexts, time.Second)
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}
	return l
}

func TestNewLayoutRejectsParentCycle(t *testing.T) {
	a := &ContextDef{Name: "a", ParentName: "b"}
	b := &ContextDef{Name: "b", ParentName: "a"}
	_, err := NewLayout("cyclic.v1", []*ContextDef{a, b}, time.Second)
	if err == nil {
		t.Fatalf("expected a parent-cycle error")
	}
	ce, ok := err.(*ConfigError)
	if !ok || ce.Type != ErrorTypeParentCycle {
		t.Fatalf("expected ErrorTypeParentCycle, got %v", err)
	}
}

func TestLayoutFamilyFromDottedName(t *testing.T) {
	l := mustLayout(t, "remittance.v2", []*ContextDef{{Name: "only", Format: "x"}})
	if l.Family() != "remittance" {
		t.Fatalf("expected family remittance, got %q", l.Family())
	}
}

func TestCheckAlreadyMadeTracksRepeatables(t *testing.T) {
	line := &ContextDef{Name: "line", Repeat: true, Format: "SKU"}
	l := mustLayout(t, "inv.v1", []*ContextDef{line})

	ctx := l.ContextAt(0)
	valid, st, err := ctx.Validate([]string{"SKU"}, 0, true)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if _, err := l.ProgressRowAndStore(0, valid, ctx, st); err != nil {
		t.Fatalf("ProgressRowAndStore: %v", err)
	}
	if !l.CheckAlreadyMade("line", 0) {
		t.Fatalf("expected line to be marked already-checked at row 0")
	}
	if l.CheckAlreadyMade("line", 1) {
		t.Fatalf("row 1 was never checked")
	}
}

func TestAllRequiredContextsValidRequiresEveryRequiredContext(t *testing.T) {
	header := &ContextDef{Name: "header", Format: "H", Required: true}
	footer := &ContextDef{Name: "footer", Format: "F", Required: true}
	l := mustLayout(t, "doc.v1", []*ContextDef{header, footer})

	if l.AllRequiredContextsValid() {
		t.Fatalf("expected false before any context validated")
	}

	hctx := l.ContextAt(0)
	valid, st, _ := hctx.Validate([]string{"H"}, 0, true)
	l.ProgressRowAndStore(0, valid, hctx, st)
	if l.AllRequiredContextsValid() {
		t.Fatalf("expected false with only header satisfied")
	}

	fctx := l.ContextAt(1)
	valid, st, _ = fctx.Validate([]string{"F"}, 0, true)
	l.ProgressRowAndStore(0, valid, fctx, st)
	if !l.AllRequiredContextsValid() {
		t.Fatalf("expected true once both required contexts are satisfied")
	}
}

func TestFirstUncheckedRepeatableRestartsLoop(t *testing.T) {
	header := &ContextDef{Name: "header", Format: "H", Required: true}
	line := &ContextDef{Name: "line", Format: "L", Repeat: true, Required: false}
	l := mustLayout(t, "doc.v1", []*ContextDef{header, line})

	idx, ok := l.FirstUncheckedRepeatable(3)
	if !ok || idx != 1 {
		t.Fatalf("expected the repeatable line context at index 1, got idx=%d ok=%v", idx, ok)
	}

	lctx := l.ContextAt(1)
	valid, st, _ := lctx.Validate([]string{"L"}, 3, true)
	l.ProgressRowAndStore(3, valid, lctx, st)

	if _, ok := l.FirstUncheckedRepeatable(3); ok {
		t.Fatalf("expected no unchecked repeatable left at row 3 after it was checked")
	}
}

func TestMergePageIntoRootMovesPageDAOsToRoot(t *testing.T) {
	line := &ContextDef{Name: "line", Format: `SKU-(\d+)`, Required: true}
	l := mustLayout(t, "doc.v1", []*ContextDef{line})

	ctx := l.ContextAt(0)
	valid, st, err := ctx.Validate([]string{"SKU-1"}, 0, true)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if _, err := l.ProgressRowAndStore(0, valid, ctx, st); err != nil {
		t.Fatalf("ProgressRowAndStore: %v", err)
	}
	if err := l.MergePageIntoRoot(); err != nil {
		t.Fatalf("MergePageIntoRoot: %v", err)
	}
	if len(l.RootDAO().Rows) != 1 {
		t.Fatalf("expected one row merged into root, got %d", len(l.RootDAO().Rows))
	}
	if len(l.PageDAOs()) != 0 {
		t.Fatalf("expected page DAO list cleared after merge")
	}
}
