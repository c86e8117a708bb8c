package layout

import (
	"strings"
	"time"
)

// repeatableState is the per-repeatable-context bookkeeping a Layout
// tracks across a page scan: the row index it was last checked at,
// whether that check was valid, and every row index it has matched at.
type repeatableState struct {
	lastCheck int
	valid     bool
	validAt   []int
}

// Layout is a named, ordered tree of context and field definitions,
// built once from a declarative description and then applied to many
// pages. A Layout is not safe for concurrent use by more than one
// in-flight parse — each FormatParser.Scan attempt loads its own Layout
// instance.
type Layout struct {
	name     string
	contexts []*ContextDef
	byName   map[string]int

	// canonical -> its declared aliases.
	aliases map[string][]string
	// alias name -> canonical name, for fast reverse lookup.
	aliasOf map[string]string

	repeatables map[string]*repeatableState

	// Per-page mutable state, reset by ClearData. The one exception is
	// rootPageDAO, which ClearData leaves alone: it accumulates every
	// page merged by MergePageIntoRoot for the life of the Layout.
	pageDAOs         []*DAO
	rootPageDAO      *DAO
	validScanResults map[string]bool
	pageCanonical    map[string]*DAO
	lastScanIndex    map[string]int

	// Cross-page mutable state: "last valid parent" carries a
	// non-repeated header/ancestor forward across pages.
	latestValidParent map[string]*DAO

	ContextTimeout time.Duration
}

// NewLayout builds a Layout from its ordered context definitions and
// alias declarations. Callers should use Load/LoadFile (loader.go)
// rather than this constructor directly; it is exported so hand-built
// layouts (e.g. in tests) don't need a YAML round trip.
func NewLayout(name string, contexts []*ContextDef, timeout time.Duration) (*Layout, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	l := &Layout{
		name:              name,
		contexts:          contexts,
		byName:            map[string]int{},
		aliases:           map[string][]string{},
		aliasOf:           map[string]string{},
		repeatables:       map[string]*repeatableState{},
		latestValidParent: map[string]*DAO{},
		ContextTimeout:    timeout,
	}
	for i, c := range contexts {
		if _, dup := l.byName[c.Name]; dup {
			return nil, NewConfigError(ErrorTypeDuplicateName, "duplicate context name \""+c.Name+"\"", Position{Layout: name, Context: c.Name}, nil)
		}
		l.byName[c.Name] = i
		if c.Repeat {
			l.repeatables[c.Name] = &repeatableState{lastCheck: -1}
		}
	}
	for _, c := range contexts {
		if c.AlternativeOf == "" {
			continue
		}
		if _, ok := l.byName[c.AlternativeOf]; !ok {
			return nil, NewConfigError(ErrorTypeUnknownAlternative, "alternative_of refers to unknown context \""+c.AlternativeOf+"\"", Position{Layout: name, Context: c.Name}, nil)
		}
		l.aliases[c.AlternativeOf] = append(l.aliases[c.AlternativeOf], c.Name)
		l.aliasOf[c.Name] = c.AlternativeOf
	}
	for _, c := range contexts {
		if c.ParentName == "" {
			continue
		}
		idx, ok := l.byName[c.ParentName]
		if !ok {
			return nil, NewConfigError(ErrorTypeUnknownParent, "parent refers to unknown context \""+c.ParentName+"\"", Position{Layout: name, Context: c.Name}, nil)
		}
		c.Parent = contexts[idx]
	}
	if err := l.checkNoParentCycles(); err != nil {
		return nil, err
	}
	for _, c := range contexts {
		if err := c.build(l.ContextTimeout); err != nil {
			return nil, err
		}
	}
	l.ClearData()
	return l, nil
}

// checkNoParentCycles rejects a parent that is already a descendant of
// the context declaring it: parent references never form cycles, so
// depth is bounded at load time.
func (l *Layout) checkNoParentCycles() error {
	for _, c := range l.contexts {
		seen := map[string]bool{c.Name: true}
		for p := c.Parent; p != nil; p = p.Parent {
			if seen[p.Name] {
				return NewConfigError(ErrorTypeParentCycle, "parent cycle detected at \""+c.Name+"\"", Position{Layout: l.name, Context: c.Name}, nil)
			}
			seen[p.Name] = true
		}
	}
	return nil
}

// Name returns the layout's declared name.
func (l *Layout) Name() string { return l.name }

// Family returns the substring of the layout name before its first '.'.
// Layouts sharing this prefix are interchangeable across page boundaries
// within one document scan.
func (l *Layout) Family() string {
	if idx := strings.IndexByte(l.name, '.'); idx >= 0 {
		return l.name[:idx]
	}
	return l.name
}

// FormatOrder returns the context names in their declared order.
func (l *Layout) FormatOrder() []string {
	names := make([]string, len(l.contexts))
	for i, c := range l.contexts {
		names[i] = c.Name
	}
	return names
}

// ContextAt returns the context definition at position i in format_order.
func (l *Layout) ContextAt(i int) *ContextDef {
	if i < 0 || i >= len(l.contexts) {
		return nil
	}
	return l.contexts[i]
}

// IndexOf returns the format_order position of the named context, or -1.
func (l *Layout) IndexOf(name string) int {
	if idx, ok := l.byName[name]; ok {
		return idx
	}
	return -1
}

// Len returns the number of contexts in format_order.
func (l *Layout) Len() int { return len(l.contexts) }

// RootDAO returns the document-root DAO accumulated across ClearData
// calls; FormatParser merges per-page DAOs into it.
func (l *Layout) RootDAO() *DAO {
	if l.rootPageDAO == nil {
		l.rootPageDAO = NewRootDAO()
	}
	return l.rootPageDAO
}

// ClearData resets page DAO list, per-page scan results, and every
// repeatable context's last_check/valid/valid_at bookkeeping. It does
// NOT touch latestValidParent, which carries state across pages. A
// driver (parser.parseRun) must call this before validating each new
// page: without it, a repeatable's last_check/valid_at and a required
// context's entry in validScanResults would otherwise survive from the
// previous page, so a page that never actually satisfies the layout's
// required contexts could be accepted on the strength of a stale true
// left over from an earlier page.
func (l *Layout) ClearData() {
	l.pageDAOs = nil
	l.validScanResults = map[string]bool{}
	l.pageCanonical = map[string]*DAO{}
	l.lastScanIndex = map[string]int{}
	for _, rs := range l.repeatables {
		rs.lastCheck = -1
		rs.valid = false
		rs.validAt = nil
	}
}

// PageDAOs returns the DAOs accumulated for the current page.
func (l *Layout) PageDAOs() []*DAO { return l.pageDAOs }

// CheckAlreadyMade reports whether a repeatable context's last_check
// equals rowIndex, or whether a context's stored last_scan_index equals
// rowIndex.
func (l *Layout) CheckAlreadyMade(name string, rowIndex int) bool {
	if rs, ok := l.repeatables[name]; ok && rs.lastCheck == rowIndex {
		return true
	}
	idx, ok := l.lastScanIndex[name]
	return ok && idx == rowIndex
}

// AllRequiredContextsValid reports whether every required top-level
// context has validated successfully at least once this page.
func (l *Layout) AllRequiredContextsValid() bool {
	for _, c := range l.contexts {
		if c.Required && !l.validScanResults[c.Name] {
			return false
		}
	}
	return true
}

// FirstUncheckedRepeatable finds a repeatable context not yet checked at
// rowIndex, for restarting the driver loop when format_order is
// exhausted but rows remain. Returns its format_order index.
func (l *Layout) FirstUncheckedRepeatable(rowIndex int) (int, bool) {
	for _, c := range l.contexts {
		if !c.Repeat {
			continue
		}
		if l.CheckAlreadyMade(c.Name, rowIndex) {
			continue
		}
		return l.byName[c.Name], true
	}
	return 0, false
}

// ProgressRowAndStore is called after every ctx.Validate to update
// repeatable/alias/parent bookkeeping and merge a produced DAO into its
// resolved parent. It returns the row index the parser should resume
// scanning from.
func (l *Layout) ProgressRowAndStore(rowIndex int, valid bool, ctx *ContextDef, state *contextState) (int, error) {
	l.lastScanIndex[ctx.Name] = rowIndex

	if rs, ok := l.repeatables[ctx.Name]; ok {
		rs.lastCheck = rowIndex
		rs.valid = valid
		if valid && (len(rs.validAt) == 0 || rs.validAt[len(rs.validAt)-1] != rowIndex) {
			rs.validAt = append(rs.validAt, rowIndex)
		}
	}

	if !l.validScanResults[ctx.Name] {
		l.validScanResults[ctx.Name] = valid
	}
	if canonical, ok := l.aliasOf[ctx.Name]; ok && valid {
		if !l.validScanResults[canonical] {
			l.validScanResults[canonical] = true
		}
	}

	if valid && state.dao != nil {
		l.latestValidParent[ctx.Name] = state.dao
		if canonical, ok := l.aliasOf[ctx.Name]; ok {
			l.latestValidParent[canonical] = state.dao
		}
	}

	if !valid || state.consumedRows <= 0 {
		return rowIndex, nil
	}

	actualDAO := state.dao
	if actualDAO == nil {
		return rowIndex + state.consumedRows, nil
	}

	if canonical, isAlias := l.aliasOf[ctx.Name]; isAlias {
		if existing, ok := l.pageCanonical[canonical]; ok {
			for k, v := range actualDAO.Fields {
				if _, has := existing.Fields[k]; !has {
					existing.Fields[k] = v
				}
			}
			actualDAO = existing
		} else {
			l.pageCanonical[canonical] = actualDAO
		}
	} else {
		l.pageCanonical[ctx.Name] = actualDAO
	}

	parentDAO := l.resolveParentDAO(ctx)
	if parentDAO != nil {
		if err := parentDAO.Merge(actualDAO); err != nil {
			return rowIndex, err
		}
		l.rememberPageDAO(parentDAO)
	} else {
		l.rememberPageDAO(actualDAO)
	}

	return rowIndex + state.consumedRows, nil
}

// resolveParentDAO resolves the effective parent DAO for ctx: the
// latest-valid-parent DAO for the context's parent name, else the
// declaration-level parent's last produced DAO, else none.
func (l *Layout) resolveParentDAO(ctx *ContextDef) *DAO {
	if ctx.ParentName != "" {
		if dao, ok := l.latestValidParent[ctx.ParentName]; ok {
			return dao
		}
	}
	if ctx.Parent != nil && ctx.Parent.last != nil {
		return ctx.Parent.last.dao
	}
	return nil
}

// rememberPageDAO appends dao to the per-page DAO list unless it's
// already present (by pointer identity), so a parent merged into
// repeatedly within one page is recorded once.
func (l *Layout) rememberPageDAO(dao *DAO) {
	for _, existing := range l.pageDAOs {
		if existing == dao {
			return
		}
	}
	l.pageDAOs = append(l.pageDAOs, dao)
}

// MergePageIntoRoot merges the current page's DAO list into the
// document root and clears the page DAO list, keeping the root's
// cumulative cross-page state.
func (l *Layout) MergePageIntoRoot() error {
	root := l.RootDAO()
	for _, dao := range l.pageDAOs {
		if dao == root {
			continue
		}
		if err := root.Merge(dao); err != nil {
			return err
		}
	}
	l.pageDAOs = nil
	return nil
}
