package layout

import (
	"fmt"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

// ContextDef is the mostly-immutable definition of a composite, possibly
// multi-line pattern. Per-run mutable state lives in a freshly allocated
// contextState on every Validate call, so one ContextDef can be validated
// from nested calls without aliasing hazards; the ContextDef only keeps a
// pointer to the most recent contextState (see last).
type ContextDef struct {
	Name          string
	AlternativeOf string

	AtFixedRow  *int
	StartsAtRow *int
	EndsAtRow   *int
	EOP         bool

	RowSpan    int
	Lambda     []string
	StartsWith string
	EndsWith   string
	Format     string

	Fields []*FieldDef
	Rows   []*ContextDef

	Required        bool
	Repeat          bool
	OptionalIfEmpty bool

	Keys []string

	ParentName string
	Parent     *ContextDef

	compiled *regexp2.Regexp

	// last is the contextState from the most recent Validate call,
	// retained so a Layout can resolve "the declaration-level parent"'s
	// produced DAO even when the parent wasn't the latest valid parent
	// under its own name: a produced DAO lives in a context's mutable
	// per-run state and stays there until the next Validate call.
	last *contextState
}

// contextState is the mutable, per-run result of a single Validate call.
type contextState struct {
	currIndex            int
	consumedRows         int
	lastValidationResult bool
	dataHash             *orderedMap
	currBuffer           []string
	dao                  *DAO
	key                  string
}

// effectiveRowSpan returns RowSpan if set, otherwise the count of declared
// child rows, otherwise 1.
func (c *ContextDef) effectiveRowSpan() int {
	if c.RowSpan > 0 {
		return c.RowSpan
	}
	if len(c.Rows) > 0 {
		return len(c.Rows)
	}
	return 1
}

// build compiles the context's format regex (if any), validates its
// lambda chain, and recurses into fields and child rows. Called once
// while the owning Layout is being built.
func (c *ContextDef) build(timeout time.Duration) error {
	if err := validateLambdaNames(c.Lambda); err != nil {
		if ce, ok := err.(*ConfigError); ok {
			ce.Pos.Context = c.Name
		}
		return err
	}
	if c.Format != "" {
		re, err := regexp2.Compile(c.Format, regexp2.IgnoreCase)
		if err != nil {
			return NewConfigError(ErrorTypeInvalidRegex, fmt.Sprintf("invalid format regex: %s", err), Position{Context: c.Name}, err)
		}
		re.MatchTimeout = timeout
		c.compiled = re
	}
	if c.RowSpan <= 0 && len(c.Rows) > 0 {
		c.RowSpan = len(c.Rows)
	}
	for _, f := range c.Fields {
		if err := f.build(timeout); err != nil {
			return err
		}
	}
	for _, child := range c.Rows {
		if err := child.build(timeout); err != nil {
			return err
		}
	}
	return nil
}

// Validate evaluates c against pageRows starting at scanIndex, running it
// through an eight-stage state machine: fixed-row/range gating, window
// slicing, blank-buffer handling, format matching, field scan, row scan,
// and key composition. It returns whether the context matched, and (via
// state) everything a caller (Layout) needs to progress the row pointer
// and merge a produced DAO.
func (c *ContextDef) Validate(pageRows []string, scanIndex int, extract bool) (bool, *contextState, error) {
	st := &contextState{dataHash: newOrderedMap()}
	defer func() { c.last = st }()

	// Pre-flight: dry-run contexts that are optional or repeatable never
	// fail a validity check.
	if !extract && (!c.Required || c.Repeat) {
		st.lastValidationResult = true
		return true, st, nil
	}

	if scanIndex >= len(pageRows) {
		return false, st, nil
	}
	end := len(pageRows)
	if c.EndsAtRow != nil {
		if scanIndex > *c.EndsAtRow {
			return false, st, nil
		}
		if *c.EndsAtRow+1 < end {
			end = *c.EndsAtRow + 1
		}
	}

	rowSpan := c.effectiveRowSpan()
	effectiveStartsAtRow := c.StartsAtRow
	if c.EOP {
		s := end - rowSpan
		effectiveStartsAtRow = &s
	}
	if c.AtFixedRow != nil && scanIndex != *c.AtFixedRow {
		return false, st, nil
	}
	if effectiveStartsAtRow != nil && scanIndex < *effectiveStartsAtRow {
		return false, st, nil
	}

	start := scanIndex
	if effectiveStartsAtRow != nil && *effectiveStartsAtRow > start {
		start = *effectiveStartsAtRow
	}
	if start > end {
		start = end
	}
	window := append([]string{}, pageRows[start:end]...)

	joined := strings.Join(window, "\n")
	if c.EndsWith != "" {
		if idx := strings.Index(joined, c.EndsWith); idx >= 0 {
			joined = joined[:idx]
		}
	}
	if c.StartsWith != "" {
		if idx := strings.Index(joined, c.StartsWith); idx >= 0 {
			joined = joined[idx+len(c.StartsWith):]
		}
	}
	rows := strings.Split(joined, "\n")
	if len(rows) > rowSpan {
		rows = rows[:rowSpan]
	}
	st.currBuffer = rows

	blank := isBlankBuffer(rows)
	hasShape := len(c.Fields) > 0 || len(c.Rows) > 0
	if blank && !c.OptionalIfEmpty && hasShape {
		return false, st, nil
	}
	// A blank buffer against a bare format (no fields/rows) is not an
	// automatic rejection: the format may be specifically designed to
	// match blank content (the "required blank line" case below).

	lambdaOut, err := applyLambdaChain(c.Lambda, strings.Join(rows, "\n"))
	if err != nil {
		return false, st, err
	}
	collapsed := foldToString(lambdaOut)

	formatOnly := c.Format != "" && len(c.Fields) == 0 && len(c.Rows) == 0
	if c.Format != "" {
		matched, captured, merr := matchWithTimeoutString(c.compiled, collapsed)
		if merr != nil {
			if ce, ok := merr.(*ConfigError); ok && ce.Pos.Context == "" {
				ce.Pos.Context = c.Name
			}
			return false, st, merr
		}
		switch {
		case matched && strings.TrimSpace(captured) == "" && strings.TrimSpace(collapsed) == "":
			// the context's format is itself satisfied by a blank line.
			st.consumedRows = 1
			st.lastValidationResult = true
			st.key = c.Name
			c.emit(st)
			return true, st, nil
		case matched && strings.TrimSpace(captured) != "":
			st.dataHash.Set(c.Name, strings.TrimSpace(captured))
			st.consumedRows = 1
		case !matched && formatOnly && !c.OptionalIfEmpty:
			return false, st, nil
		}
	}

	fieldsOK, ferr := c.scanFields(st)
	if ferr != nil {
		if ce, ok := ferr.(*ConfigError); ok && ce.Pos.Context == "" {
			ce.Pos.Context = c.Name
		}
		return false, st, ferr
	}
	rowsOK, rerr := c.scanRows(st)
	if rerr != nil {
		return false, st, rerr
	}

	valid := fieldsOK && rowsOK
	if blank && c.OptionalIfEmpty {
		valid = true
		st.consumedRows = rowSpan
	}
	if !valid {
		return false, st, nil
	}

	key := c.composeKey(st.dataHash)
	st.key = key
	st.lastValidationResult = true
	if key != "" {
		c.emit(st)
	}
	return true, st, nil
}

// scanFields runs each declared field against the context's current
// buffer in order, threading the residual string from one field's
// extraction into the next.
func (c *ContextDef) scanFields(st *contextState) (bool, error) {
	if len(c.Fields) == 0 {
		return true, nil
	}
	src := strings.Join(st.currBuffer, "\n")
	ok := true
	advanced := false
	for _, f := range c.Fields {
		residual, fstate, err := f.Extract(src)
		if err != nil {
			return false, err
		}
		src = residual
		if fstate.hasValue {
			st.dataHash.Set(f.Name, fstate.value)
			advanced = true
		} else if f.Required {
			ok = false
		}
	}
	if ok && advanced {
		st.currIndex++
	}
	if c.OptionalIfEmpty && isBlankBuffer(st.currBuffer) {
		ok = true
		st.consumedRows = 1
	}
	return ok, nil
}

// scanRows recursively validates each child Context against the local
// window, advancing curr_index and consumed_rows by the child's own
// consumed_rows.
func (c *ContextDef) scanRows(st *contextState) (bool, error) {
	if len(c.Rows) == 0 {
		return true, nil
	}
	ok := true
	for _, child := range c.Rows {
		valid, childState, err := child.Validate(st.currBuffer, st.currIndex, true)
		if err != nil {
			return false, err
		}
		if valid {
			st.consumedRows += childState.consumedRows
			st.currIndex += childState.consumedRows
			st.dataHash.Set(child.Name, childState.key)
		} else if child.Required {
			ok = false
		}
	}
	if c.OptionalIfEmpty && isBlankBuffer(st.currBuffer) {
		ok = true
		st.consumedRows = c.effectiveRowSpan()
	}
	return ok, nil
}

// composeKey builds the context's identity key: filtered to Keys when
// set, otherwise the required fields and child rows in declaration
// order (fields first, then rows, matching scanFields running before
// scanRows), falling back to the full data_hash only for a leaf
// context with no declared fields or rows at all (a bare-format
// context, whose own captured value lives in data_hash under its own
// name and has no other sibling to fall back to).
func (c *ContextDef) composeKey(data *orderedMap) string {
	names := c.Keys
	if len(names) == 0 {
		names = c.requiredSiblingNames()
	}
	if len(names) == 0 && len(c.Fields) == 0 && len(c.Rows) == 0 {
		names = data.Keys()
	}
	parts := make([]string, 0, len(names))
	for _, name := range names {
		if v, ok := data.Get(name); ok && v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, "|")
}

// requiredSiblingNames returns the names of c's required fields
// followed by its required child rows, in declaration order.
func (c *ContextDef) requiredSiblingNames() []string {
	var names []string
	for _, f := range c.Fields {
		if f.Required {
			names = append(names, f.Name)
		}
	}
	for _, r := range c.Rows {
		if r.Required {
			names = append(names, r.Name)
		}
	}
	return names
}

// emit snapshots the current dataHash and produces the context's DAO,
// stored on st.dao and on the context until the next Validate call.
func (c *ContextDef) emit(st *contextState) {
	if st.consumedRows == 0 {
		st.consumedRows = 1
	}
	name := c.Name
	if c.AlternativeOf != "" {
		name = c.AlternativeOf
	}
	st.dao = &DAO{
		Name:       name,
		Key:        st.key,
		Fields:     st.dataHash.ToMap(),
		ParentName: c.ParentName,
	}
}

// isBlankBuffer reports whether every row in buf is empty or whitespace.
func isBlankBuffer(buf []string) bool {
	for _, row := range buf {
		if strings.TrimSpace(row) != "" {
			return false
		}
	}
	return true
}

// matchWithTimeoutString runs the context's compiled format regex against
// a single collapsed string and applies the capture-or-substring rule,
// same as matchFieldFormat but for the single-string (not array) case
// context formats always operate on.
func matchWithTimeoutString(re *regexp2.Regexp, input string) (matched bool, value string, err error) {
	m, merr := matchWithTimeout(re, input)
	if merr != nil {
		return false, "", merr
	}
	if m == nil {
		return false, "", nil
	}
	return true, captureOrSubstring(m), nil
}
