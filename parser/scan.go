package parser

import (
	"errors"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sporteng/tabledoc/layout"
)

// Config holds ambient parser settings: a *log.Logger for progress
// messages and the regex evaluation timeout passed through to every
// built Layout.
type Config struct {
	Log            *log.Logger
	ContextTimeout time.Duration
}

// NewConfig returns a Config with sane defaults: stderr logging and a
// 5-second per-context regex timeout.
func NewConfig() *Config {
	return &Config{
		Log:            log.New(os.Stderr, "tabledoc: ", 0),
		ContextTimeout: 5 * time.Second,
	}
}

// Silent disables all logging.
func (c *Config) Silent() *Config {
	c.Log = log.New(io.Discard, "", 0)
	return c
}

// LayoutCheck is the per-layout bookkeeping in a ScanReport: whether it
// was last valid, the page index of its last check, and every page
// index it matched at.
type LayoutCheck struct {
	Valid     bool
	LastCheck int
	ValidAt   []int
}

// ScanReport is returned alongside the winning layout name and root DAO.
type ScanReport struct {
	RunID   string
	Checked map[string]*LayoutCheck
}

func (r *ScanReport) record(name string, pageIndex int, valid bool) {
	c, ok := r.Checked[name]
	if !ok {
		c = &LayoutCheck{}
		r.Checked[name] = c
	}
	c.LastCheck = pageIndex
	c.Valid = valid
	if valid {
		c.ValidAt = append(c.ValidAt, pageIndex)
	}
}

// ScanOptions configures a Scan call.
type ScanOptions struct {
	FamilyFilter string
	PageStart    int
	PageEnd      int // exclusive; 0 means "to the end"
}

// ScanOption mutates ScanOptions; see WithFamilyFilter/WithPageRange.
type ScanOption func(*ScanOptions)

// WithFamilyFilter restricts Scan to layouts whose family matches prefix.
func WithFamilyFilter(prefix string) ScanOption {
	return func(o *ScanOptions) { o.FamilyFilter = prefix }
}

// WithPageRange restricts Scan to pages [start, end).
func WithPageRange(start, end int) ScanOption {
	return func(o *ScanOptions) { o.PageStart, o.PageEnd = start, end }
}

// FormatParser enumerates a set of layout descriptions and drives them,
// page by page, against a source document.
type FormatParser struct {
	Defs   []*layout.LayoutDef
	Config *Config
}

// NewFormatParser builds a FormatParser over the given layout
// descriptions, in the order they should be tried.
func NewFormatParser(defs []*layout.LayoutDef, cfg *Config) *FormatParser {
	if cfg == nil {
		cfg = NewConfig()
	}
	return &FormatParser{Defs: defs, Config: cfg}
}

func familyOf(name string) string {
	if idx := strings.IndexByte(name, '.'); idx >= 0 {
		return name[:idx]
	}
	return name
}

// Scan picks layouts in declaration order, restricting the rotation to
// the winning family once one layout has matched a page, and merges
// every matched page into a single document root DAO.
func (p *FormatParser) Scan(doc []byte, basename string, opts ...ScanOption) (winningLayout string, root *layout.DAO, report *ScanReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			winningLayout, root, report = "", nil, nil
			if e, ok := r.(error); ok {
				err = layout.NewConfigError(layout.ErrorTypeInternal, "scan panicked: "+e.Error(), layout.Position{}, e)
				return
			}
			err = layout.NewConfigError(layout.ErrorTypeInternal, "scan panicked", layout.Position{}, nil)
		}
	}()

	options := &ScanOptions{}
	for _, o := range opts {
		o(options)
	}

	candidates := p.Defs
	if options.FamilyFilter != "" {
		candidates = nil
		for _, d := range p.Defs {
			if familyOf(d.Name) == options.FamilyFilter {
				candidates = append(candidates, d)
			}
		}
	}
	if len(candidates) == 0 {
		return "", nil, nil, errors.New("tabledoc: no layout descriptions available")
	}

	runID := uuid.New().String()
	report = &ScanReport{RunID: runID, Checked: map[string]*LayoutCheck{}}
	root = layout.NewRootDAO()

	pages := SplitPages(doc)
	start, end := options.PageStart, len(pages)
	if options.PageEnd > 0 && options.PageEnd < end {
		end = options.PageEnd
	}

	pageIndex := start
	winningFamily := ""
	winningName := ""

	for pageIndex < end {
		if len(SplitRows(pages[pageIndex])) == 0 {
			p.Config.Log.Printf("[%s] %s: page %d EMPTY", runID, basename, pageIndex)
			pageIndex++
			continue
		}

		progressed := false
		for _, def := range candidates {
			if winningFamily != "" && familyOf(def.Name) != winningFamily {
				continue
			}
			built, berr := layout.Build(def, layout.Options{ContextTimeout: p.Config.ContextTimeout})
			if berr != nil {
				return "", nil, nil, berr
			}
			consumed, perr := p.parseRun(built, pages, pageIndex, end)
			if perr != nil {
				return "", nil, nil, perr
			}
			report.record(def.Name, pageIndex, consumed > 0)
			if consumed > 0 {
				if err := root.Merge(built.RootDAO()); err != nil {
					return "", nil, nil, err
				}
				p.Config.Log.Printf("[%s] %s: layout %q matched pages [%d,%d)", runID, basename, def.Name, pageIndex, pageIndex+consumed)
				pageIndex += consumed
				winningFamily = familyOf(def.Name)
				winningName = def.Name
				progressed = true
				break
			}
		}
		if !progressed {
			break
		}
	}

	return winningName, root, report, nil
}

// parseRun drives one freshly built Layout across as many consecutive,
// non-empty pages as it can validate, stopping at the first page it
// cannot satisfy or the first empty page. It returns how many pages it
// successfully consumed.
func (p *FormatParser) parseRun(built *layout.Layout, pages [][]byte, startPage, endPage int) (consumed int, err error) {
	pageIndex := startPage
	for pageIndex < endPage {
		rows := SplitRows(pages[pageIndex])
		if len(rows) == 0 {
			break
		}
		built.ClearData()
		ok, perr := parsePage(built, rows)
		if perr != nil {
			return 0, perr
		}
		if !ok {
			break
		}
		if err := built.MergePageIntoRoot(); err != nil {
			return 0, err
		}
		pageIndex++
	}
	return pageIndex - startPage, nil
}

// maxIterationFactor bounds parsePage's driver loop so a structurally
// broken layout description (one that should have failed load-time
// validation but somehow didn't) cannot spin forever; it is a backstop,
// not a documented part of the algorithm.
const maxIterationFactor = 8

// parsePage walks built's format_order against rows, advancing or
// recursing to the parent/previous context on failure, until either
// the page is fully validated or the layout cannot make progress.
func parsePage(built *layout.Layout, rows []string) (bool, error) {
	ctxIndex, rowIndex := 0, 0
	maxIterations := (len(rows) + built.Len() + 1) * maxIterationFactor

	for iter := 0; ; iter++ {
		if iter > maxIterations {
			return false, layout.NewConfigError(layout.ErrorTypeInternal, "layout driver made no progress within the iteration budget", layout.Position{Layout: built.Name()}, nil)
		}
		if rowIndex >= len(rows) || ctxIndex >= built.Len() {
			break
		}

		ctx := built.ContextAt(ctxIndex)
		valid, state, verr := ctx.Validate(rows, rowIndex, true)
		if verr != nil {
			return false, verr
		}

		newRowIndex, perr := built.ProgressRowAndStore(rowIndex, valid, ctx, state)
		if perr != nil {
			return false, perr
		}
		rowIndex = newRowIndex

		if built.AllRequiredContextsValid() {
			if err := built.MergePageIntoRoot(); err != nil {
				return false, err
			}
		}

		if valid && built.AllRequiredContextsValid() && (rowIndex >= len(rows) || ctx.EOP) {
			return true, nil
		}

		previousRepeat := ctxIndex > 0 && built.ContextAt(ctxIndex-1).Repeat
		// "Continue with same" only re-tries ctx at the next row when ctx
		// could plausibly match again: repeatable, or a composite context
		// whose own child rows drive further consumption. A one-shot leaf
		// context (the ordinary header/footer case) always advances after
		// a successful match; retrying it verbatim against the next row
		// would almost always fail immediately and, combined with FAIL &
		// halt below, abort the whole page.
		mayRematch := ctx.Repeat || len(ctx.Rows) > 0
		switch {
		case !valid && ctx.Required && !ctx.Repeat && !previousRepeat && ctx.Parent == nil:
			return false, nil
		case !valid && ctx.ParentName != "" && ctx.Parent != nil && ctx.Parent.Required && !built.CheckAlreadyMade(ctx.ParentName, rowIndex):
			ctxIndex = built.IndexOf(ctx.ParentName)
		case !valid && ctxIndex > 0 && previousRepeat && !built.CheckAlreadyMade(built.ContextAt(ctxIndex-1).Name, rowIndex):
			ctxIndex--
		case valid && mayRematch:
			// leave ctxIndex alone: a repeatable or parent-producing
			// context may match again at the next row.
		default:
			ctxIndex++
		}

		if ctxIndex >= built.Len() && rowIndex < len(rows) {
			if restart, ok := built.FirstUncheckedRepeatable(rowIndex); ok {
				ctxIndex = restart
			}
		}
	}

	return built.AllRequiredContextsValid(), nil
}
