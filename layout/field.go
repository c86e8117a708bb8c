package layout

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

// FieldDef is the immutable shape of a single named scalar extraction.
// The extracted value lives in a separate, per-run fieldState (and the
// residual buffer is returned by Extract) so many concurrent validations
// never alias mutable state through a shared FieldDef.
type FieldDef struct {
	Name       string
	Lambda     []string
	TokenStart *int
	TokenEnd   *int
	StartsWith string
	EndsWith   string
	Format     string // regex source; empty means synthesize the default
	PopOut     bool
	Required   bool

	compiled     *regexp2.Regexp // nil until build() resolves Format
	contextTimeout time.Duration
}

// fieldState holds the mutable, per-call result of the most recent
// Extract call for a FieldDef.
type fieldState struct {
	hasValue bool
	value    string
}

// build resolves and compiles the field's regex (or its synthesized
// default) and validates its lambda chain. Called once while a Layout is
// being loaded; never called again afterward.
func (f *FieldDef) build(timeout time.Duration) error {
	if err := validateLambdaNames(f.Lambda); err != nil {
		if ce, ok := err.(*ConfigError); ok {
			ce.Pos.Field = f.Name
		}
		return err
	}
	f.contextTimeout = timeout
	pattern := f.Format
	if pattern == "" {
		pattern = `\W*(` + regexp.QuoteMeta(f.Name) + `)\W*`
	}
	re, err := regexp2.Compile(pattern, regexp2.IgnoreCase)
	if err != nil {
		return NewConfigError(ErrorTypeInvalidRegex, fmt.Sprintf("invalid format regex: %s", err), Position{Field: f.Name}, err)
	}
	re.MatchTimeout = timeout
	f.compiled = re
	return nil
}

// hasRangeOption reports whether any range-delimiting option is set.
func (f *FieldDef) hasRangeOption() bool {
	return f.TokenStart != nil || f.TokenEnd != nil || f.StartsWith != "" || f.EndsWith != ""
}

// Extract applies the field's lambda chain, range delimiters, and format
// regex to source, returning the residual buffer for the next field in
// the same row scan.
func (f *FieldDef) Extract(source string) (residual string, state *fieldState, err error) {
	state = &fieldState{}

	lambdaOut, lerr := applyLambdaChain(f.Lambda, source)
	if lerr != nil {
		return source, state, lerr
	}
	postLambda := foldToString(lambdaOut)

	work := lambdaOut
	if f.hasRangeOption() {
		work = []string{applyRangeDelimiters(foldToString(lambdaOut), f.TokenStart, f.TokenEnd, f.StartsWith, f.EndsWith)}
	}

	matched, value, merr := matchFieldFormat(f.compiled, work)
	if merr != nil {
		return source, state, merr
	}
	if matched {
		state.hasValue = true
		state.value = strings.TrimSpace(value)
	}

	if f.PopOut && state.hasValue {
		residual = removeFirstOccurrence(source, state.value)
	} else {
		residual = postLambda
	}
	return residual, state, nil
}

// applyRangeDelimiters applies the four range-delimiting options in a
// fixed order: token_end first, then token_start, then ends_with, then
// starts_with.
func applyRangeDelimiters(s string, tokenStart, tokenEnd *int, startsWith, endsWith string) string {
	if tokenEnd != nil {
		idx := *tokenEnd + 1
		if idx > len(s) {
			idx = len(s)
		}
		if idx < 0 {
			idx = 0
		}
		s = s[:idx]
	}
	if tokenStart != nil {
		idx := *tokenStart
		if idx > len(s) {
			idx = len(s)
		}
		if idx < 0 {
			idx = 0
		}
		s = s[idx:]
	}
	if endsWith != "" {
		if idx := strings.Index(s, endsWith); idx >= 0 {
			s = s[:idx]
		}
	}
	if startsWith != "" {
		if idx := strings.Index(s, startsWith); idx >= 0 {
			s = s[idx+len(startsWith):]
		}
	}
	return s
}

// matchFieldFormat matches re against items in order. On an array input
// (len(items) > 1), it returns the first item whose match succeeds. On a
// string input (len(items) == 1) it applies the capture-or-substring rule.
func matchFieldFormat(re *regexp2.Regexp, items []string) (matched bool, value string, err error) {
	for _, item := range items {
		m, merr := matchWithTimeout(re, item)
		if merr != nil {
			return false, "", merr
		}
		if m == nil {
			continue
		}
		if len(items) > 1 {
			return true, item, nil
		}
		return true, captureOrSubstring(m), nil
	}
	return false, "", nil
}

// captureOrSubstring returns the first non-empty capture group if the
// regex has any, otherwise the whole match substring.
func captureOrSubstring(m *regexp2.Match) string {
	groups := m.Groups()
	for _, g := range groups[1:] {
		if g.Length > 0 {
			return g.String()
		}
	}
	return m.String()
}

// matchWithTimeout runs re against input, translating a regexp2 timeout
// into a *ConfigError naming the pathological pattern.
func matchWithTimeout(re *regexp2.Regexp, input string) (*regexp2.Match, error) {
	m, err := re.FindStringMatch(input)
	if err != nil {
		if _, ok := err.(*regexp2.MatchTimeoutError); ok {
			return nil, NewConfigError(ErrorTypePathologicalPattern, "pathological pattern: regex exceeded the configured timeout", Position{}, err)
		}
		return nil, NewConfigError(ErrorTypeInvalidRegex, err.Error(), Position{}, err)
	}
	return m, nil
}

// removeFirstOccurrence removes the first literal occurrence of needle
// from s, returning s unchanged if needle is not found.
func removeFirstOccurrence(s, needle string) string {
	idx := strings.Index(s, needle)
	if idx < 0 {
		return s
	}
	return s[:idx] + s[idx+len(needle):]
}
