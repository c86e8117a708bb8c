package layout

import "strings"

// lambdaArity distinguishes the three pipeline-step shapes a lambda
// chain requires: a step either maps one string to one string, maps one string
// to a sequence (only "split" does this in the closed set below), or maps
// a sequence to a sequence. Range delimiters (token_start/token_end/
// starts_with/ends_with) always fold an intermediate sequence back into a
// single string before they run, so the type system only needs to track
// whether the *last* applied step left behind a sequence.
type lambdaArity int

const (
	stringToString lambdaArity = iota
	stringToSequence
	sequenceToSequence
)

// lambdaFn is the typed signature a registered step implements. Inputs and
// outputs are represented uniformly as []string (a single string is a
// 1-element sequence) so a pipeline can be driven without a type switch at
// every step. lambdaArity is recorded on each step but applyLambdaChain
// does not consult it: no intermediate join happens between steps.
type lambdaFn func(in []string) []string

type lambdaStep struct {
	name  string
	arity lambdaArity
	fn    lambdaFn
}

// lambdaRegistry is the closed set of named transforms a layout description
// may reference. It is built once at package init and never mutated
// afterward, so concurrent readers need no lock.
var lambdaRegistry = map[string]lambdaStep{
	"strip": {
		name: "strip", arity: stringToString,
		fn: func(in []string) []string { return mapStrings(in, strings.TrimSpace) },
	},
	"upcase": {
		name: "upcase", arity: stringToString,
		fn: func(in []string) []string { return mapStrings(in, strings.ToUpper) },
	},
	"downcase": {
		name: "downcase", arity: stringToString,
		fn: func(in []string) []string { return mapStrings(in, strings.ToLower) },
	},
	"split": {
		name: "split", arity: stringToSequence,
		fn: func(in []string) []string {
			joined := strings.Join(in, "\n")
			return strings.Fields(joined)
		},
	},
	"squeeze": {
		// collapses runs of internal whitespace to a single space, a
		// transform several result-sheet layouts need on ragged
		// fixed-width column headers before a format regex can match.
		name: "squeeze", arity: stringToString,
		fn: func(in []string) []string { return mapStrings(in, squeezeSpaces) },
	},
	"reverse_lines": {
		name: "reverse_lines", arity: sequenceToSequence,
		fn: func(in []string) []string {
			out := make([]string, len(in))
			for i, s := range in {
				out[len(in)-1-i] = s
			}
			return out
		},
	},
}

func mapStrings(in []string, f func(string) string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = f(s)
	}
	return out
}

func squeezeSpaces(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

// lookupLambda resolves a named pipeline step from the closed registry. An
// unknown name is a load-time ConfigError, never a silent no-op.
func lookupLambda(name string) (lambdaStep, bool) {
	step, ok := lambdaRegistry[name]
	return step, ok
}

// applyLambdaChain runs a chain of named steps against the starting input.
// Each step receives the whole current sequence; string-to-string steps
// are applied to every element, so a sequence produced by "split" is not
// joined between steps. Folding back to a single string before range
// delimiters is left to the caller (foldToString).
func applyLambdaChain(names []string, start string) ([]string, error) {
	cur := []string{start}
	for _, name := range names {
		step, ok := lookupLambda(name)
		if !ok {
			return nil, NewConfigError(ErrorTypeUnknownLambda, "unknown lambda step \""+name+"\"", Position{}, nil)
		}
		cur = step.fn(cur)
	}
	return cur, nil
}

// foldToString collapses a sequence back to a single string, joined with
// LF. Whenever any range-delimiting option is set, the intermediate
// sequence is folded back into a single string before it runs.
func foldToString(seq []string) string {
	return strings.Join(seq, "\n")
}

// validateLambdaNames checks that every referenced lambda name exists in
// the closed registry, without running any of them. Used by the loader so
// a bad layout description fails at build time: a malformed description
// is a configuration error and must raise.
func validateLambdaNames(names []string) error {
	for _, name := range names {
		if _, ok := lookupLambda(name); !ok {
			return NewConfigError(ErrorTypeUnknownLambda, "unknown lambda step \""+name+"\"", Position{}, nil)
		}
	}
	return nil
}
