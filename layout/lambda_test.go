package layout

import "testing"

func TestApplyLambdaChainUpcaseStrip(t *testing.T) {
	out, err := applyLambdaChain([]string{"strip", "upcase"}, "  hello world  ")
	if err != nil {
		t.Fatalf("applyLambdaChain: %v", err)
	}
	if foldToString(out) != "HELLO WORLD" {
		t.Fatalf("unexpected result: %q", foldToString(out))
	}
}

func TestApplyLambdaChainSplitProducesSequence(t *testing.T) {
	out, err := applyLambdaChain([]string{"split"}, "a  b\tc")
	if err != nil {
		t.Fatalf("applyLambdaChain: %v", err)
	}
	if len(out) != 3 || out[0] != "a" || out[1] != "b" || out[2] != "c" {
		t.Fatalf("unexpected split result: %#v", out)
	}
}

func TestApplyLambdaChainReverseLines(t *testing.T) {
	out, err := applyLambdaChain([]string{"split", "reverse_lines"}, "one two three")
	if err != nil {
		t.Fatalf("applyLambdaChain: %v", err)
	}
	want := []string{"three", "two", "one"}
	for i, w := range want {
		if out[i] != w {
			t.Fatalf("unexpected reverse_lines result: %#v", out)
		}
	}
}

func TestValidateLambdaNamesRejectsUnknown(t *testing.T) {
	err := validateLambdaNames([]string{"strip", "not_a_real_lambda"})
	if err == nil {
		t.Fatalf("expected an unknown-lambda error")
	}
	ce, ok := err.(*ConfigError)
	if !ok || ce.Type != ErrorTypeUnknownLambda {
		t.Fatalf("expected ErrorTypeUnknownLambda, got %v", err)
	}
}

func TestSqueezeSpacesCollapsesInternalWhitespace(t *testing.T) {
	if got := squeezeSpaces("a    b\tc"); got != "a b c" {
		t.Fatalf("unexpected squeeze result: %q", got)
	}
}
