package cloudsync

import "testing"

func TestNormalizeKey_ComposesCombiningMarks(t *testing.T) {
	decomposed := "é" // "e" + combining acute accent
	composed := "é"    // "é"

	if got := normalizeKey(decomposed); got != composed {
		t.Fatalf("want decomposed form normalized to composed form, got %q", got)
	}
}

func TestNormalizeKeys_AppliesToEveryElement(t *testing.T) {
	in := []string{"école", "plain"}
	out := normalizeKeys(in)

	if out[0] != "école" || out[1] != "plain" {
		t.Fatalf("unexpected normalization: %v", out)
	}
}
