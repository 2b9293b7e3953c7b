package components

import "testing"

func TestParse_KnownAndUnknown(t *testing.T) {
	for _, k := range All() {
		got, err := Parse(string(k))
		if err != nil {
			t.Fatalf("parse %q: %v", k, err)
		}
		if got != k {
			t.Fatalf("parse %q: got %q", k, got)
		}
	}
	if _, err := Parse("MetaData"); err == nil {
		t.Fatalf("expected unknown kind rejected")
	}
}

func TestStrategyOf(t *testing.T) {
	cases := map[Kind]Strategy{
		Physics:  Skip,
		Network:  Skip,
		Stack:    Blob,
		Paper:    Blob,
		Solution: Structural,
		"nope":   Skip,
	}
	for k, want := range cases {
		if got := StrategyOf(k); got != want {
			t.Fatalf("StrategyOf(%q)=%s want %s", k, got, want)
		}
	}
	if Persisted(Transform) {
		t.Fatalf("transform must not be persisted")
	}
	if !Persisted(Solution) {
		t.Fatalf("solution must be persisted")
	}
}
