package components

import (
	"math"
	"testing"
)

func TestSolutionProperties_RoundTrip(t *testing.T) {
	in := map[string]SolutionState{
		"beaker": {Volume: 30.00049, MaxVolume: 50, Temperature: 293.15, Reagents: map[string]float64{"Water": 20, "Ethanol": 10.00049, "Empty": 0}},
	}
	props, err := SolutionProperties(in)
	if err != nil {
		t.Fatalf("props: %v", err)
	}
	out, err := ParseSolutionProperties(props)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	b := out["beaker"]
	if b.Volume != 30 || b.MaxVolume != 50 || b.Temperature != 293.15 {
		t.Fatalf("unexpected solution: %+v", b)
	}
	if b.Reagents["Ethanol"] != 10 || b.Reagents["Water"] != 20 {
		t.Fatalf("unexpected reagents: %+v", b.Reagents)
	}
	if _, ok := b.Reagents["Empty"]; ok {
		t.Fatalf("zero quantity reagents should be dropped")
	}
}

func TestParseSolutionProperties_AcceptsYAMLIntegers(t *testing.T) {
	props := map[string]any{"solutions": map[string]any{
		"tank": map[string]any{"volume": 5, "max_volume": 100, "reagents": map[string]any{"Fuel": 5}},
	}}
	out, err := ParseSolutionProperties(props)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if out["tank"].Reagents["Fuel"] != 5 || out["tank"].MaxVolume != 100 {
		t.Fatalf("unexpected: %+v", out["tank"])
	}
}

func TestSolutionProperties_RejectsNonFinite(t *testing.T) {
	_, err := SolutionProperties(map[string]SolutionState{"x": {Volume: math.NaN()}})
	if err == nil {
		t.Fatalf("expected NaN rejected")
	}
	if _, err := ParseSolutionProperties(map[string]any{"solutions": "nope"}); err == nil {
		t.Fatalf("expected bad shape rejected")
	}
}

func TestSolutionProperties_RoundedReagentsFitCapacity(t *testing.T) {
	props, err := SolutionProperties(map[string]SolutionState{
		"beaker": {Volume: 1, MaxVolume: 1, Reagents: map[string]float64{"A": 0.2227, "B": 0.3336, "C": 0.4437}},
	})
	if err != nil {
		t.Fatalf("props: %v", err)
	}
	out, err := ParseSolutionProperties(props)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	r := out["beaker"].Reagents
	if r["A"] != 0.223 || r["B"] != 0.333 || r["C"] != 0.444 {
		t.Fatalf("reagents=%v", r)
	}
	if out["beaker"].Volume != 1 {
		t.Fatalf("volume=%v", out["beaker"].Volume)
	}
}

func TestFitMilli(t *testing.T) {
	cases := []struct {
		name     string
		reagents map[string]float64
		capacity float64
		want     map[string]int64
	}{
		{"under capacity", map[string]float64{"A": 0.2226, "B": 0.3336}, 1, map[string]int64{"A": 223, "B": 334}},
		{"no capacity", map[string]float64{"A": 0.2226, "B": 0.3336, "C": 0.4438}, 0, map[string]int64{"A": 223, "B": 334, "C": 444}},
		{"rounded total at capacity", map[string]float64{"A": 0.4996, "B": 0.5004}, 1, map[string]int64{"A": 500, "B": 500}},
		{"reagent given back to nothing", map[string]float64{"A": 0.0006, "B": 0.3337, "C": 0.6657}, 1, map[string]int64{"B": 334, "C": 666}},
		{"drops non-positive", map[string]float64{"A": 0, "B": -1, "C": 2}, 0, map[string]int64{"C": 2000}},
	}
	for _, tc := range cases {
		got := fitMilli(tc.reagents, tc.capacity)
		if len(got) != len(tc.want) {
			t.Fatalf("%s: got %v want %v", tc.name, got, tc.want)
		}
		for r, m := range tc.want {
			if got[r] != m {
				t.Fatalf("%s: got %v want %v", tc.name, got, tc.want)
			}
		}
	}
}
