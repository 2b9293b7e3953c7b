package components

import (
	"fmt"
	"math"
	"sort"
)

// Property keys of the structural solution record.
const (
	propSolutions   = "solutions"
	propVolume      = "volume"
	propMaxVolume   = "max_volume"
	propTemperature = "temperature"
	propReagents    = "reagents"
)

// SolutionProperties flattens solution state into the structural record form. Values are
// rounded to 3 decimals.
func SolutionProperties(sols map[string]SolutionState) (map[string]any, error) {
	names := make([]string, 0, len(sols))
	for n := range sols {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make(map[string]any, len(sols))
	for _, n := range names {
		s := sols[n]
		for _, v := range []float64{s.Volume, s.MaxVolume, s.Temperature} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("solution %q: non-finite value", n)
			}
		}
		for r, q := range s.Reagents {
			if math.IsNaN(q) || math.IsInf(q, 0) {
				return nil, fmt.Errorf("solution %q reagent %q: non-finite quantity", n, r)
			}
		}
		milli := fitMilli(s.Reagents, s.MaxVolume)
		reagents := make(map[string]any, len(milli))
		var total int64
		for r, m := range milli {
			reagents[r] = float64(m) / 1000
			total += m
		}
		volume := Round3(s.Volume)
		if s.MaxVolume > 0 && volume > s.MaxVolume {
			volume = float64(total) / 1000
		}
		out[n] = map[string]any{
			propVolume:      volume,
			propMaxVolume:   Round3(s.MaxVolume),
			propTemperature: Round3(s.Temperature),
			propReagents:    reagents,
		}
	}
	return map[string]any{propSolutions: out}, nil
}

// ParseSolutionProperties is the inverse of SolutionProperties.
func ParseSolutionProperties(props map[string]any) (map[string]SolutionState, error) {
	rawSols, ok := props[propSolutions]
	if !ok {
		return nil, fmt.Errorf("solution record without %q", propSolutions)
	}
	sols, ok := rawSols.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%q is %T, want mapping", propSolutions, rawSols)
	}
	out := make(map[string]SolutionState, len(sols))
	for name, raw := range sols {
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("solution %q is %T, want mapping", name, raw)
		}
		var st SolutionState
		var err error
		if st.Volume, err = number(m, propVolume); err != nil {
			return nil, fmt.Errorf("solution %q: %w", name, err)
		}
		if st.MaxVolume, err = number(m, propMaxVolume); err != nil {
			return nil, fmt.Errorf("solution %q: %w", name, err)
		}
		if st.Temperature, err = number(m, propTemperature); err != nil {
			return nil, fmt.Errorf("solution %q: %w", name, err)
		}
		st.Reagents = map[string]float64{}
		if rr, ok := m[propReagents]; ok && rr != nil {
			rm, ok := rr.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("solution %q: reagents is %T, want mapping", name, rr)
			}
			for r, q := range rm {
				f, ok := toFloat(q)
				if !ok {
					return nil, fmt.Errorf("solution %q: reagent %q quantity is %T", name, r, q)
				}
				st.Reagents[r] = f
			}
		}
		out[name] = st
	}
	return out, nil
}

func number(m map[string]any, key string) (float64, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, nil
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, fmt.Errorf("%s is %T, want number", key, v)
	}
	return f, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}

// fitMilli rounds positive quantities to thousandths. When the rounded total exceeds a
// positive capacity, the reagents that rounded up the most give back one thousandth each
// until it fits. Reagents rounded to nothing are left out.
func fitMilli(reagents map[string]float64, capacity float64) map[string]int64 {
	type share struct {
		name string
		up   float64
	}
	out := make(map[string]int64, len(reagents))
	var total int64
	var shares []share
	for r, q := range reagents {
		if q <= 0 {
			continue
		}
		m := int64(math.Round(q * 1000))
		out[r] = m
		total += m
		shares = append(shares, share{name: r, up: float64(m) - q*1000})
	}
	if capacity > 0 {
		limit := int64(math.Floor(capacity*1000 + 1e-6))
		sort.Slice(shares, func(i, j int) bool {
			if shares[i].up != shares[j].up {
				return shares[i].up > shares[j].up
			}
			return shares[i].name < shares[j].name
		})
		for i := 0; total > limit && len(shares) > 0; i = (i + 1) % len(shares) {
			if out[shares[i].name] > 0 {
				out[shares[i].name]--
				total--
			}
		}
	}
	for r, m := range out {
		if m <= 0 {
			delete(out, r)
		}
	}
	return out
}

// Round3 rounds to 3 decimal places.
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
