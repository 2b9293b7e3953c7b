package rebuild

import (
	"errors"
	"fmt"
	"sort"

	"shipyard.ai/internal/persistence/shipdoc"
	"shipyard.ai/internal/ship/components"
	"shipyard.ai/internal/sim/live"
)

func (e *Engine) restoreComponents(id live.EntityID, rec *shipdoc.EntityRecord, rep *Report) {
	for _, c := range rec.Components {
		if err := e.restoreComponent(id, c); err != nil {
			rep.ComponentFailures++
			rep.warnf("entity %s (%s): component %q: %v", rec.EntityID, rec.Prototype, c.Type, err)
		}
	}
}

func (e *Engine) restoreComponent(id live.EntityID, c shipdoc.ComponentRecord) error {
	k, err := components.Parse(c.Type)
	if err != nil {
		return err
	}
	strategy := components.StrategyOf(k)
	if strategy == components.Skip {
		return nil
	}
	if !e.Graph.HasComponent(id, k) {
		if err := e.Graph.AddComponent(id, k); err != nil {
			return fmt.Errorf("add: %w", err)
		}
	}
	switch strategy {
	case components.Blob:
		return e.Graph.WriteBlob(id, k, c.Payload)
	case components.Structural:
		return e.restoreSolutions(id, c.Properties)
	}
	return nil
}

func (e *Engine) restoreSolutions(id live.EntityID, props map[string]any) error {
	sols, err := components.ParseSolutionProperties(props)
	if err != nil {
		return err
	}
	if err := e.Graph.ClearSolutions(id); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	var errs []error
	for _, name := range sortedKeys(sols) {
		s := sols[name]
		if err := e.Graph.EnsureSolution(id, name, s.MaxVolume, s.Temperature); err != nil {
			errs = append(errs, fmt.Errorf("solution %q: %w", name, err))
			continue
		}
		errs = append(errs, e.refill(id, name, s))
	}
	return errors.Join(errs...)
}

const volumeEpsilon = 1e-9

// refill adds every reagent of s. A quantity that would overflow the capacity is cut
// to the room left and reported; the remaining reagents are still added.
func (e *Engine) refill(id live.EntityID, name string, s components.SolutionState) error {
	var errs []error
	added := 0.0
	for _, r := range sortedKeys(s.Reagents) {
		q := s.Reagents[r]
		if q <= 0 {
			continue
		}
		if s.MaxVolume > 0 && added+q > s.MaxVolume+volumeEpsilon {
			room := s.MaxVolume - added
			errs = append(errs, fmt.Errorf("solution %q: reagent %q cut from %v to %v at capacity %v", name, r, q, room, s.MaxVolume))
			if room <= 0 {
				continue
			}
			q = room
		}
		if err := e.Graph.AddReagent(id, name, r, q); err != nil {
			errs = append(errs, fmt.Errorf("solution %q: %w", name, err))
			continue
		}
		added += q
	}
	return errors.Join(errs...)
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
