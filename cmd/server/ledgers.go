package main

import (
	"context"
	"errors"

	"shipyard.ai/internal/persistence/ledger"
	"shipyard.ai/internal/ship"
)

// multiLedger records into every backend and reports the highest prior-load count
// any of them knows about.
type multiLedger struct {
	backends []ship.Ledger
}

func (m multiLedger) RecordSave(ctx context.Context, r ledger.SaveRecord) error {
	var errs []error
	for _, b := range m.backends {
		errs = append(errs, b.RecordSave(ctx, r))
	}
	return errors.Join(errs...)
}

func (m multiLedger) RecordLoad(ctx context.Context, r ledger.LoadRecord) error {
	var errs []error
	for _, b := range m.backends {
		errs = append(errs, b.RecordLoad(ctx, r))
	}
	return errors.Join(errs...)
}

// PriorLoads fails only when no backend answered.
func (m multiLedger) PriorLoads(ctx context.Context, originGridID, checksum string) (int, error) {
	best, answered := 0, false
	var errs []error
	for _, b := range m.backends {
		n, err := b.PriorLoads(ctx, originGridID, checksum)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		answered = true
		best = max(best, n)
	}
	if !answered && len(errs) > 0 {
		return 0, errors.Join(errs...)
	}
	return best, nil
}
