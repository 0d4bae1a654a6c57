/*
reconcile.go - One-shot startup repair of the single-open-entry invariant

PURPOSE:
  Historical data written before the open-entry uniqueness constraint
  existed can hold several open entries per owner. Reconcile repairs
  that deterministically before the constraint is activated: for each
  offending owner the entry with the latest start is kept open and all
  others are closed at the kept entry's start ("most recent start
  wins"). A duplicate whose start exactly ties the kept entry's is
  removed instead, since closing it there would store an empty
  interval. Running it again with no duplicates is a no-op.
*/
package timeclock

import (
	"context"
	"log"
)

// Reconcile repairs surplus open entries in one transaction, logs how
// many it touched, and activates the store's open-entry constraint
// when the store supports explicit activation. It must run before the
// controller starts serving.
func Reconcile(ctx context.Context, store Store, logger *log.Logger) (int, error) {
	repaired := 0
	err := store.WithTx(ctx, func(tx Tx) error {
		open, err := tx.ListOpenEntries(ctx)
		if err != nil {
			return err
		}

		byOwner := make(map[int64][]Entry)
		for _, e := range open {
			byOwner[e.OwnerID] = append(byOwner[e.OwnerID], e)
		}

		for _, entries := range byOwner {
			if len(entries) < 2 {
				continue
			}
			keep := entries[0]
			for _, e := range entries[1:] {
				if e.Start.After(keep.Start) || (e.Start.Equal(keep.Start) && e.ID > keep.ID) {
					keep = e
				}
			}
			for _, e := range entries {
				if e.ID == keep.ID {
					continue
				}
				if e.Start.Equal(keep.Start) {
					// Closing an exact tie at the kept start would
					// commit an empty interval; the duplicate carries
					// no trackable time, so it is removed instead.
					if _, err := tx.DeleteEntry(ctx, e.OwnerID, e.ID); err != nil {
						return err
					}
					repaired++
					continue
				}
				stop := keep.Start
				e.Stop = &stop
				if err := tx.UpdateEntry(ctx, e); err != nil {
					return err
				}
				repaired++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if logger != nil {
		logger.Printf("reconcile: repaired %d surplus open entries", repaired)
	}

	if activator, ok := store.(ConstraintActivator); ok {
		if err := activator.ActivateOpenEntryConstraint(ctx); err != nil {
			return repaired, err
		}
	}
	return repaired, nil
}
