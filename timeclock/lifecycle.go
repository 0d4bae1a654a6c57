/*
lifecycle.go - The entry lifecycle controller

PURPOSE:
  Enforces the single-open-entry invariant and all timeline-editing
  operations. Every operation takes a resolved owner id, issues exactly
  one storage transaction, and either applies fully or rolls back fully.

OPERATIONS:
  Start        close any open entry at t, open a new one at t (atomic)
  ImportClosed insert a fully-closed historical entry
  Stop         close an open entry (repeated stops fail NotFound)
  Edit         presence-aware partial edit via EntryPatch
  ShiftStart   move start earlier, optionally dragging the previous
               entry's stop by the same amount
  EditLinked   set both bounds and cascade to adjacent entries so
               back-to-back timelines stay contiguous
  Delete       remove an entry, no cascade

CONCURRENCY:
  Different owners proceed fully in parallel; within one owner the
  store's transaction plus its open-entry uniqueness constraint is the
  serialization primitive. A transaction that loses the race gets a
  conflict; Start retries it at most MaxStartAttempts times before
  surfacing the error.

EVENTS:
  One event per committed mutation, published strictly after commit
  and never inside the transaction. Publishing is fire-and-forget.
*/
package timeclock

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// MaxStartAttempts bounds how often Start retries after losing the
// open-entry race to a concurrent transaction.
const MaxStartAttempts = 3

// Controller is the sole mutator of entry state.
type Controller struct {
	store    Store
	notifier Notifier
	now      Clock
}

// NewController wires the controller to its ledger and notifier.
// A nil notifier discards events.
func NewController(store Store, notifier Notifier) *Controller {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Controller{store: store, notifier: notifier, now: time.Now}
}

// WithClock replaces the time source. Intended for tests.
func (c *Controller) WithClock(clock Clock) *Controller {
	c.now = clock
	return c
}

func (c *Controller) timeOrNow(at *time.Time) time.Time {
	if at != nil {
		return at.UTC()
	}
	return c.now().UTC()
}

// =============================================================================
// START - Atomic close-then-open
// =============================================================================

// Start opens a new entry for the owner at `at` (default now). If an
// open entry exists it is closed at the same instant within the same
// transaction, so the committed state never holds zero or two open
// entries for the owner.
func (c *Controller) Start(ctx context.Context, ownerID, projectID int64, at *time.Time) (EntryDetail, error) {
	startAt := c.timeOrNow(at)

	var (
		created EntryDetail
		err     error
	)
	for attempt := 1; attempt <= MaxStartAttempts; attempt++ {
		created, err = c.startOnce(ctx, ownerID, projectID, startAt)
		if err == nil {
			c.notifier.Publish(ownerID, EventEntryStarted, created.View())
			return created, nil
		}
		if !IsConflict(err) {
			return EntryDetail{}, err
		}
		// Lost the open-entry race: the next attempt will observe and
		// close the winner's entry.
	}
	return EntryDetail{}, err
}

func (c *Controller) startOnce(ctx context.Context, ownerID, projectID int64, startAt time.Time) (EntryDetail, error) {
	var created EntryDetail
	err := c.store.WithTx(ctx, func(tx Tx) error {
		project, err := tx.GetProject(ctx, ownerID, projectID)
		if err != nil {
			return err
		}
		if project == nil {
			return &NotFoundError{Kind: "project", ID: projectID}
		}

		open, err := tx.GetOpenEntry(ctx, ownerID)
		if err != nil {
			return err
		}
		if open != nil {
			if !startAt.After(open.Start) {
				return &ValidationError{Field: "start", Reason: "must be after the running entry's start"}
			}
			closed := *open
			closed.Stop = &startAt
			if err := tx.UpdateEntry(ctx, closed); err != nil {
				return err
			}
		}

		entry := Entry{OwnerID: ownerID, ProjectID: projectID, Start: startAt}
		id, err := tx.InsertEntry(ctx, entry)
		if err != nil {
			return err
		}
		entry.ID = id
		created = EntryDetail{Entry: entry, ProjectName: project.Name}
		return nil
	})
	return created, err
}

// =============================================================================
// IMPORT - Direct historical insertion
// =============================================================================

// ImportClosed inserts a fully-closed entry, bypassing the open-entry
// logic. An existing open entry is left untouched.
func (c *Controller) ImportClosed(ctx context.Context, ownerID, projectID int64, start, stop time.Time) (EntryDetail, error) {
	start, stop = start.UTC(), stop.UTC()
	if !start.Before(stop) {
		return EntryDetail{}, &ValidationError{Field: "stop", Reason: "must be after start"}
	}

	var created EntryDetail
	err := c.store.WithTx(ctx, func(tx Tx) error {
		project, err := tx.GetProject(ctx, ownerID, projectID)
		if err != nil {
			return err
		}
		if project == nil {
			return &NotFoundError{Kind: "project", ID: projectID}
		}

		entry := Entry{OwnerID: ownerID, ProjectID: projectID, Start: start, Stop: &stop}
		id, err := tx.InsertEntry(ctx, entry)
		if err != nil {
			return err
		}
		entry.ID = id
		created = EntryDetail{Entry: entry, ProjectName: project.Name}
		return nil
	})
	if err != nil {
		return EntryDetail{}, err
	}
	c.notifier.Publish(ownerID, EventEntryUpdated, created.View())
	return created, nil
}

// =============================================================================
// STOP
// =============================================================================

// Stop closes the entry at `at` (default now). An entry that does not
// exist, is not owned, or is already closed fails NotFound: repeating
// a stop is an idempotent failure, not an idempotent success.
func (c *Controller) Stop(ctx context.Context, ownerID, entryID int64, at *time.Time) (EntryDetail, error) {
	stopAt := c.timeOrNow(at)

	var detail EntryDetail
	err := c.store.WithTx(ctx, func(tx Tx) error {
		entry, err := tx.GetEntry(ctx, ownerID, entryID)
		if err != nil {
			return err
		}
		if entry == nil || !entry.Open() {
			return &NotFoundError{Kind: "entry", ID: entryID}
		}
		if !stopAt.After(entry.Start) {
			return &ValidationError{Field: "stop", Reason: "must be after start"}
		}
		entry.Stop = &stopAt
		if err := tx.UpdateEntry(ctx, *entry); err != nil {
			return err
		}
		detail, err = c.detail(ctx, tx, *entry)
		return err
	})
	if err != nil {
		return EntryDetail{}, err
	}
	c.notifier.Publish(ownerID, EventEntryStopped, detail.View())
	return detail, nil
}

// =============================================================================
// EDIT - Presence-aware partial update
// =============================================================================

// Edit recomputes the entry from the patch: unset fields keep their
// current values and a set-to-null stop reopens the entry, which
// conflicts when another entry is already open for the owner.
func (c *Controller) Edit(ctx context.Context, ownerID, entryID int64, patch EntryPatch) (EntryDetail, error) {
	if patch.IsZero() {
		return EntryDetail{}, &ValidationError{Field: "patch", Reason: "no fields to update"}
	}

	var detail EntryDetail
	err := c.store.WithTx(ctx, func(tx Tx) error {
		entry, err := tx.GetEntry(ctx, ownerID, entryID)
		if err != nil {
			return err
		}
		if entry == nil {
			return &NotFoundError{Kind: "entry", ID: entryID}
		}

		if patch.ProjectID != nil {
			project, err := tx.GetProject(ctx, ownerID, *patch.ProjectID)
			if err != nil {
				return err
			}
			if project == nil {
				return &NotFoundError{Kind: "project", ID: *patch.ProjectID}
			}
		}

		next := patch.Apply(*entry)
		if next.Stop != nil && !next.Start.Before(*next.Stop) {
			return &ValidationError{Field: "stop", Reason: "must be after start"}
		}
		if next.Open() && !entry.Open() {
			open, err := tx.GetOpenEntry(ctx, ownerID)
			if err != nil {
				return err
			}
			if open != nil && open.ID != entry.ID {
				return NewOpenEntryConflict(ownerID)
			}
		}

		if err := tx.UpdateEntry(ctx, next); err != nil {
			return err
		}
		detail, err = c.detail(ctx, tx, next)
		return err
	})
	if err != nil {
		return EntryDetail{}, err
	}
	c.notifier.Publish(ownerID, EventEntryUpdated, detail.View())
	return detail, nil
}

// =============================================================================
// SHIFT START - "It actually started earlier"
// =============================================================================

// ShiftStart moves the entry's start earlier by deltaMinutes. With a
// linked previous entry, its stop is moved earlier by the same amount
// in the same transaction, keeping the boundary shared. Nothing is
// written when either resulting interval would invert.
func (c *Controller) ShiftStart(ctx context.Context, ownerID, entryID int64, deltaMinutes int, previousID *int64) (EntryDetail, error) {
	if deltaMinutes <= 0 {
		return EntryDetail{}, &ValidationError{Field: "delta_minutes", Reason: "must be positive"}
	}
	if previousID != nil && *previousID == entryID {
		return EntryDetail{}, &ValidationError{Field: "previous_entry_id", Reason: "must differ from the entry"}
	}
	delta := time.Duration(deltaMinutes) * time.Minute

	var detail EntryDetail
	err := c.store.WithTx(ctx, func(tx Tx) error {
		entry, err := tx.GetEntry(ctx, ownerID, entryID)
		if err != nil {
			return err
		}
		if entry == nil {
			return &NotFoundError{Kind: "entry", ID: entryID}
		}

		if previousID != nil {
			prev, err := tx.GetEntry(ctx, ownerID, *previousID)
			if err != nil {
				return err
			}
			if prev == nil {
				return &NotFoundError{Kind: "entry", ID: *previousID}
			}
			if prev.Open() {
				return &ValidationError{Field: "previous_entry_id", Reason: "previous entry must be closed"}
			}
			newStop := prev.Stop.Add(-delta)
			if !prev.Start.Before(newStop) {
				return &ValidationError{Field: "delta_minutes", Reason: "shift would invert the previous entry"}
			}
			prev.Stop = &newStop
			if err := tx.UpdateEntry(ctx, *prev); err != nil {
				return err
			}
		}

		entry.Start = entry.Start.Add(-delta)
		if err := tx.UpdateEntry(ctx, *entry); err != nil {
			return err
		}
		detail, err = c.detail(ctx, tx, *entry)
		return err
	})
	if err != nil {
		return EntryDetail{}, err
	}
	c.notifier.Publish(ownerID, EventEntryUpdated, detail.View())
	return detail, nil
}

// =============================================================================
// EDIT LINKED - Drag one boundary, keep the timeline contiguous
// =============================================================================

// EditLinked sets the entry's bounds and cascades boundary changes to
// the supplied neighbors within the same transaction. Neighbor naming
// follows a newest-first timeline list: nextID is the chronologically
// earlier entry sharing the boundary at this entry's start, previousID
// the chronologically later one sharing the boundary at its stop.
//
// The cascade is deliberately asymmetric: a start change drags the
// next neighbor's stop, an end change drags the previous neighbor's
// start, and there is no next-on-end-change case.
func (c *Controller) EditLinked(ctx context.Context, ownerID, entryID int64, newStart time.Time, newStop *time.Time, nextID, previousID *int64) (EntryDetail, error) {
	newStart = newStart.UTC()
	if newStop != nil {
		s := newStop.UTC()
		newStop = &s
		if !newStart.Before(*newStop) {
			return EntryDetail{}, &ValidationError{Field: "stop", Reason: "must be after start"}
		}
	}
	if nextID != nil && *nextID == entryID {
		return EntryDetail{}, &ValidationError{Field: "next_entry_id", Reason: "must differ from the entry"}
	}
	if previousID != nil && *previousID == entryID {
		return EntryDetail{}, &ValidationError{Field: "previous_entry_id", Reason: "must differ from the entry"}
	}

	var detail EntryDetail
	err := c.store.WithTx(ctx, func(tx Tx) error {
		entry, err := tx.GetEntry(ctx, ownerID, entryID)
		if err != nil {
			return err
		}
		if entry == nil {
			return &NotFoundError{Kind: "entry", ID: entryID}
		}

		startChanged := !newStart.Equal(entry.Start)
		endChanged := !stopEqual(entry.Stop, newStop)

		if newStop == nil && entry.Stop != nil {
			// Reopening: the owner may not end up with two open entries.
			open, err := tx.GetOpenEntry(ctx, ownerID)
			if err != nil {
				return err
			}
			if open != nil && open.ID != entry.ID {
				return NewOpenEntryConflict(ownerID)
			}
		}

		if startChanged && nextID != nil {
			next, err := tx.GetEntry(ctx, ownerID, *nextID)
			if err != nil {
				return err
			}
			if next == nil {
				return &NotFoundError{Kind: "entry", ID: *nextID}
			}
			if !next.Start.Before(newStart) {
				return &ConflictError{Reason: "linked entry would become empty or inverted"}
			}
			boundary := newStart
			next.Stop = &boundary
			if err := tx.UpdateEntry(ctx, *next); err != nil {
				return err
			}
		}

		if endChanged && newStop != nil && previousID != nil {
			prev, err := tx.GetEntry(ctx, ownerID, *previousID)
			if err != nil {
				return err
			}
			if prev == nil {
				return &NotFoundError{Kind: "entry", ID: *previousID}
			}
			if prev.Stop != nil && !newStop.Before(*prev.Stop) {
				return &ConflictError{Reason: "linked entry would become empty or inverted"}
			}
			prev.Start = *newStop
			if err := tx.UpdateEntry(ctx, *prev); err != nil {
				return err
			}
		}

		entry.Start = newStart
		entry.Stop = newStop
		if err := tx.UpdateEntry(ctx, *entry); err != nil {
			return err
		}
		detail, err = c.detail(ctx, tx, *entry)
		return err
	})
	if err != nil {
		return EntryDetail{}, err
	}
	c.notifier.Publish(ownerID, EventEntryUpdated, detail.View())
	return detail, nil
}

// =============================================================================
// DELETE
// =============================================================================

// Delete removes the entry if owned. Deletion never cascades.
func (c *Controller) Delete(ctx context.Context, ownerID, entryID int64) error {
	err := c.store.WithTx(ctx, func(tx Tx) error {
		deleted, err := tx.DeleteEntry(ctx, ownerID, entryID)
		if err != nil {
			return err
		}
		if !deleted {
			return &NotFoundError{Kind: "entry", ID: entryID}
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.notifier.Publish(ownerID, EventEntryDeleted, deletedPayload{ID: entryID})
	return nil
}

// =============================================================================
// READS
// =============================================================================

// List returns the owner's entries in the window, newest first.
func (c *Controller) List(ctx context.Context, ownerID int64, w Window) ([]EntryDetail, error) {
	return c.store.ListEntries(ctx, ownerID, w)
}

// Current returns the owner's open entry, or nil when nothing runs.
func (c *Controller) Current(ctx context.Context, ownerID int64) (*EntryDetail, error) {
	return c.store.OpenEntry(ctx, ownerID)
}

// ProjectSummary aggregates tracked time per project.
type ProjectSummary struct {
	ProjectID    int64           `json:"project_id"`
	Name         string          `json:"name"`
	TotalSeconds int64           `json:"total_seconds"`
	Hours        decimal.Decimal `json:"hours"`
}

// Summary totals the owner's entries per project within the window.
// Open entries are counted up to now.
func (c *Controller) Summary(ctx context.Context, ownerID int64, w Window) ([]ProjectSummary, error) {
	entries, err := c.store.ListEntries(ctx, ownerID, w)
	if err != nil {
		return nil, err
	}

	now := c.now().UTC()
	totals := make(map[int64]*ProjectSummary)
	for _, e := range entries {
		stop := now
		if e.Stop != nil {
			stop = *e.Stop
		}
		seconds := int64(stop.Sub(e.Start) / time.Second)

		s, ok := totals[e.ProjectID]
		if !ok {
			s = &ProjectSummary{ProjectID: e.ProjectID, Name: e.ProjectName}
			totals[e.ProjectID] = s
		}
		s.TotalSeconds += seconds
	}

	summaries := make([]ProjectSummary, 0, len(totals))
	for _, s := range totals {
		s.Hours = decimal.NewFromInt(s.TotalSeconds).
			Div(decimal.NewFromInt(3600)).
			Round(2)
		summaries = append(summaries, *s)
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Name < summaries[j].Name })
	return summaries, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (c *Controller) detail(ctx context.Context, tx Tx, e Entry) (EntryDetail, error) {
	project, err := tx.GetProject(ctx, e.OwnerID, e.ProjectID)
	if err != nil {
		return EntryDetail{}, err
	}
	d := EntryDetail{Entry: e}
	if project != nil {
		d.ProjectName = project.Name
	}
	return d, nil
}

func stopEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
