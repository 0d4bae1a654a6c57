/*
store.go - Persistence interfaces for the entry ledger

PURPOSE:
  Defines the boundary between the lifecycle controller and the
  database. The ledger exclusively owns persisted entry state; the
  controller is its sole mutator and reaches it only through these
  interfaces.

TRANSACTION SCOPE:
  All mutation happens inside WithTx: fn receives a transactional
  handle, a nil return commits, an error return rolls everything
  back. No operation escapes the scope holding uncommitted writes.

CONSTRAINT CONTRACT:
  A Store MUST reject any insert or update that would leave a second
  open entry for one owner, returning an error for which IsConflict
  is true. The check must be the store's own atomicity primitive
  (unique partial index, or a compare-and-swap open-entry pointer),
  never an application-level check-then-act.

IMPLEMENTATIONS:
  - store/sqlite:        production SQLite (partial unique index)
  - timeclock/store:     in-memory (per-owner open-entry pointer)
*/
package timeclock

import (
	"context"
	"time"
)

// Store is the durable, queryable entry ledger.
type Store interface {
	// WithTx executes fn within one atomic transaction. A nil return
	// commits; any error rolls back in full.
	WithTx(ctx context.Context, fn func(Tx) error) error

	// ListEntries returns the owner's entries whose start falls in the
	// window (zero Window = all), newest start first, joined with the
	// project name. Reads run outside mutation transactions but never
	// observe half-committed writes.
	ListEntries(ctx context.Context, ownerID int64, w Window) ([]EntryDetail, error)

	// OpenEntry returns the owner's currently open entry, or nil.
	OpenEntry(ctx context.Context, ownerID int64) (*EntryDetail, error)

	// Owner / project plumbing.
	CreateOwner(ctx context.Context, name, token string) (Owner, error)
	OwnerByToken(ctx context.Context, token string) (*Owner, error)
	CreateProject(ctx context.Context, p Project) (Project, error)
	ListProjects(ctx context.Context, ownerID int64) ([]Project, error)
}

// Tx is the transactional handle passed to WithTx functions.
type Tx interface {
	// GetEntry returns the entry only if it exists and belongs to the
	// owner; nil otherwise.
	GetEntry(ctx context.Context, ownerID, entryID int64) (*Entry, error)

	// GetOpenEntry returns the owner's open entry, or nil.
	GetOpenEntry(ctx context.Context, ownerID int64) (*Entry, error)

	// InsertEntry persists a new entry and returns its ledger-assigned
	// identifier. Identifiers are never reused.
	InsertEntry(ctx context.Context, e Entry) (int64, error)

	// UpdateEntry rewrites the entry's start, stop, and project from e,
	// matched by e.ID and e.OwnerID. The statement is fixed; callers
	// compute the effective values via EntryPatch.Apply.
	UpdateEntry(ctx context.Context, e Entry) error

	// DeleteEntry removes the entry if owned; reports whether a row
	// was deleted.
	DeleteEntry(ctx context.Context, ownerID, entryID int64) (bool, error)

	// GetProject returns the project only if owned by ownerID.
	GetProject(ctx context.Context, ownerID, projectID int64) (*Project, error)

	// ListOpenEntries returns every open entry across all owners,
	// for reconciliation.
	ListOpenEntries(ctx context.Context) ([]Entry, error)
}

// ConstraintActivator is implemented by stores whose single-open-entry
// enforcement must be switched on explicitly, after reconciliation has
// repaired pre-existing violations.
type ConstraintActivator interface {
	ActivateOpenEntryConstraint(ctx context.Context) error
}

// Clock abstracts "now" so tests can pin it.
type Clock func() time.Time
