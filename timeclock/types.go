/*
Package timeclock provides the core time-entry tracking engine.

PURPOSE:
  Tracks elapsed work intervals ("entries") per owner against named
  projects. The hard invariant: each owner has AT MOST ONE open entry
  at any instant, and closed entries always satisfy start < stop.

KEY CONCEPTS IN THIS FILE (types.go):
  - Entry: one interval of tracked work, open (no stop) or closed
  - Project: a named bucket entries are booked against
  - Owner: the identity entries and projects are scoped under
  - EntryPatch: presence-aware patch value for partial edits
  - Window: optional [from, to] bounds for listing queries

DESIGN PRINCIPLES:
  1. The Controller (lifecycle.go) is the only writer to entry state
  2. Every mutation is one storage transaction: all-or-nothing
  3. The single-open-entry invariant is enforced by the store itself
     (unique constraint), never by check-then-act alone

SEE ALSO:
  - lifecycle.go: the entry lifecycle controller
  - store.go:     persistence interfaces
  - errors.go:    error taxonomy
*/
package timeclock

import "time"

// timeLayout is the wire format for instants. Nano keeps sub-second
// bounds intact on the way out; whole seconds render identically to
// plain RFC3339.
const timeLayout = time.RFC3339Nano

// =============================================================================
// ENTRY - One interval of tracked work
// =============================================================================

// Entry is a single tracked interval. Stop == nil means the entry is
// open (currently running). A closed entry always has Start < *Stop.
type Entry struct {
	ID        int64
	OwnerID   int64
	ProjectID int64
	Start     time.Time
	Stop      *time.Time
}

// Open reports whether the entry is currently running.
func (e Entry) Open() bool { return e.Stop == nil }

// DurationSeconds returns the elapsed seconds between Start and Stop,
// or RunningDuration while the entry is open.
func (e Entry) DurationSeconds() int64 {
	if e.Stop == nil {
		return RunningDuration
	}
	return int64(e.Stop.Sub(e.Start) / time.Second)
}

// RunningDuration is the duration sentinel reported for open entries.
const RunningDuration int64 = -1

// EntryDetail is an Entry joined with the denormalized project name,
// as read queries return it for display.
type EntryDetail struct {
	Entry
	ProjectName string
}

// =============================================================================
// PROJECT / OWNER
// =============================================================================

// Project is a named bucket entries are booked against. Names are
// unique per owner; entries may only reference projects of their
// own owner.
type Project struct {
	ID        int64
	OwnerID   int64
	Name      string
	Color     string
	Visible   bool
	CreatedAt time.Time
}

// Owner is the identity entries and projects are scoped under. Token
// is the opaque credential the identity resolver maps back to the ID;
// the engine never inspects its structure.
type Owner struct {
	ID        int64
	Name      string
	Token     string
	CreatedAt time.Time
}

// =============================================================================
// PATCH - Presence-aware partial update value
// =============================================================================

// TimeOption is a three-state optional timestamp: not set, set to
// null (clear), or set to a value. It replaces dynamically assembled
// update statements with a typed value consumed by a fixed routine.
type TimeOption struct {
	Set   bool
	Value *time.Time // nil with Set=true means "clear"
}

// SetTime returns a TimeOption carrying a concrete timestamp.
func SetTime(t time.Time) TimeOption { return TimeOption{Set: true, Value: &t} }

// ClearTime returns a TimeOption that clears the field (sets null).
func ClearTime() TimeOption { return TimeOption{Set: true} }

// EntryPatch describes a partial edit. Unset fields keep the entry's
// current values. Stop distinguishes "leave alone" from "reopen"
// from "close at t".
type EntryPatch struct {
	Start     *time.Time
	Stop      TimeOption
	ProjectID *int64
}

// IsZero reports whether the patch changes nothing.
func (p EntryPatch) IsZero() bool {
	return p.Start == nil && !p.Stop.Set && p.ProjectID == nil
}

// Apply returns a copy of e with the patch folded in. Validation of
// the result is the caller's job.
func (p EntryPatch) Apply(e Entry) Entry {
	if p.Start != nil {
		e.Start = *p.Start
	}
	if p.Stop.Set {
		e.Stop = p.Stop.Value
	}
	if p.ProjectID != nil {
		e.ProjectID = *p.ProjectID
	}
	return e
}

// =============================================================================
// WINDOW - Optional listing bounds
// =============================================================================

// Window bounds a listing query by entry start time. A nil bound is
// unbounded on that side; the zero Window means "all".
type Window struct {
	From *time.Time
	To   *time.Time
}

// All is the unbounded window.
var All = Window{}
