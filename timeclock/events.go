/*
events.go - Domain events emitted after committed mutations

PURPOSE:
  After each successful commit the controller produces exactly one
  event keyed by owner. Delivery is fire-and-forget: no ack, no retry,
  no persistence. A failing or absent notifier never blocks or fails
  a mutation.

SEE ALSO:
  - notify/hub.go: the in-process subscriber registry
  - lifecycle.go:  where events are published (strictly post-commit)
*/
package timeclock

// EventType classifies what happened to an entry.
type EventType string

const (
	EventEntryStarted EventType = "entry_started"
	EventEntryStopped EventType = "entry_stopped"
	EventEntryUpdated EventType = "entry_updated"
	EventEntryDeleted EventType = "entry_deleted"
)

// Event is the post-commit notification handed to the Notifier.
type Event struct {
	OwnerID int64     `json:"owner_id"`
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// Notifier fans events out to whoever is listening under the owner.
// Implementations must not block the caller.
type Notifier interface {
	Publish(ownerID int64, typ EventType, payload any)
}

// NopNotifier discards all events.
type NopNotifier struct{}

func (NopNotifier) Publish(int64, EventType, any) {}

// =============================================================================
// EVENT SHAPING - The stable boundary representation of an entry
// =============================================================================

// EntryView is the external representation of an entry: fixed field
// names, RFC3339 instants, duration in seconds (-1 while running).
// It doubles as API response body and event payload.
type EntryView struct {
	ID        int64   `json:"id"`
	ProjectID int64   `json:"project_id"`
	Name      string  `json:"name"`
	Start     string  `json:"start"`
	Stop      *string `json:"stop"`
	Duration  int64   `json:"duration"`
}

// NewEntryView shapes an entry plus its denormalized project name
// into the boundary representation.
func NewEntryView(e Entry, projectName string) EntryView {
	v := EntryView{
		ID:        e.ID,
		ProjectID: e.ProjectID,
		Name:      projectName,
		Start:     e.Start.UTC().Format(timeLayout),
		Duration:  e.DurationSeconds(),
	}
	if e.Stop != nil {
		s := e.Stop.UTC().Format(timeLayout)
		v.Stop = &s
	}
	return v
}

// View shapes the detail into the boundary representation.
func (d EntryDetail) View() EntryView { return NewEntryView(d.Entry, d.ProjectName) }

// deletedPayload is the payload of entry_deleted events.
type deletedPayload struct {
	ID int64 `json:"id"`
}
