/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for API communication, decoupling the domain model
  from the external contract. Entry responses reuse the stable
  timeclock.EntryView shape (also the event payload).

NAMING CONVENTION:
  - *Request: request body types from clients
  - *DTO:     response types returned to clients

PRESENCE-AWARE FIELDS:
  PatchTime distinguishes "field absent" (leave alone), "null"
  (clear/reopen), and "value" (set) for partial entry edits.

SEE ALSO:
  - handlers.go:          uses these types
  - timeclock/events.go:  EntryView
*/
package api

import (
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CreateOwnerRequest provisions an identity. The returned token is the
// opaque credential later resolved back to the owner.
type CreateOwnerRequest struct {
	Name string `json:"name"`
}

// CreateProjectRequest creates a project for the calling owner.
type CreateProjectRequest struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// StartEntryRequest starts tracking against a project, optionally at
// an explicit instant instead of now.
type StartEntryRequest struct {
	ProjectID int64   `json:"project_id"`
	Start     *string `json:"start"`
}

// StopEntryRequest closes an entry, optionally at an explicit instant.
type StopEntryRequest struct {
	Stop *string `json:"stop"`
}

// ImportEntryRequest inserts a fully-closed historical entry.
type ImportEntryRequest struct {
	ProjectID int64  `json:"project_id"`
	Start     string `json:"start"`
	Stop      string `json:"stop"`
}

// EditEntryRequest is a partial edit; absent fields keep the entry's
// current values and "stop": null reopens the entry.
type EditEntryRequest struct {
	Start     *string   `json:"start"`
	Stop      PatchTime `json:"stop"`
	ProjectID *int64    `json:"project_id"`
}

// ShiftStartRequest moves the entry's start earlier by whole minutes,
// optionally dragging the linked previous entry's stop along.
type ShiftStartRequest struct {
	Minutes         int    `json:"minutes"`
	PreviousEntryID *int64 `json:"previous_entry_id"`
}

// EditLinkedRequest sets both bounds and cascades to the supplied
// neighbors so adjacent entries stay contiguous.
type EditLinkedRequest struct {
	Start           string  `json:"start"`
	Stop            *string `json:"stop"`
	NextEntryID     *int64  `json:"next_entry_id"`
	PreviousEntryID *int64  `json:"previous_entry_id"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// OwnerDTO is returned once on provisioning; the token is not
// retrievable afterwards.
type OwnerDTO struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Token string `json:"token"`
}

// ProjectDTO represents a project in API responses.
type ProjectDTO struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Color     string `json:"color"`
	Visible   bool   `json:"visible"`
	CreatedAt string `json:"created_at,omitempty"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// PATCH TIME - Three-state optional timestamp
// =============================================================================

// PatchTime records whether the field appeared in the request body at
// all, and if so whether it was null or a concrete RFC3339 instant.
type PatchTime struct {
	Set  bool
	Null bool
	Time time.Time
}

// UnmarshalJSON is invoked only when the field is present, including
// for an explicit null.
func (p *PatchTime) UnmarshalJSON(b []byte) error {
	p.Set = true
	if string(b) == "null" {
		p.Null = true
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	p.Time = t
	return nil
}
