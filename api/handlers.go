/*
handlers.go - HTTP handlers for the time-entry service

PURPOSE:
  Exposes the entry lifecycle controller over REST. Handles HTTP
  request/response and JSON shaping; all entry mutation is delegated
  to the controller (the sole writer to the ledger).

ENDPOINTS:
  Owners (plumbing):
    POST   /api/owners                    provision identity + token

  Projects:
    GET    /api/projects                  list caller's projects
    POST   /api/projects                  create project

  Entries:
    GET    /api/entries?from=&to=         list (windowed or all)
    POST   /api/entries                   import a closed entry
    GET    /api/entries/current           currently running entry
    GET    /api/entries/summary?from=&to= per-project totals
    POST   /api/entries/start             start (closes any open entry)
    POST   /api/entries/{id}/stop         stop
    PUT    /api/entries/{id}              partial edit
    POST   /api/entries/{id}/shift-start  move start earlier
    POST   /api/entries/{id}/edit-linked  boundary edit with cascade
    DELETE /api/entries/{id}              delete

  Events:
    GET    /api/events                    SSE stream (stream.go)

ERROR HANDLING:
  Domain errors map to HTTP status by taxonomy:
  - 400: validation (malformed timestamp, inverted interval, ...)
  - 404: entry/project missing or not owned by the caller
  - 409: conflict (single-open-entry or linked-boundary violation)
  - 500: storage failures unrelated to business rules

SEE ALSO:
  - dto.go:     request/response data structures
  - server.go:  router setup and middleware
*/
package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/warp/track-engine/notify"
	"github.com/warp/track-engine/timeclock"
)

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Controller *timeclock.Controller
	Store      timeclock.Store
	Hub        *notify.Hub
}

// NewHandler creates a handler around the controller and its
// collaborators.
func NewHandler(controller *timeclock.Controller, store timeclock.Store, hub *notify.Hub) *Handler {
	return &Handler{Controller: controller, Store: store, Hub: hub}
}

// =============================================================================
// OWNER / PROJECT HANDLERS
// =============================================================================

// CreateOwner provisions an identity and mints its opaque api token.
func (h *Handler) CreateOwner(w http.ResponseWriter, r *http.Request) {
	var req CreateOwnerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Missing owner name", nil)
		return
	}

	owner, err := h.Store.CreateOwner(r.Context(), req.Name, uuid.NewString())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, OwnerDTO{ID: owner.ID, Name: owner.Name, Token: owner.Token})
}

// CreateProject creates a project for the caller.
func (h *Handler) CreateProject(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r.Context())

	var req CreateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Missing project name", nil)
		return
	}

	project, err := h.Store.CreateProject(r.Context(), timeclock.Project{
		OwnerID: owner.ID,
		Name:    req.Name,
		Color:   req.Color,
		Visible: true,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toProjectDTO(project))
}

// ListProjects returns the caller's projects.
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r.Context())

	projects, err := h.Store.ListProjects(r.Context(), owner.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list projects", err)
		return
	}

	dtos := make([]ProjectDTO, len(projects))
	for i, p := range projects {
		dtos[i] = toProjectDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func toProjectDTO(p timeclock.Project) ProjectDTO {
	return ProjectDTO{
		ID:        p.ID,
		Name:      p.Name,
		Color:     p.Color,
		Visible:   p.Visible,
		CreatedAt: p.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// =============================================================================
// ENTRY HANDLERS
// =============================================================================

// StartEntry opens a new entry, closing any running one at the same
// instant.
func (h *Handler) StartEntry(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r.Context())

	var req StartEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	at, err := parseOptionalTime(req.Start, "start")
	if err != nil {
		writeDomainError(w, err)
		return
	}

	detail, err := h.Controller.Start(r.Context(), owner.ID, req.ProjectID, at)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, detail.View())
}

// StopEntry closes a running entry.
func (h *Handler) StopEntry(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r.Context())
	entryID, err := entryIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid entry id", err)
		return
	}

	var req StopEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	at, err := parseOptionalTime(req.Stop, "stop")
	if err != nil {
		writeDomainError(w, err)
		return
	}

	detail, err := h.Controller.Stop(r.Context(), owner.ID, entryID, at)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail.View())
}

// ImportEntry inserts a fully-closed historical entry.
func (h *Handler) ImportEntry(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r.Context())

	var req ImportEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	start, err := parseRequiredTime(req.Start, "start")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	stop, err := parseRequiredTime(req.Stop, "stop")
	if err != nil {
		writeDomainError(w, err)
		return
	}

	detail, err := h.Controller.ImportClosed(r.Context(), owner.ID, req.ProjectID, start, stop)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, detail.View())
}

// EditEntry applies a presence-aware partial edit.
func (h *Handler) EditEntry(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r.Context())
	entryID, err := entryIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid entry id", err)
		return
	}

	var req EditEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var patch timeclock.EntryPatch
	if req.Start != nil {
		start, err := parseRequiredTime(*req.Start, "start")
		if err != nil {
			writeDomainError(w, err)
			return
		}
		patch.Start = &start
	}
	if req.Stop.Set {
		if req.Stop.Null {
			patch.Stop = timeclock.ClearTime()
		} else {
			patch.Stop = timeclock.SetTime(req.Stop.Time.UTC())
		}
	}
	patch.ProjectID = req.ProjectID

	detail, err := h.Controller.Edit(r.Context(), owner.ID, entryID, patch)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail.View())
}

// ShiftStart moves the entry's start earlier, optionally dragging the
// linked previous entry's stop by the same amount.
func (h *Handler) ShiftStart(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r.Context())
	entryID, err := entryIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid entry id", err)
		return
	}

	var req ShiftStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	detail, err := h.Controller.ShiftStart(r.Context(), owner.ID, entryID, req.Minutes, req.PreviousEntryID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail.View())
}

// EditLinked sets the entry's bounds and cascades to its neighbors.
func (h *Handler) EditLinked(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r.Context())
	entryID, err := entryIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid entry id", err)
		return
	}

	var req EditLinkedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	start, err := parseRequiredTime(req.Start, "start")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	stop, err := parseOptionalTime(req.Stop, "stop")
	if err != nil {
		writeDomainError(w, err)
		return
	}

	detail, err := h.Controller.EditLinked(r.Context(), owner.ID, entryID, start, stop, req.NextEntryID, req.PreviousEntryID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail.View())
}

// DeleteEntry removes an entry; deletion never cascades.
func (h *Handler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r.Context())
	entryID, err := entryIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid entry id", err)
		return
	}

	if err := h.Controller.Delete(r.Context(), owner.ID, entryID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListEntries returns the caller's entries, optionally windowed by
// ?from= and ?to= (RFC3339).
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r.Context())

	window, err := windowFromQuery(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	details, err := h.Controller.List(r.Context(), owner.ID, window)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list entries", err)
		return
	}

	views := make([]timeclock.EntryView, len(details))
	for i, d := range details {
		views[i] = d.View()
	}
	writeJSON(w, http.StatusOK, views)
}

// CurrentEntry returns the running entry, or 204 when nothing runs.
func (h *Handler) CurrentEntry(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r.Context())

	detail, err := h.Controller.Current(r.Context(), owner.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get current entry", err)
		return
	}
	if detail == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, detail.View())
}

// Summary totals tracked time per project within the window.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r.Context())

	window, err := windowFromQuery(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	summaries, err := h.Controller.Summary(r.Context(), owner.ID, window)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to summarize entries", err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

// =============================================================================
// HELPERS
// =============================================================================

func entryIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func parseRequiredTime(s, field string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, &timeclock.ValidationError{Field: field, Reason: "must be an RFC3339 instant"}
	}
	return t.UTC(), nil
}

func parseOptionalTime(s *string, field string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	t, err := parseRequiredTime(*s, field)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func windowFromQuery(r *http.Request) (timeclock.Window, error) {
	var w timeclock.Window
	if from := r.URL.Query().Get("from"); from != "" {
		t, err := parseRequiredTime(from, "from")
		if err != nil {
			return w, err
		}
		w.From = &t
	}
	if to := r.URL.Query().Get("to"); to != "" {
		t, err := parseRequiredTime(to, "to")
		if err != nil {
			return w, err
		}
		w.To = &t
	}
	return w, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps the error taxonomy onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case timeclock.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error(), nil)
	case timeclock.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error(), nil)
	case timeclock.IsConflict(err):
		writeError(w, http.StatusConflict, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
