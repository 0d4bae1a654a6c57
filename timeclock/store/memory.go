// Package store provides an in-memory Store implementation.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/track-engine/timeclock"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps the ledger in maps guarded by one mutex. The
// single-open-entry invariant is enforced through a per-owner
// open-entry pointer updated conditionally inside the transaction,
// the compare-and-swap alternative to a partial unique index.
type Memory struct {
	mu sync.Mutex

	nextOwnerID   int64
	nextProjectID int64
	nextEntryID   int64

	owners   map[int64]timeclock.Owner
	tokens   map[string]int64 // api token -> owner id
	projects map[int64]timeclock.Project
	entries  map[int64]timeclock.Entry
	open     map[int64]int64 // owner id -> open entry id
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		owners:   make(map[int64]timeclock.Owner),
		tokens:   make(map[string]int64),
		projects: make(map[int64]timeclock.Project),
		entries:  make(map[int64]timeclock.Entry),
		open:     make(map[int64]int64),
	}
}

// WithTx runs fn against a staged copy of entry state. The copy is
// swapped in only when fn returns nil, so a failing operation leaves
// nothing half-written.
func (m *Memory) WithTx(_ context.Context, fn func(timeclock.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{
		m:           m,
		entries:     make(map[int64]timeclock.Entry, len(m.entries)),
		open:        make(map[int64]int64, len(m.open)),
		nextEntryID: m.nextEntryID,
	}
	for id, e := range m.entries {
		tx.entries[id] = e
	}
	for owner, id := range m.open {
		tx.open[owner] = id
	}

	if err := fn(tx); err != nil {
		return err
	}

	m.entries = tx.entries
	m.open = tx.open
	m.nextEntryID = tx.nextEntryID
	return nil
}

// =============================================================================
// READ QUERIES
// =============================================================================

func (m *Memory) ListEntries(_ context.Context, ownerID int64, w timeclock.Window) ([]timeclock.EntryDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var details []timeclock.EntryDetail
	for _, e := range m.entries {
		if e.OwnerID != ownerID || !inWindow(e.Start, w) {
			continue
		}
		details = append(details, m.detailLocked(e))
	}
	sort.Slice(details, func(i, j int) bool {
		if !details[i].Start.Equal(details[j].Start) {
			return details[i].Start.After(details[j].Start)
		}
		return details[i].ID > details[j].ID
	})
	return details, nil
}

func (m *Memory) OpenEntry(_ context.Context, ownerID int64) (*timeclock.EntryDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.open[ownerID]
	if !ok {
		return nil, nil
	}
	d := m.detailLocked(m.entries[id])
	return &d, nil
}

func (m *Memory) detailLocked(e timeclock.Entry) timeclock.EntryDetail {
	d := timeclock.EntryDetail{Entry: e}
	if p, ok := m.projects[e.ProjectID]; ok {
		d.ProjectName = p.Name
	}
	return d
}

func inWindow(t time.Time, w timeclock.Window) bool {
	if w.From != nil && t.Before(*w.From) {
		return false
	}
	if w.To != nil && t.After(*w.To) {
		return false
	}
	return true
}

// =============================================================================
// OWNER / PROJECT PLUMBING
// =============================================================================

func (m *Memory) CreateOwner(_ context.Context, name, token string) (timeclock.Owner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, o := range m.owners {
		if o.Name == name {
			return timeclock.Owner{}, &timeclock.ConflictError{Reason: "owner name already taken"}
		}
	}
	if _, ok := m.tokens[token]; ok {
		return timeclock.Owner{}, &timeclock.ConflictError{Reason: "token already issued"}
	}

	m.nextOwnerID++
	owner := timeclock.Owner{ID: m.nextOwnerID, Name: name, Token: token, CreatedAt: time.Now().UTC()}
	m.owners[owner.ID] = owner
	m.tokens[token] = owner.ID
	return owner, nil
}

func (m *Memory) OwnerByToken(_ context.Context, token string) (*timeclock.Owner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.tokens[token]
	if !ok {
		return nil, nil
	}
	owner := m.owners[id]
	return &owner, nil
}

func (m *Memory) CreateProject(_ context.Context, p timeclock.Project) (timeclock.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.projects {
		if existing.OwnerID == p.OwnerID && existing.Name == p.Name {
			return timeclock.Project{}, &timeclock.ConflictError{Reason: "project name already exists"}
		}
	}

	m.nextProjectID++
	p.ID = m.nextProjectID
	p.CreatedAt = time.Now().UTC()
	m.projects[p.ID] = p
	return p, nil
}

func (m *Memory) ListProjects(_ context.Context, ownerID int64) ([]timeclock.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var projects []timeclock.Project
	for _, p := range m.projects {
		if p.OwnerID == ownerID {
			projects = append(projects, p)
		}
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i].Name < projects[j].Name })
	return projects, nil
}

// =============================================================================
// TRANSACTION HANDLE
// =============================================================================

type memTx struct {
	m           *Memory
	entries     map[int64]timeclock.Entry
	open        map[int64]int64
	nextEntryID int64
}

func (tx *memTx) GetEntry(_ context.Context, ownerID, entryID int64) (*timeclock.Entry, error) {
	e, ok := tx.entries[entryID]
	if !ok || e.OwnerID != ownerID {
		return nil, nil
	}
	out := e
	return &out, nil
}

func (tx *memTx) GetOpenEntry(_ context.Context, ownerID int64) (*timeclock.Entry, error) {
	id, ok := tx.open[ownerID]
	if !ok {
		return nil, nil
	}
	e := tx.entries[id]
	return &e, nil
}

func (tx *memTx) InsertEntry(_ context.Context, e timeclock.Entry) (int64, error) {
	if e.Stop == nil {
		if _, taken := tx.open[e.OwnerID]; taken {
			return 0, timeclock.NewOpenEntryConflict(e.OwnerID)
		}
	}
	tx.nextEntryID++
	e.ID = tx.nextEntryID
	tx.entries[e.ID] = e
	if e.Stop == nil {
		tx.open[e.OwnerID] = e.ID
	}
	return e.ID, nil
}

func (tx *memTx) UpdateEntry(_ context.Context, e timeclock.Entry) error {
	old, ok := tx.entries[e.ID]
	if !ok || old.OwnerID != e.OwnerID {
		return &timeclock.NotFoundError{Kind: "entry", ID: e.ID}
	}

	if e.Stop == nil {
		if cur, taken := tx.open[e.OwnerID]; taken && cur != e.ID {
			return timeclock.NewOpenEntryConflict(e.OwnerID)
		}
		tx.open[e.OwnerID] = e.ID
	} else if cur, taken := tx.open[e.OwnerID]; taken && cur == e.ID {
		delete(tx.open, e.OwnerID)
	}

	tx.entries[e.ID] = e
	return nil
}

func (tx *memTx) DeleteEntry(_ context.Context, ownerID, entryID int64) (bool, error) {
	e, ok := tx.entries[entryID]
	if !ok || e.OwnerID != ownerID {
		return false, nil
	}
	delete(tx.entries, entryID)
	if cur, taken := tx.open[ownerID]; taken && cur == entryID {
		delete(tx.open, ownerID)
	}
	return true, nil
}

func (tx *memTx) GetProject(_ context.Context, ownerID, projectID int64) (*timeclock.Project, error) {
	p, ok := tx.m.projects[projectID]
	if !ok || p.OwnerID != ownerID {
		return nil, nil
	}
	out := p
	return &out, nil
}

func (tx *memTx) ListOpenEntries(_ context.Context) ([]timeclock.Entry, error) {
	var open []timeclock.Entry
	for _, e := range tx.entries {
		if e.Stop == nil {
			open = append(open, e)
		}
	}
	sort.Slice(open, func(i, j int) bool { return open[i].ID < open[j].ID })
	return open, nil
}
