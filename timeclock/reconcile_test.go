package timeclock_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/track-engine/store/sqlite"
	"github.com/warp/track-engine/timeclock"
	memstore "github.com/warp/track-engine/timeclock/store"
)

// newUnconstrainedStore returns a SQLite store whose open-entry index
// has not been created yet, the state of a database predating the
// constraint. Only such a store can hold the violations the
// reconciler exists to repair.
func newUnconstrainedStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func insertOpenEntry(t *testing.T, s timeclock.Store, ownerID, projectID int64, startMin int) int64 {
	t.Helper()
	var id int64
	err := s.WithTx(context.Background(), func(tx timeclock.Tx) error {
		var err error
		id, err = tx.InsertEntry(context.Background(), timeclock.Entry{
			OwnerID:   ownerID,
			ProjectID: projectID,
			Start:     at(startMin),
		})
		return err
	})
	require.NoError(t, err)
	return id
}

func TestReconcile_KeepsLatestStartClosesRest(t *testing.T) {
	// GIVEN: Pre-constraint data with three open entries for one owner
	//        (09:00, 09:30, 10:00) and a single open entry for another
	// WHEN: Reconciling
	// THEN: Only the 10:00 entry survives open, the surplus two are
	//       closed at exactly 10:00, and the other owner is untouched

	ctx := context.Background()
	s := newUnconstrainedStore(t)

	ada := seedOwner(t, s, "ada")
	bob := seedOwner(t, s, "bob")
	adaProject := seedProject(t, s, ada.ID, "Deep Work")
	bobProject := seedProject(t, s, bob.ID, "Deep Work")

	insertOpenEntry(t, s, ada.ID, adaProject.ID, 0)
	insertOpenEntry(t, s, ada.ID, adaProject.ID, 30)
	keepID := insertOpenEntry(t, s, ada.ID, adaProject.ID, 60)
	bobID := insertOpenEntry(t, s, bob.ID, bobProject.ID, 0)

	closed, err := timeclock.Reconcile(ctx, s, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, closed)

	open, err := s.OpenEntry(ctx, ada.ID)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, keepID, open.ID, "latest start must win")

	entries, err := s.ListEntries(ctx, ada.ID, timeclock.All)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for _, e := range entries {
		if e.ID == keepID {
			continue
		}
		require.NotNil(t, e.Stop)
		assert.True(t, e.Stop.Equal(at(60)), "surplus entries close at the kept entry's start")
	}

	bobOpen, err := s.OpenEntry(ctx, bob.ID)
	require.NoError(t, err)
	require.NotNil(t, bobOpen)
	assert.Equal(t, bobID, bobOpen.ID)
	assert.Nil(t, bobOpen.Stop, "single open entries are not an offence")
}

func TestReconcile_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := newUnconstrainedStore(t)

	ada := seedOwner(t, s, "ada")
	project := seedProject(t, s, ada.ID, "Deep Work")
	insertOpenEntry(t, s, ada.ID, project.ID, 0)
	insertOpenEntry(t, s, ada.ID, project.ID, 30)

	closed, err := timeclock.Reconcile(ctx, s, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	closed, err = timeclock.Reconcile(ctx, s, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, closed, "repaired data must be a no-op")
}

func TestReconcile_EqualStartsKeepHigherID(t *testing.T) {
	// Deterministic tie-break: with identical starts the entry inserted
	// later (higher id) survives.
	ctx := context.Background()
	s := newUnconstrainedStore(t)

	ada := seedOwner(t, s, "ada")
	project := seedProject(t, s, ada.ID, "Deep Work")
	insertOpenEntry(t, s, ada.ID, project.ID, 0)
	later := insertOpenEntry(t, s, ada.ID, project.ID, 0)

	repaired, err := timeclock.Reconcile(ctx, s, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, repaired)

	open, err := s.OpenEntry(ctx, ada.ID)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, later, open.ID)

	// The losing duplicate ties the survivor's start exactly; closing it
	// there would store an empty interval, so it is removed outright.
	entries, err := s.ListEntries(ctx, ada.ID, timeclock.All)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, later, entries[0].ID)
	assert.Nil(t, entries[0].Stop)
}

func TestReconcile_ActivatesConstraint(t *testing.T) {
	// GIVEN: A repaired store
	// WHEN: Reconcile has returned
	// THEN: The storage-level constraint is live; a second open insert
	//       for the same owner now fails with a conflict

	ctx := context.Background()
	s := newUnconstrainedStore(t)

	ada := seedOwner(t, s, "ada")
	project := seedProject(t, s, ada.ID, "Deep Work")
	insertOpenEntry(t, s, ada.ID, project.ID, 0)

	_, err := timeclock.Reconcile(ctx, s, nil)
	require.NoError(t, err)

	err = s.WithTx(ctx, func(tx timeclock.Tx) error {
		_, err := tx.InsertEntry(ctx, timeclock.Entry{
			OwnerID:   ada.ID,
			ProjectID: project.ID,
			Start:     at(30),
		})
		return err
	})
	assert.True(t, timeclock.IsConflict(err))
}

func TestReconcile_MemoryStoreIsAlwaysClean(t *testing.T) {
	// The in-memory store enforces the invariant from the first write,
	// so reconciliation never finds anything to repair.
	ctx := context.Background()
	s := memstore.NewMemory()

	ada := seedOwner(t, s, "ada")
	project := seedProject(t, s, ada.ID, "Deep Work")
	ctrl := timeclock.NewController(s, nil)
	started, err := ctrl.Start(ctx, ada.ID, project.ID, atPtr(0))
	require.NoError(t, err)

	closed, err := timeclock.Reconcile(ctx, s, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, closed)

	current, err := ctrl.Current(ctx, ada.ID)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, started.ID, current.ID)
}
