package sqlite_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/track-engine/store/sqlite"
	"github.com/warp/track-engine/timeclock"
)

var base = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

func at(minutes int) time.Time { return base.Add(time.Duration(minutes) * time.Minute) }

func newStore(t *testing.T, constrained bool) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	if constrained {
		require.NoError(t, s.ActivateOpenEntryConstraint(context.Background()))
	}
	return s
}

func seed(t *testing.T, s *sqlite.Store) (timeclock.Owner, timeclock.Project) {
	t.Helper()
	ctx := context.Background()
	owner, err := s.CreateOwner(ctx, "ada", "token-ada")
	require.NoError(t, err)
	project, err := s.CreateProject(ctx, timeclock.Project{OwnerID: owner.ID, Name: "Deep Work", Visible: true})
	require.NoError(t, err)
	return owner, project
}

func insertEntry(t *testing.T, s *sqlite.Store, e timeclock.Entry) int64 {
	t.Helper()
	var id int64
	err := s.WithTx(context.Background(), func(tx timeclock.Tx) error {
		var err error
		id, err = tx.InsertEntry(context.Background(), e)
		return err
	})
	require.NoError(t, err)
	return id
}

// =============================================================================
// OPEN-ENTRY CONSTRAINT
// =============================================================================

func TestSQLite_ConstraintRejectsSecondOpenEntry(t *testing.T) {
	// GIVEN: The partial unique index is live and an entry is open
	// WHEN: Inserting a second open entry for the same owner
	// THEN: The database itself rejects it; the error maps to a conflict

	ctx := context.Background()
	s := newStore(t, true)
	owner, project := seed(t, s)

	insertEntry(t, s, timeclock.Entry{OwnerID: owner.ID, ProjectID: project.ID, Start: at(0)})

	err := s.WithTx(ctx, func(tx timeclock.Tx) error {
		_, err := tx.InsertEntry(ctx, timeclock.Entry{OwnerID: owner.ID, ProjectID: project.ID, Start: at(30)})
		return err
	})
	assert.True(t, timeclock.IsConflict(err), "got %v", err)
	assert.Contains(t, err.Error(), fmt.Sprintf("owner %d", owner.ID))
}

func TestSQLite_ConstraintScopedPerOwner(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, true)
	ada, adaProject := seed(t, s)
	bob, err := s.CreateOwner(ctx, "bob", "token-bob")
	require.NoError(t, err)
	bobProject, err := s.CreateProject(ctx, timeclock.Project{OwnerID: bob.ID, Name: "Deep Work"})
	require.NoError(t, err)

	insertEntry(t, s, timeclock.Entry{OwnerID: ada.ID, ProjectID: adaProject.ID, Start: at(0)})
	insertEntry(t, s, timeclock.Entry{OwnerID: bob.ID, ProjectID: bobProject.ID, Start: at(0)})

	open, err := s.OpenEntry(ctx, bob.ID)
	require.NoError(t, err)
	require.NotNil(t, open)
}

func TestSQLite_ReopenUpdateRejectedByConstraint(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, true)
	owner, project := seed(t, s)

	stop := at(30)
	closedID := insertEntry(t, s, timeclock.Entry{OwnerID: owner.ID, ProjectID: project.ID, Start: at(0), Stop: &stop})
	insertEntry(t, s, timeclock.Entry{OwnerID: owner.ID, ProjectID: project.ID, Start: at(60)})

	err := s.WithTx(ctx, func(tx timeclock.Tx) error {
		return tx.UpdateEntry(ctx, timeclock.Entry{ID: closedID, OwnerID: owner.ID, ProjectID: project.ID, Start: at(0)})
	})
	assert.True(t, timeclock.IsConflict(err), "got %v", err)
}

func TestSQLite_UnconstrainedStoreAcceptsSurplusOpenEntries(t *testing.T) {
	// Pre-activation state: the base schema must accept the violations
	// the reconciler later repairs.
	s := newStore(t, false)
	owner, project := seed(t, s)

	insertEntry(t, s, timeclock.Entry{OwnerID: owner.ID, ProjectID: project.ID, Start: at(0)})
	insertEntry(t, s, timeclock.Entry{OwnerID: owner.ID, ProjectID: project.ID, Start: at(30)})

	entries, err := s.ListEntries(context.Background(), owner.ID, timeclock.All)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestSQLite_ActivationFailsOnUnrepairedData(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, false)
	owner, project := seed(t, s)

	insertEntry(t, s, timeclock.Entry{OwnerID: owner.ID, ProjectID: project.ID, Start: at(0)})
	insertEntry(t, s, timeclock.Entry{OwnerID: owner.ID, ProjectID: project.ID, Start: at(30)})

	err := s.ActivateOpenEntryConstraint(ctx)
	assert.Error(t, err, "index creation over surplus open entries must fail")
}

// =============================================================================
// TRANSACTION SCOPE
// =============================================================================

func TestSQLite_FailedTxRollsBackInFull(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, true)
	owner, project := seed(t, s)

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx timeclock.Tx) error {
		if _, err := tx.InsertEntry(ctx, timeclock.Entry{OwnerID: owner.ID, ProjectID: project.ID, Start: at(0)}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	entries, err := s.ListEntries(ctx, owner.ID, timeclock.All)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSQLite_TxReadsSeeUncommittedWrites(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, true)
	owner, project := seed(t, s)

	err := s.WithTx(ctx, func(tx timeclock.Tx) error {
		id, err := tx.InsertEntry(ctx, timeclock.Entry{OwnerID: owner.ID, ProjectID: project.ID, Start: at(0)})
		if err != nil {
			return err
		}
		open, err := tx.GetOpenEntry(ctx, owner.ID)
		if err != nil {
			return err
		}
		require.NotNil(t, open)
		assert.Equal(t, id, open.ID)
		return nil
	})
	require.NoError(t, err)
}

// =============================================================================
// QUERIES
// =============================================================================

func TestSQLite_ListEntriesWindowedWithProjectName(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, true)
	owner, project := seed(t, s)

	for _, startMin := range []int{0, 60, 120} {
		stop := at(startMin + 30)
		insertEntry(t, s, timeclock.Entry{OwnerID: owner.ID, ProjectID: project.ID, Start: at(startMin), Stop: &stop})
	}

	all, err := s.ListEntries(ctx, owner.ID, timeclock.All)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[0].Start.Equal(at(120)), "newest start first")
	assert.Equal(t, "Deep Work", all[0].ProjectName)

	from := at(30)
	lower, err := s.ListEntries(ctx, owner.ID, timeclock.Window{From: &from})
	require.NoError(t, err)
	assert.Len(t, lower, 2)

	to := at(90)
	both, err := s.ListEntries(ctx, owner.ID, timeclock.Window{From: &from, To: &to})
	require.NoError(t, err)
	require.Len(t, both, 1)
	assert.True(t, both[0].Start.Equal(at(60)))
}

func TestSQLite_OpenEntryNilWhenNothingRuns(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, true)
	owner, _ := seed(t, s)

	open, err := s.OpenEntry(ctx, owner.ID)
	require.NoError(t, err)
	assert.Nil(t, open)
}

func TestSQLite_SubSecondInstantsRoundTripExactly(t *testing.T) {
	// Bounds are stored at nanosecond precision; two instants inside
	// the same wall-clock second must come back distinct, or a closed
	// entry could round-trip as start == stop.
	ctx := context.Background()
	s := newStore(t, true)
	owner, project := seed(t, s)

	start := base.Add(123456789 * time.Nanosecond)
	stop := base.Add(987654321 * time.Nanosecond)
	insertEntry(t, s, timeclock.Entry{OwnerID: owner.ID, ProjectID: project.ID, Start: start, Stop: &stop})

	entries, err := s.ListEntries(ctx, owner.ID, timeclock.All)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Start.Equal(start), "got %v", entries[0].Start)
	require.NotNil(t, entries[0].Stop)
	assert.True(t, entries[0].Stop.Equal(stop), "got %v", entries[0].Stop)
	assert.True(t, entries[0].Start.Before(*entries[0].Stop))
}

func TestSQLite_SubSecondOrderingAndWindows(t *testing.T) {
	// The TEXT column is compared lexicographically by ORDER BY and the
	// window predicates; the fixed-width fractional layout must keep
	// that in chronological agreement.
	ctx := context.Background()
	s := newStore(t, true)
	owner, project := seed(t, s)

	for _, ms := range []int{200, 800, 500} {
		start := base.Add(time.Duration(ms) * time.Millisecond)
		stop := start.Add(50 * time.Millisecond)
		insertEntry(t, s, timeclock.Entry{OwnerID: owner.ID, ProjectID: project.ID, Start: start, Stop: &stop})
	}

	all, err := s.ListEntries(ctx, owner.ID, timeclock.All)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[0].Start.Equal(base.Add(800*time.Millisecond)), "newest fraction first, got %v", all[0].Start)
	assert.True(t, all[2].Start.Equal(base.Add(200*time.Millisecond)))

	from := base.Add(500 * time.Millisecond)
	windowed, err := s.ListEntries(ctx, owner.ID, timeclock.Window{From: &from})
	require.NoError(t, err)
	assert.Len(t, windowed, 2, "window bound must compare at full precision")
}

func TestSQLite_TimesRoundTripAsUTCInstants(t *testing.T) {
	// Instants are stored as RFC3339 text; any zone goes in, the same
	// instant comes back in UTC.
	ctx := context.Background()
	s := newStore(t, true)
	owner, project := seed(t, s)

	zone := time.FixedZone("UTC+2", 2*3600)
	start := time.Date(2025, time.March, 10, 11, 0, 0, 0, zone) // 09:00 UTC
	insertEntry(t, s, timeclock.Entry{OwnerID: owner.ID, ProjectID: project.ID, Start: start})

	entries, err := s.ListEntries(ctx, owner.ID, timeclock.All)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Start.Equal(at(0)))
	assert.Equal(t, time.UTC, entries[0].Start.Location())
}

func TestSQLite_EntryOwnershipScoping(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, true)
	ada, adaProject := seed(t, s)
	bob, err := s.CreateOwner(ctx, "bob", "token-bob")
	require.NoError(t, err)

	id := insertEntry(t, s, timeclock.Entry{OwnerID: ada.ID, ProjectID: adaProject.ID, Start: at(0)})

	err = s.WithTx(ctx, func(tx timeclock.Tx) error {
		entry, err := tx.GetEntry(ctx, bob.ID, id)
		if err != nil {
			return err
		}
		assert.Nil(t, entry, "foreign entries must be invisible")

		project, err := tx.GetProject(ctx, bob.ID, adaProject.ID)
		if err != nil {
			return err
		}
		assert.Nil(t, project, "foreign projects must be invisible")

		deleted, err := tx.DeleteEntry(ctx, bob.ID, id)
		if err != nil {
			return err
		}
		assert.False(t, deleted, "foreign entries must not be deletable")
		return nil
	})
	require.NoError(t, err)
}

// =============================================================================
// OWNER / PROJECT PLUMBING
// =============================================================================

func TestSQLite_OwnerUniquenessAndResolution(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, true)
	owner, _ := seed(t, s)

	_, err := s.CreateOwner(ctx, "ada", "token-2")
	assert.True(t, timeclock.IsConflict(err), "duplicate name")

	resolved, err := s.OwnerByToken(ctx, "token-ada")
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.Equal(t, owner.ID, resolved.ID)
	assert.Equal(t, "ada", resolved.Name)

	unknown, err := s.OwnerByToken(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, unknown)
}

func TestSQLite_ProjectNameUniquePerOwner(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, true)
	owner, _ := seed(t, s)

	_, err := s.CreateProject(ctx, timeclock.Project{OwnerID: owner.ID, Name: "Deep Work"})
	assert.True(t, timeclock.IsConflict(err))

	bob, err := s.CreateOwner(ctx, "bob", "token-bob")
	require.NoError(t, err)
	_, err = s.CreateProject(ctx, timeclock.Project{OwnerID: bob.ID, Name: "Deep Work"})
	assert.NoError(t, err, "same name under another owner is fine")

	projects, err := s.ListProjects(ctx, owner.ID)
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, "Deep Work", projects[0].Name)
}
