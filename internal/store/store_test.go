package store

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/calib/internal/monitoring"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	db, err := Open(filepath.Join(t.TempDir(), "calib.db"))
	if err != nil {
		t.Fatalf("failed to open test DB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

var roundTripValues = []float64{0, 1, -1, 0.1, 1.0 / 3, -math.Pi, 1e-300, 6.02214076e23, 0.11771}

func TestParameterStoresRoundTrip(t *testing.T) {
	stores := map[string]ParameterStore{
		"memory": NewMemoryStore(),
		"sqlite": setupTestDB(t),
	}

	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			_, err := s.ReadParameters(CBT0, "LD2_Dec_07", 0, len(roundTripValues))
			if !errors.Is(err, ErrNoParameters) {
				t.Fatalf("ReadParameters() on empty store err = %v, want ErrNoParameters", err)
			}

			require.NoError(t, s.WriteParameters(CBT0, "LD2_Dec_07", 0, roundTripValues))
			got, err := s.ReadParameters(CBT0, "LD2_Dec_07", 0, len(roundTripValues))
			require.NoError(t, err)
			if diff := cmp.Diff(roundTripValues, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}

			// Other sets and kinds are independent.
			if _, err := s.ReadParameters(CBT0, "LD2_Dec_07", 1, 3); !errors.Is(err, ErrNoParameters) {
				t.Errorf("set 1 err = %v, want ErrNoParameters", err)
			}
			if _, err := s.ReadParameters(TAPST0, "LD2_Dec_07", 0, 3); !errors.Is(err, ErrNoParameters) {
				t.Errorf("taps.t0 err = %v, want ErrNoParameters", err)
			}

			// Overwrite replaces the whole array.
			require.NoError(t, s.WriteParameters(CBT0, "LD2_Dec_07", 0, []float64{5, 6}))
			got, err = s.ReadParameters(CBT0, "LD2_Dec_07", 0, 4)
			require.NoError(t, err)
			assert.Equal(t, []float64{5, 6, 0, 0}, got)
		})
	}
}

func TestMemoryStoreCopies(t *testing.T) {
	s := NewMemoryStore()
	vals := []float64{1, 2, 3}
	require.NoError(t, s.WriteParameters(PIDE0, "c", 0, vals))
	vals[0] = 99

	got, err := s.ReadParameters(PIDE0, "c", 0, 3)
	require.NoError(t, err)
	got[1] = 42

	again, err := s.ReadParameters(PIDE0, "c", 0, 3)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, again)
}

func TestMigrations(t *testing.T) {
	db := setupTestDB(t)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	require.NoError(t, db.MigrateDown())
	version, _, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	_, err = db.StartPass("c", "CB.Time", nil)
	assert.Error(t, err, "calibration_passes should be gone after rolling back")

	require.NoError(t, db.MigrateUp())
	version, _, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)

	require.NoError(t, db.MigrateForce(2))
}

func TestRunSets(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, db.AddRunSet("LD2", RunSet{Index: 0, Runs: []int{13050, 13040, 13045}}))
	require.NoError(t, db.AddRunSet("LD2", RunSet{Index: 1, Runs: []int{13100}}))
	require.NoError(t, db.AddRunSet("LD2", RunSet{Index: 0, Runs: []int{13045}}))

	runs, err := db.Runs("LD2", 0)
	require.NoError(t, err)
	assert.Equal(t, []int{13040, 13045, 13050}, runs)

	sets, err := db.RunSets("LD2")
	require.NoError(t, err)
	want := []RunSet{
		{Index: 0, Runs: []int{13040, 13045, 13050}},
		{Index: 1, Runs: []int{13100}},
	}
	if diff := cmp.Diff(want, sets); diff != "" {
		t.Errorf("RunSets() mismatch (-want +got):\n%s", diff)
	}

	none, err := db.RunSets("other")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryRuns(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.AddRunSet("c", RunSet{Index: 2, Runs: []int{5, 3}}))
	runs, err := s.Runs("c", 2)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 5}, runs)

	runs, err = s.Runs("c", 7)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestPasses(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.AddRunSet("LD2", RunSet{Index: 0, Runs: []int{1, 2}}))

	id, err := db.StartPass("LD2", "CB.Time", []int{0})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.NoError(t, db.FinishPass(id, "written", 720))
	assert.Error(t, db.FinishPass("missing", "written", 1))

	passes, err := db.Passes("LD2")
	require.NoError(t, err)
	require.Len(t, passes, 1)

	p := passes[0]
	assert.Equal(t, id, p.ID)
	assert.Equal(t, "CB.Time", p.Profile)
	assert.Equal(t, []int{0}, p.Sets)
	assert.Equal(t, "written", p.Status)
	assert.Equal(t, 720, p.Elements)
	assert.Equal(t, InputDigest("CB.Time", map[int][]int{0: {1, 2}}), p.InputDigest)
	assert.NotNil(t, p.FinishedAt)
}

func TestInputDigest(t *testing.T) {
	a := InputDigest("CB.Time", map[int][]int{0: {1, 2}, 1: {3}})
	b := InputDigest("CB.Time", map[int][]int{1: {3}, 0: {1, 2}})
	c := InputDigest("CB.Time", map[int][]int{0: {1, 2, 3}})
	d := InputDigest("TAPS.Time", map[int][]int{0: {1, 2}, 1: {3}})

	assert.Equal(t, a, b, "digest must not depend on map order")
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
}
