package main

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/calib/internal/calib"
	"github.com/banshee-data/calib/internal/config"
	"github.com/banshee-data/calib/internal/histo"
	"github.com/banshee-data/calib/internal/monitoring"
	"github.com/banshee-data/calib/internal/source"
	"github.com/banshee-data/calib/internal/store"
)

func TestParseSets(t *testing.T) {
	tests := []struct {
		in      string
		want    []int
		wantErr bool
	}{
		{in: "0", want: []int{0}},
		{in: "3,1,2", want: []int{1, 2, 3}},
		{in: "0,2-4", want: []int{0, 2, 3, 4}},
		{in: " 1 , 1-2 ", want: []int{1, 2}},
		{in: "", wantErr: true},
		{in: "a", wantErr: true},
		{in: "4-2", wantErr: true},
		{in: "-1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseSets(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("parseSets(%q) (-want +got):\n%s", tt.in, diff)
			}
		})
	}
}

func TestFormatReport(t *testing.T) {
	old := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = old })

	r := calib.Report{Text: "Element: 001", Unchanged: true, Hole: true}
	assert.Equal(t, r.String(), formatReport(r))

	r = calib.Report{Text: "Element: 002", Rejected: true}
	assert.Equal(t, "Element: 002"+calib.FlagRejected, formatReport(r))
}

func TestPassStatus(t *testing.T) {
	assert.Equal(t, statusDone, passStatus(nil, false))
	assert.Equal(t, statusDryRun, passStatus(nil, true))
	assert.Equal(t, statusFailed, passStatus(calib.ErrMissingConfig, false))
	assert.Equal(t, statusCancelled, passStatus(context.Canceled, false))
}

func TestElementsForKind(t *testing.T) {
	cfg := config.New(map[string]interface{}{"CB.Time.Elements": 12.0})
	assert.Equal(t, 12, elementsForKind(cfg, store.CBT0))
	assert.Equal(t, 1, elementsForKind(cfg, store.TargetPos))
	assert.Equal(t, 0, elementsForKind(cfg, store.DataKind("nope")))
}

func TestPrintProfiles(t *testing.T) {
	var out bytes.Buffer
	stdout = &out
	t.Cleanup(func() { stdout = os.Stdout })

	printProfiles()

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, len(calib.Profiles()))
	assert.True(t, strings.HasPrefix(lines[0], "CB.QuadEnergy"), lines[0])
	assert.Contains(t, out.String(), "CB.Time")
	assert.Contains(t, out.String(), "quad-energy")
	assert.Contains(t, out.String(), "target-position")
}

func TestNewReviewer(t *testing.T) {
	cfg := config.New(map[string]interface{}{"CB.Time.Review.Delay": "5ms"})

	r, err := newReviewer(runOptions{Profile: "CB.Time"}, cfg)
	require.NoError(t, err)
	assert.Equal(t, calib.AutoReviewer{Delay: 5e6}, r)

	r, err = newReviewer(runOptions{Profile: "CB.Time", Review: "terminal", In: strings.NewReader("")}, cfg)
	require.NoError(t, err)
	assert.IsType(t, &calib.TerminalReviewer{}, r)

	_, err = newReviewer(runOptions{Review: "mouse"}, cfg)
	assert.Error(t, err)
}

// timeSource holds a two element time histogram: a peak at 2 ns and an
// empty row.
func timeSource() *source.MemorySource {
	h := histo.NewH2("CaLib_CB_Time", 200, -50, 50, 2, 0, 2)
	for ix := 0; ix < h.X.N; ix++ {
		x := h.X.Center(ix)
		d := (x - 2) / 1.5
		h.SetContent(ix, 0, 500*math.Exp(-0.5*d*d))
	}
	src := source.NewMemorySource()
	src.AddH2(h)
	return src
}

func TestRunPass(t *testing.T) {
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "calib.db"))
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.AddRunSet("LH2_2024", store.RunSet{Index: 0, Runs: []int{100, 101}}))

	cfg := config.New(map[string]interface{}{
		"CB.Time.Histo.Fit.Name": "CaLib_CB_Time",
		"CB.Time.Elements":       2.0,
	})
	var report bytes.Buffer
	opts := runOptions{
		Profile:     "CB.Time",
		Calibration: "LH2_2024",
		PlotDir:     filepath.Join(dir, "plots"),
		HTMLPath:    filepath.Join(dir, "html", "overview.html"),
		Source:      timeSource(),
		Report:      &report,
	}
	require.NoError(t, runPass(context.Background(), cfg, db, opts))

	lines := strings.Split(strings.TrimSpace(report.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "Element: 000"))
	assert.Contains(t, lines[1], calib.FlagUnchanged)

	vals, err := db.ReadParameters(store.CBT0, "LH2_2024", 0, 2)
	require.NoError(t, err)
	assert.InDelta(t, 2/config.DefaultTDCGain, vals[0], 0.5)

	passes, err := db.Passes("LH2_2024")
	require.NoError(t, err)
	require.Len(t, passes, 1)
	assert.Equal(t, statusDone, passes[0].Status)
	assert.Equal(t, []int{0}, passes[0].Sets)
	assert.Equal(t, 2, passes[0].Elements)

	html, err := os.ReadFile(opts.HTMLPath)
	require.NoError(t, err)
	assert.Contains(t, string(html), "CB.Time_Overview")

	pngs, err := filepath.Glob(filepath.Join(opts.PlotDir, "CB.Time", "*", "*.png"))
	require.NoError(t, err)
	assert.NotEmpty(t, pngs)
}

func TestRunPassDryRun(t *testing.T) {
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	db, err := store.Open(filepath.Join(t.TempDir(), "calib.db"))
	require.NoError(t, err)
	defer db.Close()

	cfg := config.New(map[string]interface{}{
		"CB.Time.Histo.Fit.Name": "CaLib_CB_Time",
		"CB.Time.Elements":       2.0,
	})
	opts := runOptions{
		Profile:     "CB.Time",
		Calibration: "LH2_2024",
		Sets:        []int{3},
		DryRun:      true,
		Source:      timeSource(),
		Report:      &bytes.Buffer{},
	}
	require.NoError(t, runPass(context.Background(), cfg, db, opts))

	_, err = db.ReadParameters(store.CBT0, "LH2_2024", 3, 2)
	assert.ErrorIs(t, err, store.ErrNoParameters)

	passes, err := db.Passes("LH2_2024")
	require.NoError(t, err)
	require.Len(t, passes, 1)
	assert.Equal(t, statusDryRun, passes[0].Status)
}

func TestRunPassErrors(t *testing.T) {
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	db, err := store.Open(filepath.Join(t.TempDir(), "calib.db"))
	require.NoError(t, err)
	defer db.Close()
	cfg := config.New(nil)

	err = runPass(context.Background(), cfg, db, runOptions{Profile: "CB.Nope", Calibration: "c"})
	assert.ErrorIs(t, err, calib.ErrUnknownProfile)

	err = runPass(context.Background(), cfg, db, runOptions{Profile: "CB.Time", Calibration: "c"})
	assert.ErrorIs(t, err, calib.ErrNoSets)

	// A failed init is recorded as a failed pass.
	err = runPass(context.Background(), cfg, db, runOptions{
		Profile: "CB.Time", Calibration: "c", Sets: []int{0},
		Source: source.NewMemorySource(), Report: &bytes.Buffer{},
	})
	assert.ErrorIs(t, err, calib.ErrMissingConfig)
	passes, err := db.Passes("c")
	require.NoError(t, err)
	require.Len(t, passes, 1)
	assert.Equal(t, statusFailed, passes[0].Status)
}

func TestRunSetsCommand(t *testing.T) {
	monitoring.SetLogger(nil)
	var out bytes.Buffer
	stdout = &out
	t.Cleanup(func() { stdout = os.Stdout })

	dbPath := filepath.Join(t.TempDir(), "calib.db")
	require.NoError(t, runSetsCommand([]string{"-db", dbPath, "-calibration", "c", "add", "1", "200", "201"}))
	require.NoError(t, runSetsCommand([]string{"-db", dbPath, "-calibration", "c", "add", "0", "100"}))
	require.NoError(t, runSetsCommand([]string{"-db", dbPath, "-calibration", "c", "list"}))
	assert.Equal(t, "set 0: 1 runs [100]\nset 1: 2 runs [200 201]\n", out.String())

	assert.Error(t, runSetsCommand([]string{"-db", dbPath, "-calibration", "c", "add", "x", "1"}))
	assert.Error(t, runSetsCommand([]string{"-db", dbPath, "list"}))
}

func TestPrintCommand(t *testing.T) {
	var out bytes.Buffer
	stdout = &out
	t.Cleanup(func() { stdout = os.Stdout })

	dbPath := filepath.Join(t.TempDir(), "calib.db")
	db, err := store.Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, db.WriteParameters(store.TargetPos, "c", 0, []float64{2.5}))
	require.NoError(t, db.Close())

	require.NoError(t, printCommand([]string{"-db", dbPath, "-calibration", "c", "-kind", "target.pos"}))
	assert.Equal(t, "000      2.50000000\n", out.String())

	err = printCommand([]string{"-db", dbPath, "-calibration", "c", "-kind", "cb.t0", "-n", "3"})
	assert.ErrorIs(t, err, store.ErrNoParameters)
}

func TestMigrateCommand(t *testing.T) {
	monitoring.SetLogger(nil)
	var out bytes.Buffer
	stdout = &out
	t.Cleanup(func() { stdout = os.Stdout })

	dbPath := filepath.Join(t.TempDir(), "calib.db")
	require.NoError(t, migrateCommand([]string{"-db", dbPath, "version"}))
	assert.Contains(t, out.String(), "Current version: 0 (dirty: false)")

	out.Reset()
	require.NoError(t, migrateCommand([]string{"-db", dbPath, "up"}))
	assert.Contains(t, out.String(), "Current version: 2 (dirty: false)")

	out.Reset()
	require.NoError(t, migrateCommand([]string{"-db", dbPath, "down"}))
	assert.Contains(t, out.String(), "Current version: 1 (dirty: false)")

	assert.Error(t, migrateCommand([]string{"-db", dbPath, "sideways"}))
	assert.Error(t, migrateCommand([]string{"-db", dbPath}))
}
