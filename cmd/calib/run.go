package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/banshee-data/calib/internal/calib"
	"github.com/banshee-data/calib/internal/config"
	"github.com/banshee-data/calib/internal/monitoring"
	"github.com/banshee-data/calib/internal/plots"
	"github.com/banshee-data/calib/internal/source"
	"github.com/banshee-data/calib/internal/store"
)

// Pass statuses recorded in the database.
const (
	statusDone      = "done"
	statusFailed    = "failed"
	statusCancelled = "cancelled"
	statusDryRun    = "dry-run"
)

// runOptions are the resolved options of one calibration pass.
type runOptions struct {
	Profile       string
	Calibration   string
	Sets          []int
	DataDir       string
	PlotDir       string
	HTMLPath      string
	Review        string
	ReviewTimeout time.Duration
	DryRun        bool

	// Source replaces the run-set file source when set.
	Source source.HistogramSource
	// Report receives the report lines, stdout when nil.
	Report io.Writer
	// In is the terminal reviewer input, stdin when nil.
	In io.Reader
}

func runCommand(args []string) error {
	fs := newFlagSet("run")
	var (
		configPath    = fs.String("config", config.DefaultConfigPath, "calibration configuration (.json, .yaml)")
		overlayPath   = fs.String("overlay", "", "optional configuration merged over -config")
		dbPath        = fs.String("db", defaultDBPath, "parameter database")
		calibration   = fs.String("calibration", "", "calibration identifier (required)")
		setsFlag      = fs.String("sets", "", "run-set indices, e.g. 0,2-4 (default: all registered sets)")
		dataDir       = fs.String("data", "", "histogram directory (overrides File.Input.Directory)")
		plotDir       = fs.String("plots", "", "write per-element and overview PNGs below this directory")
		htmlPath      = fs.String("html", "", "write an HTML overview page to this file")
		review        = fs.String("review", "auto", "review mode: auto or terminal")
		reviewTimeout = fs.Duration("review-timeout", 0, "accept the fit after this long without input (terminal review)")
		dryRun        = fs.Bool("dry-run", false, "calibrate without writing constants")
		quiet         = fs.Bool("quiet", false, "suppress diagnostic logging")
	)
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: calib run [options] <profile>")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("exactly one profile is required")
	}
	if *calibration == "" {
		return errors.New("-calibration is required")
	}
	if *quiet {
		monitoring.SetLogger(nil)
	}

	cfg, err := loadConfig(*configPath, *overlayPath)
	if err != nil {
		return err
	}

	db, err := store.Open(*dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	opts := runOptions{
		Profile:       fs.Arg(0),
		Calibration:   *calibration,
		DataDir:       *dataDir,
		PlotDir:       *plotDir,
		HTMLPath:      *htmlPath,
		Review:        *review,
		ReviewTimeout: *reviewTimeout,
		DryRun:        *dryRun,
	}
	if *setsFlag != "" {
		if opts.Sets, err = parseSets(*setsFlag); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return runPass(ctx, cfg, db, opts)
}

// loadConfig reads path and merges the optional overlay on top.
func loadConfig(path, overlay string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if overlay != "" {
		o, err := config.Load(overlay)
		if err != nil {
			return nil, fmt.Errorf("load overlay %s: %w", overlay, err)
		}
		cfg.Merge(o)
	}
	return cfg, nil
}

// runPass calibrates one profile and records the pass in db.
func runPass(ctx context.Context, cfg *config.Config, db *store.DB, opts runOptions) error {
	if _, ok := calib.LookupProfile(opts.Profile); !ok {
		return fmt.Errorf("%w: %s", calib.ErrUnknownProfile, opts.Profile)
	}

	sets := opts.Sets
	if len(sets) == 0 {
		registered, err := db.RunSets(opts.Calibration)
		if err != nil {
			return err
		}
		for _, rs := range registered {
			sets = append(sets, rs.Index)
		}
		if len(sets) == 0 {
			return fmt.Errorf("%w for calibration %q", calib.ErrNoSets, opts.Calibration)
		}
	}

	src := opts.Source
	if src == nil {
		dir := opts.DataDir
		if dir == "" {
			dir = cfg.GetDataDir()
		}
		src = source.NewRunSetSource(dir, cfg.GetFilePattern(), opts.Calibration, sets, db)
	}

	env := calib.Env{Config: cfg, Store: db, Source: src, Calibration: opts.Calibration}
	m, err := calib.New(opts.Profile, env)
	if err != nil {
		return err
	}

	reviewer, err := newReviewer(opts, cfg)
	if err != nil {
		return err
	}

	r := &calib.Runner{
		Module:   m,
		Sets:     sets,
		Reviewer: reviewer,
		Sink:     monitoring.NewReportSink(opts.Report),
		Format:   formatReport,
		DryRun:   opts.DryRun,
	}

	var plotter *plots.ElementPlotter
	if opts.PlotDir != "" {
		plotter = plots.NewElementPlotter(opts.Profile)
		if err := plotter.Start(plots.MakeOutputDir(opts.PlotDir, opts.Profile)); err != nil {
			return err
		}
		r.Plotter = plotter
	}

	passID, err := db.StartPass(opts.Calibration, opts.Profile, sets)
	if err != nil {
		return err
	}

	runErr := r.Run(ctx)
	status := passStatus(runErr, opts.DryRun)
	if err := db.FinishPass(passID, status, m.Elements()); err != nil {
		monitoring.Logf("failed to record pass %s: %v", passID, err)
	}
	if runErr != nil {
		return runErr
	}

	if plotter != nil {
		plotter.Stop()
		n, err := plotter.GeneratePlots()
		if err != nil {
			return fmt.Errorf("generate plots: %w", err)
		}
		monitoring.Logf("wrote %d plots to %s", n, plotter.GetOutputDir())
	}
	if opts.HTMLPath != "" {
		if err := writeOverview(opts.HTMLPath, opts.Profile, m); err != nil {
			return err
		}
	}
	return nil
}

func passStatus(err error, dryRun bool) string {
	switch {
	case errors.Is(err, context.Canceled):
		return statusCancelled
	case err != nil:
		return statusFailed
	case dryRun:
		return statusDryRun
	default:
		return statusDone
	}
}

func newReviewer(opts runOptions, cfg *config.Config) (calib.Reviewer, error) {
	switch opts.Review {
	case "", "auto":
		return calib.AutoReviewer{Delay: cfg.GetReviewDelay(opts.Profile)}, nil
	case "terminal":
		in := opts.In
		if in == nil {
			in = os.Stdin
		}
		return calib.NewTerminalReviewer(in, os.Stderr, opts.ReviewTimeout), nil
	default:
		return nil, fmt.Errorf("unknown review mode %q (want auto or terminal)", opts.Review)
	}
}

func writeOverview(path, profile string, m calib.Module) error {
	inspect, ok := m.(calib.Inspectable)
	if !ok {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := plots.WriteOverviewHTML(f, profile, inspect.Overview()...); err != nil {
		return err
	}
	return f.Close()
}

var (
	flagWarn = color.New(color.FgYellow).SprintFunc()
	flagBad  = color.New(color.Bold, color.FgRed).SprintFunc()
	flagHole = color.New(color.Faint).SprintFunc()
)

// formatReport colours the report flags. Colour is disabled automatically
// when stdout is not a terminal.
func formatReport(r calib.Report) string {
	var b strings.Builder
	b.WriteString(r.Text)
	if r.Unchanged {
		b.WriteString(flagWarn(calib.FlagUnchanged))
	}
	if r.NoCorrection {
		b.WriteString(flagWarn(calib.FlagNoCorrection))
	}
	if r.Rejected {
		b.WriteString(flagBad(calib.FlagRejected))
	}
	if r.Hole {
		b.WriteString(flagHole(calib.FlagHole))
	}
	return b.String()
}

// parseSets parses a comma separated list of set indices and inclusive
// ranges, e.g. "0,2-4". The result is sorted and free of duplicates.
func parseSets(s string) ([]int, error) {
	seen := make(map[int]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi := part, part
		if i := strings.Index(part, "-"); i > 0 {
			lo, hi = part[:i], part[i+1:]
		}
		a, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, fmt.Errorf("invalid set %q", part)
		}
		b, err := strconv.Atoi(strings.TrimSpace(hi))
		if err != nil {
			return nil, fmt.Errorf("invalid set %q", part)
		}
		if a < 0 || b < a {
			return nil, fmt.Errorf("invalid set range %q", part)
		}
		for i := a; i <= b; i++ {
			seen[i] = true
		}
	}
	if len(seen) == 0 {
		return nil, fmt.Errorf("no sets in %q", s)
	}
	sets := make([]int, 0, len(seen))
	for i := range seen {
		sets = append(sets, i)
	}
	sort.Ints(sets)
	return sets, nil
}
