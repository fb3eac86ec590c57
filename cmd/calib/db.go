package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/calib/internal/calib"
	"github.com/banshee-data/calib/internal/config"
	"github.com/banshee-data/calib/internal/store"
)

// stdout and stdin are replaced in tests.
var (
	stdout io.Writer = os.Stdout
	stdin  io.Reader = os.Stdin
)

// migrateCommand handles the 'migrate' subcommand dispatching.
func migrateCommand(args []string) error {
	fs := newFlagSet("migrate")
	dbPath := fs.String("db", defaultDBPath, "parameter database")
	fs.Usage = printMigrateHelp
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		printMigrateHelp()
		return errors.New("missing migrate action")
	}

	// The schema is managed by the actions below, so no implicit migration.
	db, err := store.OpenNoMigrate(*dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	action := fs.Arg(0)
	switch action {
	case "up":
		log.Printf("Running migrations...")
		if err := db.MigrateUp(); err != nil {
			return err
		}
		log.Println("All migrations applied successfully")
		return printMigrateVersion(db)

	case "down":
		log.Printf("Rolling back one migration...")
		if err := db.MigrateDown(); err != nil {
			return err
		}
		log.Println("Migration rolled back successfully")
		return printMigrateVersion(db)

	case "version", "status":
		return printMigrateVersion(db)

	case "force":
		if fs.NArg() < 2 {
			return errors.New("usage: calib migrate force <version_number>")
		}
		v, err := strconv.Atoi(fs.Arg(1))
		if err != nil {
			return fmt.Errorf("invalid version number: %s", fs.Arg(1))
		}
		return forceMigration(db, v)

	case "help":
		printMigrateHelp()
		return nil

	default:
		printMigrateHelp()
		return fmt.Errorf("unknown migrate action: %s", action)
	}
}

func printMigrateVersion(db *store.DB) error {
	version, dirty, err := db.MigrateVersion()
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}
	fmt.Fprintf(stdout, "Current version: %d (dirty: %v)\n", version, dirty)
	if dirty {
		fmt.Fprintln(stdout, "WARNING: a migration failed mid-execution; inspect the database and run: calib migrate force <version>")
	}
	return nil
}

// forceMigration forces the migration version (recovery only).
func forceMigration(db *store.DB, version int) error {
	fmt.Fprintf(stdout, "WARNING: Forcing migration version to %d\n", version)
	fmt.Fprintln(stdout, "This should only be used to recover from a dirty migration state.")
	fmt.Fprint(stdout, "Continue? [y/N]: ")

	response, _ := bufio.NewReader(stdin).ReadString('\n')
	response = strings.TrimSpace(response)
	if response != "y" && response != "Y" {
		log.Println("Aborted")
		return nil
	}
	if err := db.MigrateForce(version); err != nil {
		return err
	}
	log.Printf("Migration version forced to %d", version)
	return nil
}

func printMigrateHelp() {
	fmt.Fprint(os.Stderr, `Usage: calib migrate [-db path] <action>

Actions:
  up                 apply all pending migrations
  down               roll back the most recent migration
  version            show the current schema version
  force <version>    set the schema version without migrating (recovery only)
`)
}

// printCommand prints the stored constants of one data kind and set.
func printCommand(args []string) error {
	fs := newFlagSet("print")
	var (
		dbPath      = fs.String("db", defaultDBPath, "parameter database")
		configPath  = fs.String("config", config.DefaultConfigPath, "calibration configuration, used for element counts")
		calibration = fs.String("calibration", "", "calibration identifier (required)")
		kind        = fs.String("kind", "", "data kind, e.g. cb.t0 (required)")
		set         = fs.Int("set", 0, "run-set index")
		n           = fs.Int("n", 0, "number of elements (default: from the profile writing the kind)")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *calibration == "" || *kind == "" {
		return errors.New("-calibration and -kind are required")
	}

	count := *n
	if count <= 0 {
		cfg, err := config.Load(*configPath)
		if err != nil {
			cfg = config.New(nil)
		}
		if count = elementsForKind(cfg, store.DataKind(*kind)); count <= 0 {
			return fmt.Errorf("no profile writes %q; pass -n", *kind)
		}
	}

	db, err := store.Open(*dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	vals, err := db.ReadParameters(store.DataKind(*kind), *calibration, *set, count)
	if err != nil {
		return fmt.Errorf("%s set %d: %w", *kind, *set, err)
	}
	for i, v := range vals {
		fmt.Fprintf(stdout, "%03d  %14.8f\n", i, v)
	}
	return nil
}

// elementsForKind returns the element count of the first profile writing
// kind. Single-value kinds report one element.
func elementsForKind(cfg *config.Config, kind store.DataKind) int {
	for _, p := range calib.Profiles() {
		for _, d := range p.Data {
			if d != kind {
				continue
			}
			if p.Elements == 0 {
				return 1
			}
			return cfg.GetElements(p.Name, p.Elements)
		}
	}
	return 0
}

// runSetsCommand lists or registers run-sets.
func runSetsCommand(args []string) error {
	fs := newFlagSet("runsets")
	var (
		dbPath      = fs.String("db", defaultDBPath, "parameter database")
		calibration = fs.String("calibration", "", "calibration identifier (required)")
	)
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: calib runsets [options] list | add <set> <run>...")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *calibration == "" {
		return errors.New("-calibration is required")
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return errors.New("missing runsets action")
	}

	db, err := store.Open(*dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	switch fs.Arg(0) {
	case "list":
		sets, err := db.RunSets(*calibration)
		if err != nil {
			return err
		}
		for _, rs := range sets {
			fmt.Fprintf(stdout, "set %d: %d runs %v\n", rs.Index, len(rs.Runs), rs.Runs)
		}
		return nil

	case "add":
		if fs.NArg() < 3 {
			return errors.New("usage: calib runsets add <set> <run>...")
		}
		idx, err := strconv.Atoi(fs.Arg(1))
		if err != nil || idx < 0 {
			return fmt.Errorf("invalid set index %q", fs.Arg(1))
		}
		rs := store.RunSet{Index: idx}
		for _, a := range fs.Args()[2:] {
			run, err := strconv.Atoi(a)
			if err != nil {
				return fmt.Errorf("invalid run number %q", a)
			}
			rs.Runs = append(rs.Runs, run)
		}
		if err := db.AddRunSet(*calibration, rs); err != nil {
			return err
		}
		log.Printf("added %d runs to set %d of %s", len(rs.Runs), idx, *calibration)
		return nil

	default:
		fs.Usage()
		return fmt.Errorf("unknown runsets action: %s", fs.Arg(0))
	}
}

// passesCommand lists the recorded calibration passes, newest first.
func passesCommand(args []string) error {
	fs := newFlagSet("passes")
	var (
		dbPath      = fs.String("db", defaultDBPath, "parameter database")
		calibration = fs.String("calibration", "", "calibration identifier (required)")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *calibration == "" {
		return errors.New("-calibration is required")
	}

	db, err := store.Open(*dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	passes, err := db.Passes(*calibration)
	if err != nil {
		return err
	}
	for _, p := range passes {
		finished := "-"
		if p.FinishedAt != nil {
			finished = p.FinishedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(stdout, "%s  %-18s %-10s sets %v  elements %d  digest %s  started %s  finished %s\n",
			p.ID, p.Profile, p.Status, p.Sets, p.Elements, p.InputDigest,
			p.StartedAt.Format(time.RFC3339), finished)
	}
	return nil
}
