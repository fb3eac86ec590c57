package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/calib/internal/monitoring"
)

// DB is the SQLite parameter database.
type DB struct {
	*sql.DB
}

// Open opens the database at path and applies all pending migrations.
func Open(path string) (*DB, error) {
	db, err := OpenNoMigrate(path)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// OpenNoMigrate opens the database without touching the schema. The migrate
// subcommand uses it so that it controls the schema version itself.
func OpenNoMigrate(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return &DB{db}, nil
}

// ReadParameters implements ParameterStore.
func (db *DB) ReadParameters(kind DataKind, calibration string, set int, n int) ([]float64, error) {
	rows, err := db.Query(`
		SELECT element, value FROM parameters
		WHERE kind = ? AND calibration = ? AND set_index = ?
		ORDER BY element`, string(kind), calibration, set)
	if err != nil {
		return nil, fmt.Errorf("query %s parameters: %w", kind, err)
	}
	defer rows.Close()

	out := make([]float64, n)
	found := false
	for rows.Next() {
		var (
			elem  int
			value float64
		)
		if err := rows.Scan(&elem, &value); err != nil {
			return nil, fmt.Errorf("scan %s parameter: %w", kind, err)
		}
		found = true
		if elem >= 0 && elem < n {
			out[elem] = value
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNoParameters
	}
	return out, nil
}

// WriteParameters implements ParameterStore. The whole array replaces the
// stored one in a single transaction.
func (db *DB) WriteParameters(kind DataKind, calibration string, set int, vals []float64) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin %s write: %w", kind, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM parameters WHERE kind = ? AND calibration = ? AND set_index = ?`,
		string(kind), calibration, set); err != nil {
		return fmt.Errorf("clear %s parameters: %w", kind, err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO parameters (kind, calibration, set_index, element, value, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare %s insert: %w", kind, err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for i, v := range vals {
		if _, err := stmt.Exec(string(kind), calibration, set, i, v, now); err != nil {
			return fmt.Errorf("insert %s[%d]: %w", kind, i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s write: %w", kind, err)
	}
	return nil
}

// AddRunSet registers the runs of a set.
func (db *DB) AddRunSet(calibration string, rs RunSet) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, run := range rs.Runs {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO run_sets (calibration, set_index, run) VALUES (?, ?, ?)`,
			calibration, rs.Index, run); err != nil {
			return fmt.Errorf("insert run %d into set %d: %w", run, rs.Index, err)
		}
	}
	return tx.Commit()
}

// Runs implements RunLister.
func (db *DB) Runs(calibration string, set int) ([]int, error) {
	rows, err := db.Query(`SELECT run FROM run_sets WHERE calibration = ? AND set_index = ? ORDER BY run`,
		calibration, set)
	if err != nil {
		return nil, fmt.Errorf("query runs of set %d: %w", set, err)
	}
	defer rows.Close()

	var runs []int
	for rows.Next() {
		var run int
		if err := rows.Scan(&run); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RunSets returns every registered set of a calibration ordered by index.
func (db *DB) RunSets(calibration string) ([]RunSet, error) {
	rows, err := db.Query(`SELECT set_index, run FROM run_sets WHERE calibration = ? ORDER BY set_index, run`,
		calibration)
	if err != nil {
		return nil, fmt.Errorf("query run sets: %w", err)
	}
	defer rows.Close()

	var sets []RunSet
	for rows.Next() {
		var idx, run int
		if err := rows.Scan(&idx, &run); err != nil {
			return nil, err
		}
		if len(sets) == 0 || sets[len(sets)-1].Index != idx {
			sets = append(sets, RunSet{Index: idx})
		}
		sets[len(sets)-1].Runs = append(sets[len(sets)-1].Runs, run)
	}
	return sets, rows.Err()
}

// Pass records the provenance of one calibration pass.
type Pass struct {
	ID          string
	Calibration string
	Profile     string
	Sets        []int
	InputDigest string
	Status      string
	Elements    int
	StartedAt   time.Time
	FinishedAt  *time.Time
}

// InputDigest hashes the profile name and the runs of every set into a
// stable hex digest.
func InputDigest(profile string, runs map[int][]int) string {
	d := xxhash.New()
	d.WriteString(profile)
	sets := make([]int, 0, len(runs))
	for s := range runs {
		sets = append(sets, s)
	}
	sort.Ints(sets)
	for _, s := range sets {
		fmt.Fprintf(d, "|%d:", s)
		for _, r := range runs[s] {
			fmt.Fprintf(d, "%d,", r)
		}
	}
	return strconv.FormatUint(d.Sum64(), 16)
}

// StartPass records the start of a calibration pass and returns its id.
func (db *DB) StartPass(calibration, profile string, sets []int) (string, error) {
	runs := make(map[int][]int, len(sets))
	for _, s := range sets {
		r, err := db.Runs(calibration, s)
		if err != nil {
			return "", err
		}
		runs[s] = r
	}

	id := uuid.New().String()
	_, err := db.Exec(`
		INSERT INTO calibration_passes (pass_id, calibration, profile, sets, input_digest, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, calibration, profile, joinInts(sets), InputDigest(profile, runs), time.Now().UnixNano())
	if err != nil {
		return "", fmt.Errorf("insert calibration pass: %w", err)
	}
	monitoring.Logf("started calibration pass %s (%s, sets %v)", id, profile, sets)
	return id, nil
}

// FinishPass marks a pass as finished with the given status.
func (db *DB) FinishPass(id, status string, elements int) error {
	res, err := db.Exec(`
		UPDATE calibration_passes SET status = ?, elements = ?, finished_at = ?
		WHERE pass_id = ?`, status, elements, time.Now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("update calibration pass %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("calibration pass %s: %w", id, sql.ErrNoRows)
	}
	return nil
}

// Passes lists the passes of a calibration, newest first.
func (db *DB) Passes(calibration string) ([]Pass, error) {
	rows, err := db.Query(`
		SELECT pass_id, calibration, profile, sets, input_digest, status, elements, started_at, finished_at
		FROM calibration_passes
		WHERE calibration = ?
		ORDER BY started_at DESC`, calibration)
	if err != nil {
		return nil, fmt.Errorf("query calibration passes: %w", err)
	}
	defer rows.Close()

	var passes []Pass
	for rows.Next() {
		var (
			p        Pass
			sets     string
			started  int64
			finished sql.NullInt64
		)
		if err := rows.Scan(&p.ID, &p.Calibration, &p.Profile, &sets, &p.InputDigest,
			&p.Status, &p.Elements, &started, &finished); err != nil {
			return nil, err
		}
		p.Sets, err = splitInts(sets)
		if err != nil {
			return nil, fmt.Errorf("pass %s: %w", p.ID, err)
		}
		p.StartedAt = time.Unix(0, started)
		if finished.Valid {
			t := time.Unix(0, finished.Int64)
			p.FinishedAt = &t
		}
		passes = append(passes, p)
	}
	return passes, rows.Err()
}

func joinInts(vals []int) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func splitInts(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	var out []int
	for _, f := range strings.Split(s, ",") {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, errors.New("malformed set list " + strconv.Quote(s))
		}
		out = append(out, v)
	}
	return out, nil
}
