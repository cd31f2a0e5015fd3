// Package store caches extracted endmember libraries, the class code
// mapping, and unmix run history in SQLite, so expensive extraction
// runs are not repeated and inference runs are auditable.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver registration

	"spectral-unmix/unmix"
	"spectral-unmix/utils"
)

type SQLiteClient struct {
	db *sql.DB
}

// RunRecord is one unmix invocation.
type RunRecord struct {
	ID        string
	Granule   string
	MaskURL   string
	Output    string
	ChunkRows int
	ChunkCols int
	Workers   int
	Status    string
	Reason    string
	StartedAt time.Time
	Duration  time.Duration
}

func NewSQLiteClient(dataSourceName string) (*SQLiteClient, error) {
	// Extract the file path before query parameters
	dbPath := dataSourceName
	if idx := strings.Index(dataSourceName, "?"); idx != -1 {
		dbPath = dataSourceName[:idx]
	}

	if dbDir := filepath.Dir(dbPath); dbDir != "." && dbDir != "" && dbPath != ":memory:" {
		if err := utils.CreateFolder(dbDir); err != nil {
			return nil, fmt.Errorf("error creating database directory: %s", err)
		}
	}

	// Add busy timeout param to DSN (milliseconds)
	if !strings.Contains(dataSourceName, "_busy_timeout") {
		if strings.Contains(dataSourceName, "?") {
			dataSourceName += "&_busy_timeout=5000"
		} else {
			dataSourceName += "?_busy_timeout=5000"
		}
	}

	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("error connecting to SQLite: %s", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("error creating tables: %s", err)
	}

	return &SQLiteClient{db: db}, nil
}

func createTables(db *sql.DB) error {
	createEndmembersTable := `
    CREATE TABLE IF NOT EXISTS endmembers (
        granule TEXT NOT NULL,
        point_id TEXT NOT NULL,
        class TEXT NOT NULL,
        spectrum TEXT NOT NULL,
        PRIMARY KEY (granule, point_id)
    );
    `

	createClassCodesTable := `
    CREATE TABLE IF NOT EXISTS class_codes (
        class TEXT NOT NULL UNIQUE,
        code INTEGER NOT NULL UNIQUE
    );
    `

	createRunsTable := `
    CREATE TABLE IF NOT EXISTS runs (
        id TEXT PRIMARY KEY,
        granule TEXT NOT NULL,
        mask_url TEXT,
        output TEXT,
        chunk_rows INTEGER,
        chunk_cols INTEGER,
        workers INTEGER,
        status TEXT NOT NULL,
        reason TEXT,
        started_at TIMESTAMP NOT NULL,
        duration_ms INTEGER
    );
    `

	for _, stmt := range []string{createEndmembersTable, createClassCodesTable, createRunsTable} {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (c *SQLiteClient) Close() error {
	return c.db.Close()
}

// SaveEndmembers upserts a granule's extracted spectral library.
func (c *SQLiteClient) SaveEndmembers(granule string, rows []unmix.Endmember) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("error starting transaction: %s", err)
	}
	stmt, err := tx.Prepare(`
        INSERT OR REPLACE INTO endmembers (granule, point_id, class, spectrum)
        VALUES (?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("error preparing statement: %s", err)
	}
	defer stmt.Close()

	for _, em := range rows {
		spectrum, err := json.Marshal(em.Spectrum)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("error marshaling spectrum for %s: %s", em.ID, err)
		}
		if _, err := stmt.Exec(granule, em.ID, em.Class, string(spectrum)); err != nil {
			tx.Rollback()
			return fmt.Errorf("error inserting endmember %s: %s", em.ID, err)
		}
	}
	return tx.Commit()
}

// LoadEndmembers returns the cached library. An empty granule loads
// rows from every granule.
func (c *SQLiteClient) LoadEndmembers(granule string) ([]unmix.Endmember, error) {
	query := "SELECT point_id, class, spectrum FROM endmembers"
	args := []interface{}{}
	if granule != "" {
		query += " WHERE granule = ?"
		args = append(args, granule)
	}
	query += " ORDER BY point_id"

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying endmembers: %s", err)
	}
	defer rows.Close()

	var out []unmix.Endmember
	for rows.Next() {
		var em unmix.Endmember
		var spectrum string
		if err := rows.Scan(&em.ID, &em.Class, &spectrum); err != nil {
			return nil, fmt.Errorf("error scanning endmember: %s", err)
		}
		if err := json.Unmarshal([]byte(spectrum), &em.Spectrum); err != nil {
			return nil, fmt.Errorf("error unmarshaling spectrum for %s: %s", em.ID, err)
		}
		out = append(out, em)
	}
	return out, rows.Err()
}

// SaveClassMapping persists class->code assignments.
func (c *SQLiteClient) SaveClassMapping(m *unmix.ClassMapping) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("error starting transaction: %s", err)
	}
	if _, err := tx.Exec("DELETE FROM class_codes"); err != nil {
		tx.Rollback()
		return fmt.Errorf("error clearing class codes: %s", err)
	}
	for code, name := range m.Names() {
		if _, err := tx.Exec("INSERT INTO class_codes (class, code) VALUES (?, ?)", name, code); err != nil {
			tx.Rollback()
			return fmt.Errorf("error inserting class %s: %s", name, err)
		}
	}
	return tx.Commit()
}

// LoadClassMapping rebuilds the persisted mapping.
func (c *SQLiteClient) LoadClassMapping() (*unmix.ClassMapping, error) {
	rows, err := c.db.Query("SELECT class FROM class_codes ORDER BY code")
	if err != nil {
		return nil, fmt.Errorf("error querying class codes: %s", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("error scanning class code: %s", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no class mapping stored")
	}
	return unmix.NewClassMapping(names)
}

// RecordRun inserts or updates one run row.
func (c *SQLiteClient) RecordRun(r RunRecord) error {
	_, err := c.db.Exec(`
        INSERT OR REPLACE INTO runs
        (id, granule, mask_url, output, chunk_rows, chunk_cols, workers, status, reason, started_at, duration_ms)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Granule, r.MaskURL, r.Output, r.ChunkRows, r.ChunkCols, r.Workers,
		r.Status, r.Reason, r.StartedAt.UTC(), r.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("error recording run: %s", err)
	}
	return nil
}

// LoadRuns returns run history, most recent first.
func (c *SQLiteClient) LoadRuns(limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := c.db.Query(`
        SELECT id, granule, mask_url, output, chunk_rows, chunk_cols, workers, status, reason, started_at, duration_ms
        FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying runs: %s", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var durationMs int64
		if err := rows.Scan(&r.ID, &r.Granule, &r.MaskURL, &r.Output, &r.ChunkRows, &r.ChunkCols,
			&r.Workers, &r.Status, &r.Reason, &r.StartedAt, &durationMs); err != nil {
			return nil, fmt.Errorf("error scanning run: %s", err)
		}
		r.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}
