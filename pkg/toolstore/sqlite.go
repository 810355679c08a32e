package toolstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/harun/toolns/pkg/registry"
	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS tools (
		id TEXT NOT NULL UNIQUE,
		namespace TEXT NOT NULL,
		user_name TEXT NOT NULL,
		package TEXT NOT NULL,
		name TEXT NOT NULL,
		version TEXT NOT NULL,
		description TEXT NOT NULL,
		script TEXT NOT NULL,
		parameters TEXT NOT NULL,
		checksum TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (namespace, user_name, package, name, version)
	);
`

// SQLiteStore keeps tools in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite store requires a path")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context) ([]registry.Definition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, namespace, user_name, package, name, version,
		       description, script, parameters, checksum, created_at
		FROM tools
		ORDER BY user_name, package, name, version`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tools: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r       Record
			params  string
			created int64
		)
		if err := rows.Scan(&r.ID, &r.Namespace, &r.User, &r.Package, &r.Name, &r.Version,
			&r.Description, &r.Script, &params, &r.Checksum, &created); err != nil {
			return nil, fmt.Errorf("failed to scan tool: %w", err)
		}
		if err := json.Unmarshal([]byte(params), &r.Parameters); err != nil {
			return nil, fmt.Errorf("tool %s: bad parameters: %w", r.key(), err)
		}
		if created != 0 {
			r.CreatedAt = time.Unix(0, created).UTC()
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read tools: %w", err)
	}

	return definitions(records)
}

// Save implements Store. The table is replaced in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, defs []registry.Definition) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM tools"); err != nil {
		return fmt.Errorf("failed to clear tools: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tools (id, namespace, user_name, package, name, version,
		                   description, script, parameters, checksum, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, def := range defs {
		r := NewRecord(def)
		params := r.Parameters
		if params == nil {
			params = []registry.ParameterSpec{}
		}
		paramsJSON, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("tool %s: %w", r.key(), err)
		}
		var created int64
		if !r.CreatedAt.IsZero() {
			created = r.CreatedAt.UnixNano()
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.Namespace, r.User, r.Package, r.Name, r.Version,
			r.Description, r.Script, string(paramsJSON), r.Checksum, created); err != nil {
			return fmt.Errorf("failed to insert tool %s: %w", r.key(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit tools: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
