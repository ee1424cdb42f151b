package credstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const credentialsSchema = `
CREATE TABLE IF NOT EXISTS credentials (
	namespace TEXT PRIMARY KEY,
	token TEXT NOT NULL,
	user_json TEXT,
	updated_at TEXT NOT NULL
);
`

const (
	namespaceCanonical = "canonical"
	namespaceLegacy    = "legacy"
)

// SQLiteStore persists credentials in a SQLite database. Both the canonical
// and the legacy namespace are stored as rows in one table; reads prefer the
// canonical row and fall back to the legacy one.
type SQLiteStore struct {
	db    *sql.DB
	owned bool
}

// NewSQLiteStore opens (or creates) a SQLite database at path and prepares
// the credentials schema. Close releases the connection.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("credstore: sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("credstore: opening sqlite db: %w", err)
	}
	store, err := NewSQLiteStoreFromDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	store.owned = true
	return store, nil
}

// NewSQLiteStoreFromDB wraps an existing database connection. The caller
// retains ownership of db.
func NewSQLiteStoreFromDB(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("credstore: db is nil")
	}
	if _, err := db.Exec(credentialsSchema); err != nil {
		return nil, fmt.Errorf("credstore: creating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database if this store opened it.
func (s *SQLiteStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

// Read returns the stored credentials, preferring the canonical namespace.
// A row whose stored JSON no longer parses is skipped rather than surfaced
// as an error.
func (s *SQLiteStore) Read() (Credentials, bool, error) {
	for _, ns := range []string{namespaceCanonical, namespaceLegacy} {
		row := s.db.QueryRow(`
SELECT token, user_json
FROM credentials
WHERE namespace = ?`, ns)

		var token string
		var userJSON sql.NullString
		if err := row.Scan(&token, &userJSON); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return Credentials{}, false, fmt.Errorf("credstore: reading %s row: %w", ns, err)
		}
		if token == "" {
			continue
		}
		creds, ok := decodeUser(token, json.RawMessage(userJSON.String))
		if ok {
			return creds, true, nil
		}
	}
	return Credentials{}, false, nil
}

// Write upserts the canonical row. Token and user land in one statement so
// a partial pair can never be observed.
func (s *SQLiteStore) Write(creds Credentials) error {
	userJSON, err := json.Marshal(creds.User)
	if err != nil {
		return fmt.Errorf("credstore: encoding user: %w", err)
	}

	_, err = s.db.Exec(`
INSERT INTO credentials (namespace, token, user_json, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(namespace) DO UPDATE SET
	token = excluded.token,
	user_json = excluded.user_json,
	updated_at = excluded.updated_at`,
		namespaceCanonical,
		creds.Token,
		string(userJSON),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("credstore: writing credentials: %w", err)
	}
	return nil
}

// Clear removes every namespace row.
func (s *SQLiteStore) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM credentials`); err != nil {
		return fmt.Errorf("credstore: clearing credentials: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)
