// Package sqlitestore keeps objects and keyed state blobs in a single SQLite
// database file.
package sqlitestore

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"xdao.co/keycircle/digest"
	"xdao.co/keycircle/item"
	"xdao.co/keycircle/storage"
	"xdao.co/keycircle/storage/registry"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - objects and state tables
const currentSchemaVersion = 1

func init() {
	registry.MustRegister(registry.Backend{
		Name:        "sqlite",
		Description: "SQLite object and state store (single file)",
		Usage:       registry.UsageCLI | registry.UsageDaemon,
		Open: func(settings map[string]string) (storage.ObjectStore, func() error, error) {
			path := settings["path"]
			if path == "" {
				return nil, nil, fmt.Errorf("sqlite: missing \"path\" setting")
			}
			s, err := Open(path)
			if err != nil {
				return nil, nil, err
			}
			return s, s.Close, nil
		},
	})
}

// Store is an SQLite-backed object and state store.
type Store struct {
	db *sql.DB
}

var (
	_ storage.ObjectStore = (*Store)(nil)
	_ storage.Lister      = (*Store)(nil)
	_ storage.StateStore  = (*Store)(nil)
)

// Open creates or opens a database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: connect: %w", err)
	}

	// SQLite has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Put(obj item.Object) (digest.Digest, error) {
	if obj.IsZero() {
		return digest.Digest{}, storage.ErrInvalidDigest
	}
	der, err := obj.Encode()
	if err != nil {
		return digest.Digest{}, err
	}
	d := obj.Digest()

	res, err := s.db.Exec(`INSERT OR IGNORE INTO objects (digest, der) VALUES (?, ?)`, d.Bytes(), der)
	if err != nil {
		return digest.Digest{}, fmt.Errorf("sqlite: insert object: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return d, nil
	}

	var existing []byte
	if err := s.db.QueryRow(`SELECT der FROM objects WHERE digest = ?`, d.Bytes()).Scan(&existing); err != nil {
		return digest.Digest{}, fmt.Errorf("sqlite: read object: %w", err)
	}
	if !storage.SameContent(existing, der, d) {
		return digest.Digest{}, storage.ErrImmutable
	}
	return d, nil
}

func (s *Store) Get(d digest.Digest) (item.Object, error) {
	if !d.Defined() {
		return item.Object{}, storage.ErrInvalidDigest
	}
	var der []byte
	err := s.db.QueryRow(`SELECT der FROM objects WHERE digest = ?`, d.Bytes()).Scan(&der)
	if errors.Is(err, sql.ErrNoRows) {
		return item.Object{}, storage.ErrNotFound
	}
	if err != nil {
		return item.Object{}, fmt.Errorf("sqlite: read object: %w", err)
	}
	obj, err := item.Decode(der)
	if err != nil {
		return item.Object{}, fmt.Errorf("%w: %v", storage.ErrDigestMismatch, err)
	}
	if obj.Digest() != d {
		return item.Object{}, storage.ErrDigestMismatch
	}
	return obj, nil
}

func (s *Store) Has(d digest.Digest) bool {
	if !d.Defined() {
		return false
	}
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM objects WHERE digest = ?`, d.Bytes()).Scan(&one)
	return err == nil
}

// Digests returns every stored digest in ascending order.
func (s *Store) Digests() ([]digest.Digest, error) {
	rows, err := s.db.Query(`SELECT digest FROM objects ORDER BY digest`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list objects: %w", err)
	}
	defer rows.Close()

	var out []digest.Digest
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		d, err := digest.FromBytes(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// PutState stores blob under key. A nil blob deletes the key.
func (s *Store) PutState(key string, blob []byte) error {
	if blob == nil {
		_, err := s.db.Exec(`DELETE FROM state WHERE key = ?`, key)
		return err
	}
	_, err := s.db.Exec(`INSERT INTO state (key, blob) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET blob = excluded.blob`, key, blob)
	return err
}

func (s *Store) LoadStates() (map[string][]byte, error) {
	rows, err := s.db.Query(`SELECT key, blob FROM state`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list state: %w", err)
	}
	defer rows.Close()

	out := map[string][]byte{}
	for rows.Next() {
		var (
			k string
			b []byte
		)
		if err := rows.Scan(&k, &b); err != nil {
			return nil, err
		}
		out[k] = b
	}
	return out, rows.Err()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("sqlite: %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("sqlite: apply schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("sqlite: set user_version: %w", err)
	}
	return nil
}
