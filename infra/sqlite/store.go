// Package sqlite persists the node identity and learned gossip addresses.
// Everything stored here can be rebuilt: losing the file only costs a new
// node id and a slower peer rediscovery.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS node_identity (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS peer_addresses (
	peer_id TEXT PRIMARY KEY,
	addr TEXT NOT NULL,
	learned_at TEXT NOT NULL
)`

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set state db journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set state db busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize state schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// NodeID returns the persisted node id, generating and storing one on first
// use.
func (s *Store) NodeID(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM node_identity WHERE key = 'node_id'`).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("read node id: %w", err)
	}

	id = uuid.NewString()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO node_identity (key, value) VALUES ('node_id', ?) ON CONFLICT(key) DO NOTHING`, id); err != nil {
		return "", fmt.Errorf("store node id: %w", err)
	}
	// Re-read in case a concurrent writer won.
	if err := s.db.QueryRowContext(ctx, `SELECT value FROM node_identity WHERE key = 'node_id'`).Scan(&id); err != nil {
		return "", fmt.Errorf("read node id: %w", err)
	}
	return id, nil
}

// Addresses returns every learned gossip address.
func (s *Store) Addresses(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT addr FROM peer_addresses ORDER BY addr`)
	if err != nil {
		return nil, fmt.Errorf("list peer addresses: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("scan peer address row: %w", err)
		}
		out = append(out, addr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate peer address rows: %w", err)
	}
	return out, nil
}

// Learn records addr as the gossip address of peerID.
func (s *Store) Learn(ctx context.Context, peerID, addr string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO peer_addresses (peer_id, addr, learned_at) VALUES (?, ?, ?)
ON CONFLICT(peer_id) DO UPDATE SET addr = excluded.addr, learned_at = excluded.learned_at`,
		peerID, addr, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save peer address %s: %w", peerID, err)
	}
	return nil
}

// Forget drops the learned address of peerID.
func (s *Store) Forget(ctx context.Context, peerID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM peer_addresses WHERE peer_id = ?`, peerID); err != nil {
		return fmt.Errorf("delete peer address %s: %w", peerID, err)
	}
	return nil
}
