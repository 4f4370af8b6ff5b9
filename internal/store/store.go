// Package store provides SQLite-backed persistence for a resolver
// instance's operator-configured upstream server list and fake-reply
// fixtures. It is deliberately NOT an answer cache: nothing resolved
// over the network is written back here, only configuration an
// operator has set ahead of time (see SPEC_FULL.md's explicit
// exclusion of a response cache).
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite connection with thread-safe config reads/writes.
type Store struct {
	conn *sql.DB
	mu   sync.RWMutex
}

// Open opens or creates a SQLite database at dsn (a full DSN string,
// e.g. "file:rdnsloop.db?cache=shared") and brings its schema up to
// date.
func Open(dsn string) (*Store, error) {
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	s := &Store{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: migration source: %w", err)
	}
	dbDriver, err := sqlite.WithInstance(s.conn, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("store: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("store: migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("store: run migrations: %w", err)
	}
	return nil
}

// UpstreamServer is a persisted upstream, ordered by Priority ascending.
type UpstreamServer struct {
	ID       int64
	Address  string
	Priority int
	Enabled  bool
}

// SetUpstreamServers replaces the full upstream list atomically,
// assigning priority by slice order.
func (s *Store) SetUpstreamServers(ctx context.Context, addrs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM upstream_servers`); err != nil {
		return fmt.Errorf("store: clear upstream servers: %w", err)
	}
	for i, addr := range addrs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO upstream_servers (server_address, priority, enabled) VALUES (?, ?, 1)`,
			addr, i); err != nil {
			return fmt.Errorf("store: insert upstream server %s: %w", addr, err)
		}
	}
	return tx.Commit()
}

// UpstreamServers lists enabled upstream servers ordered by priority.
func (s *Store) UpstreamServers(ctx context.Context) ([]UpstreamServer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, server_address, priority, enabled
		FROM upstream_servers
		WHERE enabled = 1
		ORDER BY priority`)
	if err != nil {
		return nil, fmt.Errorf("store: query upstream servers: %w", err)
	}
	defer rows.Close()

	var servers []UpstreamServer
	for rows.Next() {
		var srv UpstreamServer
		if err := rows.Scan(&srv.ID, &srv.Address, &srv.Priority, &srv.Enabled); err != nil {
			return nil, fmt.Errorf("store: scan upstream server: %w", err)
		}
		servers = append(servers, srv)
	}
	return servers, rows.Err()
}

// FakeReplyRow is a persisted fixture for Resolver.SetFakeReply.
type FakeReplyRow struct {
	Name  string
	Type  uint16
	RCode uint16
}

// SetFakeReply upserts a fixture for (name, qtype).
func (s *Store) SetFakeReply(ctx context.Context, name string, qtype, rcode uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO fake_replies (name, qtype, rcode, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name, qtype) DO UPDATE SET
			rcode = excluded.rcode,
			updated_at = CURRENT_TIMESTAMP`,
		name, qtype, rcode)
	if err != nil {
		return fmt.Errorf("store: set fake reply %s/%d: %w", name, qtype, err)
	}
	return nil
}

// FakeReplies lists every persisted fixture.
func (s *Store) FakeReplies(ctx context.Context) ([]FakeReplyRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.QueryContext(ctx, `SELECT name, qtype, rcode FROM fake_replies`)
	if err != nil {
		return nil, fmt.Errorf("store: query fake replies: %w", err)
	}
	defer rows.Close()

	var out []FakeReplyRow
	for rows.Next() {
		var r FakeReplyRow
		if err := rows.Scan(&r.Name, &r.Type, &r.RCode); err != nil {
			return nil, fmt.Errorf("store: scan fake reply: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
