// Package bunstore provides a Bun ORM (PostgreSQL) implementation of
// store.Store with embedded SQL migrations.
package bunstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	"github.com/uptrace/bun"

	"github.com/xraph/accord/id"
	"github.com/xraph/accord/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// Store is a Bun ORM implementation of store.Store using PostgreSQL
// dialect. The caller owns the *bun.DB lifecycle; Store never closes it.
type Store struct {
	db     *bun.DB
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a new Bun store. The caller owns the db lifecycle — the
// Store will not close it on Close().
func New(db *bun.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying *bun.DB for advanced usage.
func (s *Store) DB() *bun.DB {
	return s.db
}

// Migrate runs all embedded SQL migration files in order.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS accord_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("accord/bun: create migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("accord/bun: read migrations: %w", err)
	}

	// Sort by filename for deterministic order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var applied bool
		err = s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM accord_migrations WHERE filename = ?)`,
			entry.Name(),
		).Scan(&applied)
		if err != nil {
			return fmt.Errorf("accord/bun: check migration %s: %w", entry.Name(), err)
		}
		if applied {
			continue
		}

		data, readErr := fs.ReadFile(migrationsFS, "migrations/"+entry.Name())
		if readErr != nil {
			return fmt.Errorf("accord/bun: read migration %s: %w", entry.Name(), readErr)
		}

		if _, execErr := s.db.ExecContext(ctx, string(data)); execErr != nil {
			return fmt.Errorf("accord/bun: execute migration %s: %w", entry.Name(), execErr)
		}

		if _, recErr := s.db.ExecContext(ctx,
			`INSERT INTO accord_migrations (filename) VALUES (?)`,
			entry.Name(),
		); recErr != nil {
			return fmt.Errorf("accord/bun: record migration %s: %w", entry.Name(), recErr)
		}

		s.logger.Info("applied migration", "file", entry.Name())
	}

	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op because the caller owns the *bun.DB lifecycle.
func (s *Store) Close() error {
	return nil
}

// ──────────────────────────────────────────────────
// Hard state
// ──────────────────────────────────────────────────

// SaveHardState upserts the node's term and vote.
func (s *Store) SaveHardState(ctx context.Context, nodeID id.NodeID, hs store.HardState) error {
	m := &hardStateModel{
		NodeID:   nodeID.String(),
		Term:     int64(hs.Term),
		VotedFor: hs.VotedFor,
	}

	_, err := s.db.NewInsert().
		Model(m).
		On("CONFLICT (node_id) DO UPDATE").
		Set("term = EXCLUDED.term").
		Set("voted_for = EXCLUDED.voted_for").
		Set("updated_at = NOW()").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("accord/bun: save hard state: %w", err)
	}
	return nil
}

// LoadHardState returns the node's persisted state.
func (s *Store) LoadHardState(ctx context.Context, nodeID id.NodeID) (store.HardState, error) {
	m := new(hardStateModel)
	err := s.db.NewSelect().
		Model(m).
		Where("node_id = ?", nodeID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return store.HardState{}, store.ErrNotFound
		}
		return store.HardState{}, fmt.Errorf("accord/bun: load hard state: %w", err)
	}
	return store.HardState{Term: uint64(m.Term), VotedFor: m.VotedFor}, nil
}

// ──────────────────────────────────────────────────
// Membership
// ──────────────────────────────────────────────────

// PutMember upserts a membership record.
func (s *Store) PutMember(ctx context.Context, member *store.Member) error {
	m := toMemberModel(member)

	_, err := s.db.NewInsert().
		Model(m).
		On("CONFLICT (node_id) DO UPDATE").
		Set("address = EXCLUDED.address").
		Set("updated_at = NOW()").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("accord/bun: put member: %w", err)
	}
	return nil
}

// RemoveMember deletes a membership record.
func (s *Store) RemoveMember(ctx context.Context, nodeID id.NodeID) error {
	_, err := s.db.NewDelete().
		Model((*memberModel)(nil)).
		Where("node_id = ?", nodeID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("accord/bun: remove member: %w", err)
	}
	return nil
}

// ListMembers returns all membership records sorted by node ID.
func (s *Store) ListMembers(ctx context.Context) ([]*store.Member, error) {
	var models []memberModel
	err := s.db.NewSelect().
		Model(&models).
		Order("node_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("accord/bun: list members: %w", err)
	}

	members := make([]*store.Member, 0, len(models))
	for i := range models {
		member, convErr := fromMemberModel(&models[i])
		if convErr != nil {
			return nil, convErr
		}
		members = append(members, member)
	}
	return members, nil
}

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
