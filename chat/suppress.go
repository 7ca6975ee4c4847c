package chat

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
)

// DefaultSuppressedNotices are the notice msg-ids hidden out of the box.
// They all announce room-state toggles that already surface through the
// RoomState snapshot, so showing them as chat lines is redundant.
func DefaultSuppressedNotices() []string {
	return []string{
		"emote_only_on", "emote_only_off",
		"followers_on", "followers_off", "followers_on_zero",
		"subs_on", "subs_off",
		"r9k_on", "r9k_off",
		"slow_on", "slow_off",
	}
}

// SuppressionStore is the persisted set of notice msg-ids the user has
// chosen to hide. The Session consults it on every notice; the settings
// surface replaces it. Reads are lock-cheap because the hot path is the
// read loop.
type SuppressionStore struct {
	db *sql.DB

	mu  sync.RWMutex
	ids map[string]bool
}

// NewSuppressionStore returns a store backed by db. Call Load before use.
// A nil db yields an in-memory store seeded with the defaults, used by
// tests and by sessions running without persistence.
func NewSuppressionStore(db *sql.DB) *SuppressionStore {
	s := &SuppressionStore{db: db, ids: make(map[string]bool)}
	for _, id := range DefaultSuppressedNotices() {
		s.ids[id] = true
	}
	return s
}

// Load reads the persisted set, seeding the defaults on first run so the
// database is the single source of truth afterwards.
func (s *SuppressionStore) Load(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT msg_id FROM suppressed_notices`)
	if err != nil {
		return fmt.Errorf("load suppressed notices: %w", err)
	}
	defer rows.Close()
	loaded := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("scan suppressed notice: %w", err)
		}
		loaded[id] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(loaded) == 0 {
		return s.Replace(ctx, DefaultSuppressedNotices())
	}
	s.mu.Lock()
	s.ids = loaded
	s.mu.Unlock()
	return nil
}

// Suppressed reports whether a notice msg-id is hidden.
func (s *SuppressionStore) Suppressed(msgID string) bool {
	if msgID == "" {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ids[msgID]
}

// List returns the current set sorted for stable output.
func (s *SuppressionStore) List() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Replace swaps the whole set and persists it in one transaction. The set
// is replaced wholesale, not merged, because the settings surface always
// sends the complete desired state.
func (s *SuppressionStore) Replace(ctx context.Context, ids []string) error {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id != "" {
			set[id] = true
		}
	}
	if s.db != nil {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin suppression tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		if _, err := tx.ExecContext(ctx, `DELETE FROM suppressed_notices`); err != nil {
			return fmt.Errorf("clear suppressed notices: %w", err)
		}
		for id := range set {
			if _, err := tx.ExecContext(ctx, `INSERT INTO suppressed_notices (msg_id) VALUES ($1)`, id); err != nil {
				return fmt.Errorf("insert suppressed notice %s: %w", id, err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit suppression tx: %w", err)
		}
	}
	s.mu.Lock()
	s.ids = set
	s.mu.Unlock()
	return nil
}
