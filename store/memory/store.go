// Package memory is an in-memory implementation of store.Store. It is safe
// for concurrent access and intended for tests and local development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/intent"
	"github.com/xraph/courier/token"
)

// Ensure Store implements both contracts at compile time. store.Store is not
// referenced to keep the test import graph small.
var (
	_ intent.Store    = (*Store)(nil)
	_ token.Directory = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithTokenFreshness sets the horizon after which unrefreshed tokens are no
// longer returned by ActiveTokensFor.
func WithTokenFreshness(d time.Duration) Option {
	return func(m *Store) { m.freshness = d }
}

// WithClock replaces the time source. Tests use it to age claims.
func WithClock(now func() time.Time) Option {
	return func(m *Store) { m.now = now }
}

// Store holds intents and tokens in maps guarded by one mutex. Holding the
// write lock across select-and-stamp is what makes ClaimBatch exclusive.
type Store struct {
	mu sync.RWMutex

	intents map[string]*intent.Intent
	tokens  map[string]*token.Token
	// byUserToken indexes tokens by user id and token value.
	byUserToken map[userToken]string

	freshness time.Duration
	now       func() time.Time
}

type userToken struct {
	userID string
	value  string
}

// New returns a new empty Store.
func New(opts ...Option) *Store {
	m := &Store{
		intents:     make(map[string]*intent.Intent),
		tokens:      make(map[string]*token.Token),
		byUserToken: make(map[userToken]string),
		freshness:   courier.DefaultConfig().TokenFreshness,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Queue
// ──────────────────────────────────────────────────

// Enqueue persists a new pending intent.
func (m *Store) Enqueue(_ context.Context, in *intent.Intent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := in.ID.String()
	if _, exists := m.intents[key]; exists {
		return courier.ErrIntentAlreadyExists
	}
	cp := in.Clone()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = m.now()
	}
	m.intents[key] = cp
	return nil
}

// ClaimBatch claims up to limit pending intents, oldest first.
func (m *Store) ClaimBatch(_ context.Context, limit int) ([]*intent.Intent, error) {
	if limit <= 0 {
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	candidates := make([]*intent.Intent, 0, len(m.intents))
	for _, in := range m.intents {
		if in.State() == intent.StatePending {
			candidates = append(candidates, in)
		}
	}

	sort.Slice(candidates, func(i, k int) bool {
		if !candidates[i].CreatedAt.Equal(candidates[k].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[k].CreatedAt)
		}
		return candidates[i].ID.String() < candidates[k].ID.String()
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	now := m.now()
	result := make([]*intent.Intent, len(candidates))
	for i, in := range candidates {
		claimed := now
		in.ClaimedAt = &claimed
		result[i] = in.Clone()
	}
	return result, nil
}

// MarkProcessed stamps processed-at on an unprocessed intent.
func (m *Store) MarkProcessed(_ context.Context, intentID id.IntentID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	in, ok := m.intents[intentID.String()]
	if !ok || in.ProcessedAt != nil {
		return false, nil
	}
	now := m.now()
	in.ProcessedAt = &now
	return true, nil
}

// ReclaimStuck returns intents claimed before now-timeout to pending.
func (m *Store) ReclaimStuck(_ context.Context, timeout time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-timeout)
	var n int64
	for _, in := range m.intents {
		if in.State() != intent.StateClaimed {
			continue
		}
		if in.ClaimedAt.Before(cutoff) {
			in.ClaimedAt = nil
			n++
		}
	}
	return n, nil
}

// PurgeProcessedOlderThan deletes processed intents past the horizon.
func (m *Store) PurgeProcessedOlderThan(_ context.Context, age time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-age)
	var n int64
	for key, in := range m.intents {
		if in.ProcessedAt != nil && in.ProcessedAt.Before(cutoff) {
			delete(m.intents, key)
			n++
		}
	}
	return n, nil
}

// Get retrieves an intent by ID.
func (m *Store) Get(_ context.Context, intentID id.IntentID) (*intent.Intent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	in, ok := m.intents[intentID.String()]
	if !ok {
		return nil, courier.ErrIntentNotFound
	}
	return in.Clone(), nil
}

// CountPending returns the number of unclaimed intents.
func (m *Store) CountPending(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, in := range m.intents {
		if in.State() == intent.StatePending {
			n++
		}
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// Token directory
// ──────────────────────────────────────────────────

// Register inserts or refreshes a token keyed by (user id, value).
func (m *Store) Register(_ context.Context, t *token.Token) error {
	if err := t.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	key := userToken{userID: t.UserID, value: t.Value}
	if existingID, ok := m.byUserToken[key]; ok {
		existing := m.tokens[existingID]
		existing.TenantID = t.TenantID
		existing.Platform = t.Platform
		existing.Active = true
		existing.UpdatedAt = now
		*t = *cloneToken(existing)
		return nil
	}

	cp := cloneToken(t)
	if cp.ID.IsNil() {
		cp.ID = id.NewTokenID()
	}
	cp.Active = true
	cp.CreatedAt = now
	cp.UpdatedAt = now
	m.tokens[cp.ID.String()] = cp
	m.byUserToken[key] = cp.ID.String()
	*t = *cloneToken(cp)
	return nil
}

// ActiveTokensFor returns the user's fresh active tokens, oldest first.
func (m *Store) ActiveTokensFor(_ context.Context, userID string) ([]*token.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	cutoff := now.Add(-m.freshness)
	var result []*token.Token
	for _, t := range m.tokens {
		if t.UserID != userID || !t.Active || !t.UpdatedAt.After(cutoff) {
			continue
		}
		used := now
		t.LastUsedAt = &used
		result = append(result, cloneToken(t))
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return result, nil
}

// Deactivate flips active to false and returns how many changed.
func (m *Store) Deactivate(_ context.Context, tokenIDs []id.TokenID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var n int64
	for _, tid := range tokenIDs {
		t, ok := m.tokens[tid.String()]
		if !ok || !t.Active {
			continue
		}
		t.Active = false
		t.UpdatedAt = now
		n++
	}
	return n, nil
}

// GetToken returns a token by ID. It is not part of token.Directory; tests
// use it to inspect the active flag.
func (m *Store) GetToken(_ context.Context, tokenID id.TokenID) (*token.Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tokens[tokenID.String()]
	if !ok {
		return nil, courier.ErrTokenNotFound
	}
	return cloneToken(t), nil
}

func cloneToken(t *token.Token) *token.Token {
	cp := *t
	if t.LastUsedAt != nil {
		u := *t.LastUsedAt
		cp.LastUsedAt = &u
	}
	return &cp
}
