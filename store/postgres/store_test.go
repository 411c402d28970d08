//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/intent"
	"github.com/xraph/courier/store/postgres"
	"github.com/xraph/courier/token"
)

// startPostgres creates a Postgres container and returns its connection
// string. The database is empty.
func startPostgres(t *testing.T) string {
	t.Helper()

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("courier_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}
	return connStr
}

// setupTestStore creates a Postgres container and returns a migrated Store.
func setupTestStore(t *testing.T) *postgres.Store {
	t.Helper()

	ctx := context.Background()
	connStr := startPostgres(t)

	store, err := postgres.New(ctx, connStr, postgres.WithLogger(slog.Default()))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if migErr := store.Migrate(ctx); migErr != nil {
		t.Fatalf("migrate: %v", migErr)
	}
	return store
}

func enqueueN(t *testing.T, s *postgres.Store, n int) []*intent.Intent {
	t.Helper()
	base := time.Now().UTC().Add(-time.Hour)
	out := make([]*intent.Intent, n)
	for i := range out {
		in := intent.New("tenant_1", "user_1", "message.new", "Hi", "Body", map[string]any{"n": i})
		in.CreatedAt = base.Add(time.Duration(i) * time.Millisecond)
		if err := s.Enqueue(context.Background(), in); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		out[i] = in
	}
	return out
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

func TestStore_PingAndMigrateIdempotent(t *testing.T) {
	s := setupTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestStore_ConcurrentMigrate(t *testing.T) {
	connStr := startPostgres(t)
	ctx := context.Background()

	const instances = 4
	stores := make([]*postgres.Store, instances)
	for i := range stores {
		s, err := postgres.New(ctx, connStr)
		if err != nil {
			t.Fatalf("new store: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		stores[i] = s
	}

	var wg sync.WaitGroup
	errs := make([]error, instances)
	for i, s := range stores {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = s.Migrate(ctx)
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("instance %d migrate: %v", i, err)
		}
	}

	var applied int
	if err := stores[0].Pool().QueryRow(ctx, `SELECT COUNT(*) FROM courier_migrations`).Scan(&applied); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if applied != 4 {
		t.Errorf("applied migrations = %d, want 4", applied)
	}
}

// ──────────────────────────────────────────────────
// Queue
// ──────────────────────────────────────────────────

func TestStore_EnqueueGet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	in := enqueueN(t, s, 1)[0]

	got, err := s.Get(ctx, in.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.UserID != "user_1" || got.State() != intent.StatePending {
		t.Errorf("got %+v", got)
	}
	if got.Data["n"] != float64(0) {
		t.Errorf("data = %v", got.Data)
	}

	if err := s.Enqueue(ctx, in); !errors.Is(err, courier.ErrIntentAlreadyExists) {
		t.Errorf("duplicate enqueue = %v", err)
	}
	if _, err := s.Get(ctx, id.NewIntentID()); !errors.Is(err, courier.ErrIntentNotFound) {
		t.Errorf("missing get = %v", err)
	}
}

func TestStore_ClaimOrderAndLimit(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	intents := enqueueN(t, s, 5)

	batch, err := s.ClaimBatch(ctx, 3)
	if err != nil {
		t.Fatalf("ClaimBatch: %v", err)
	}
	if len(batch) != 3 {
		t.Fatalf("claimed %d, want 3", len(batch))
	}
	for i, in := range batch {
		if in.ID != intents[i].ID {
			t.Errorf("batch[%d] = %s, want %s", i, in.ID, intents[i].ID)
		}
		if in.ClaimedAt == nil {
			t.Errorf("batch[%d] has no claimed_at", i)
		}
	}

	if n, _ := s.CountPending(ctx); n != 2 {
		t.Errorf("pending = %d, want 2", n)
	}
	rest, _ := s.ClaimBatch(ctx, 10)
	if len(rest) != 2 {
		t.Errorf("second claim = %d, want 2", len(rest))
	}
	empty, err := s.ClaimBatch(ctx, 10)
	if err != nil || len(empty) != 0 {
		t.Errorf("empty claim = %d, %v", len(empty), err)
	}
}

func TestStore_ConcurrentClaimsAreDisjoint(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	enqueueN(t, s, 60)

	var (
		wg      sync.WaitGroup
		batches [2][]*intent.Intent
		errs    [2]error
	)
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			batches[i], errs[i] = s.ClaimBatch(ctx, 50)
		}()
	}
	wg.Wait()

	seen := make(map[id.IntentID]bool)
	for i, b := range batches {
		if errs[i] != nil {
			t.Fatalf("claim %d: %v", i, errs[i])
		}
		for _, in := range b {
			if seen[in.ID] {
				t.Fatalf("intent %s claimed twice", in.ID)
			}
			seen[in.ID] = true
		}
	}
	if len(seen) != 60 {
		t.Errorf("claimed %d unique, want 60", len(seen))
	}
}

func TestStore_MarkProcessedIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	enqueueN(t, s, 1)
	batch, _ := s.ClaimBatch(ctx, 1)

	ok, err := s.MarkProcessed(ctx, batch[0].ID)
	if err != nil || !ok {
		t.Fatalf("first mark = %v, %v", ok, err)
	}
	ok, err = s.MarkProcessed(ctx, batch[0].ID)
	if err != nil || ok {
		t.Errorf("second mark = %v, %v", ok, err)
	}
	ok, err = s.MarkProcessed(ctx, id.NewIntentID())
	if err != nil || ok {
		t.Errorf("unknown mark = %v, %v", ok, err)
	}
}

func TestStore_ReclaimAndPurge(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	enqueueN(t, s, 3)
	batch, _ := s.ClaimBatch(ctx, 3)
	if _, err := s.MarkProcessed(ctx, batch[0].ID); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}

	if n, _ := s.ReclaimStuck(ctx, time.Hour); n != 0 {
		t.Errorf("fresh reclaim = %d, want 0", n)
	}
	time.Sleep(50 * time.Millisecond)
	n, err := s.ReclaimStuck(ctx, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("ReclaimStuck: %v", err)
	}
	if n != 2 {
		t.Errorf("reclaimed = %d, want 2", n)
	}
	if got, _ := s.Get(ctx, batch[0].ID); got.State() != intent.StateProcessed {
		t.Error("processed intent regressed")
	}

	purged, err := s.PurgeProcessedOlderThan(ctx, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}
}

// ──────────────────────────────────────────────────
// Tokens
// ──────────────────────────────────────────────────

func TestStore_TokenLifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	a := &token.Token{UserID: "user_1", TenantID: "t", Value: "fcm-a", Platform: token.PlatformAndroid}
	if err := s.Register(ctx, a); err != nil {
		t.Fatalf("Register: %v", err)
	}
	b := &token.Token{UserID: "user_1", TenantID: "t", Value: "fcm-b", Platform: token.PlatformIOS}
	if err := s.Register(ctx, b); err != nil {
		t.Fatalf("Register: %v", err)
	}

	active, err := s.ActiveTokensFor(ctx, "user_1")
	if err != nil {
		t.Fatalf("ActiveTokensFor: %v", err)
	}
	if len(active) != 2 || active[0].LastUsedAt == nil {
		t.Fatalf("active = %+v", active)
	}

	n, err := s.Deactivate(ctx, []id.TokenID{a.ID, a.ID, id.NewTokenID()})
	if err != nil || n != 1 {
		t.Fatalf("Deactivate = %d, %v", n, err)
	}
	if n, _ := s.Deactivate(ctx, []id.TokenID{a.ID}); n != 0 {
		t.Errorf("repeat deactivate = %d, want 0", n)
	}
	active, _ = s.ActiveTokensFor(ctx, "user_1")
	if len(active) != 1 || active[0].ID != b.ID {
		t.Errorf("after deactivate = %+v", active)
	}

	// Re-registering the same device reactivates the original row.
	again := &token.Token{UserID: "user_1", TenantID: "t", Value: "fcm-a", Platform: token.PlatformAndroid}
	if err := s.Register(ctx, again); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if again.ID != a.ID || !again.Active {
		t.Errorf("re-register = %+v, want reactivated %s", again, a.ID)
	}
	got, err := s.GetToken(ctx, a.ID)
	if err != nil || !got.Active {
		t.Errorf("GetToken = %+v, %v", got, err)
	}
}

func TestStore_ClaimQuarantinesUnreadableIntent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	bad := id.NewIntentID()
	_, err := s.Pool().Exec(ctx, `
		INSERT INTO notification_intents (id, user_id, event_type, data, created_at)
		VALUES ($1, 'user_1', 'message.new', '[1]'::jsonb, NOW() - INTERVAL '2 hours')`,
		bad.String())
	if err != nil {
		t.Fatalf("insert unreadable row: %v", err)
	}
	good := enqueueN(t, s, 3)

	batch, err := s.ClaimBatch(ctx, 10)
	if err != nil {
		t.Fatalf("ClaimBatch: %v", err)
	}
	if len(batch) != 3 {
		t.Fatalf("claimed %d, want 3", len(batch))
	}
	for i, in := range batch {
		if in.ID != good[i].ID {
			t.Errorf("batch[%d] = %s, want %s", i, in.ID, good[i].ID)
		}
	}

	var processed bool
	err = s.Pool().QueryRow(ctx,
		`SELECT processed_at IS NOT NULL FROM notification_intents WHERE id = $1`, bad.String()).Scan(&processed)
	if err != nil {
		t.Fatalf("read quarantined row: %v", err)
	}
	if !processed {
		t.Error("unreadable intent left unprocessed")
	}
	if n, _ := s.CountPending(ctx); n != 0 {
		t.Errorf("pending = %d, want 0", n)
	}

	// The row no longer blocks later claims.
	enqueueN(t, s, 1)
	next, err := s.ClaimBatch(ctx, 10)
	if err != nil || len(next) != 1 {
		t.Errorf("next claim = %d, %v", len(next), err)
	}
}

func TestStore_RejectsMalformedIntentID(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.Pool().Exec(ctx, `
		INSERT INTO notification_intents (id, user_id, event_type)
		VALUES ('not-an-intent', 'user_1', 'message.new')`)
	if err == nil {
		t.Fatal("insert with malformed id succeeded")
	}
}

func TestStore_RegisterRejectsInvalidToken(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	err := s.Register(ctx, &token.Token{UserID: "user_1", Value: "", Platform: token.PlatformAndroid})
	if !errors.Is(err, courier.ErrInvalidToken) {
		t.Fatalf("Register empty value = %v, want ErrInvalidToken", err)
	}
	err = s.Register(ctx, &token.Token{UserID: "user_1", Value: "fcm-a", Platform: "desktop"})
	if !errors.Is(err, courier.ErrInvalidPlatform) {
		t.Fatalf("Register bad platform = %v, want ErrInvalidPlatform", err)
	}
	active, err := s.ActiveTokensFor(ctx, "user_1")
	if err != nil || len(active) != 0 {
		t.Errorf("active = %d, %v", len(active), err)
	}
}
