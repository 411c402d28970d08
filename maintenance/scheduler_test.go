package maintenance_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xraph/courier"
	"github.com/xraph/courier/intent"
	"github.com/xraph/courier/maintenance"
	"github.com/xraph/courier/stats"
	"github.com/xraph/courier/store/memory"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// brokenStore fails every sweep call.
type brokenStore struct {
	*memory.Store
}

var errDown = errors.New("database is down")

func (brokenStore) ReclaimStuck(context.Context, time.Duration) (int64, error) { return 0, errDown }
func (brokenStore) PurgeProcessedOlderThan(context.Context, time.Duration) (int64, error) {
	return 0, errDown
}
func (brokenStore) CountPending(context.Context) (int64, error) { return 0, errDown }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func seed(t *testing.T, s *memory.Store, n int) []*intent.Intent {
	t.Helper()
	out := make([]*intent.Intent, n)
	for i := range out {
		out[i] = intent.New("tenant_1", "user_1", "test", "t", "b", nil)
		out[i].CreatedAt = time.Time{}
		if err := s.Enqueue(context.Background(), out[i]); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	return out
}

func TestReclaim_ReturnsStuckClaims(t *testing.T) {
	clk := &clock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	s := memory.New(memory.WithClock(clk.Now))
	seed(t, s, 4)
	if _, err := s.ClaimBatch(context.Background(), 3); err != nil {
		t.Fatalf("ClaimBatch: %v", err)
	}

	cfg := courier.DefaultConfig()
	acc := stats.New()
	sch, err := maintenance.New(s, maintenance.WithConfig(cfg), maintenance.WithStats(acc), maintenance.WithLogger(discard()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	n, err := sch.Reclaim(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("fresh claims reclaimed: %d, %v", n, err)
	}

	clk.Advance(cfg.ClaimTimeout + time.Second)
	n, err = sch.Reclaim(context.Background())
	if err != nil {
		t.Fatalf("Reclaim: %v", err)
	}
	if n != 3 {
		t.Errorf("reclaimed = %d, want 3", n)
	}
	if pending, _ := s.CountPending(context.Background()); pending != 4 {
		t.Errorf("pending = %d, want 4", pending)
	}
	if acc.Snapshot().Reclaimed != 3 {
		t.Errorf("stats reclaimed = %d, want 3", acc.Snapshot().Reclaimed)
	}
}

func TestPurge_DeletesOldProcessed(t *testing.T) {
	clk := &clock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	s := memory.New(memory.WithClock(clk.Now))
	intents := seed(t, s, 3)
	claimed, _ := s.ClaimBatch(context.Background(), 2)
	for _, in := range claimed {
		if _, err := s.MarkProcessed(context.Background(), in.ID); err != nil {
			t.Fatalf("MarkProcessed: %v", err)
		}
	}

	cfg := courier.DefaultConfig()
	acc := stats.New()
	sch, err := maintenance.New(s, maintenance.WithConfig(cfg), maintenance.WithStats(acc), maintenance.WithLogger(discard()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	clk.Advance(cfg.Retention + time.Hour)
	n, err := sch.Purge(context.Background())
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if n != 2 {
		t.Errorf("purged = %d, want 2", n)
	}
	if acc.Snapshot().Purged != 2 {
		t.Errorf("stats purged = %d, want 2", acc.Snapshot().Purged)
	}

	// The unclaimed intent survives retention.
	remaining := 0
	for _, in := range intents {
		if _, err := s.Get(context.Background(), in.ID); err == nil {
			remaining++
		}
	}
	if remaining != 1 {
		t.Errorf("remaining = %d, want 1", remaining)
	}
}

func TestSweeps_FailuresAreBestEffort(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	acc := stats.New()

	sch, err := maintenance.New(brokenStore{memory.New()}, maintenance.WithLogger(logger), maintenance.WithStats(acc))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := sch.Reclaim(context.Background()); !errors.Is(err, errDown) {
		t.Errorf("Reclaim err = %v", err)
	}
	if _, err := sch.Purge(context.Background()); !errors.Is(err, errDown) {
		t.Errorf("Purge err = %v", err)
	}
	sch.Report(context.Background())

	out := buf.String()
	for _, want := range []string{"reclaim sweep failed", "purge sweep failed", "queue_error"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q:\n%s", want, out)
		}
	}
	if snap := acc.Snapshot(); snap.Reclaimed != 0 || snap.Purged != 0 {
		t.Errorf("stats changed on failure: %+v", snap)
	}
}

func TestReport_LogsDepth(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	s := memory.New()
	seed(t, s, 5)

	sch, err := maintenance.New(s, maintenance.WithLogger(logger))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sch.Report(context.Background())

	if !strings.Contains(buf.String(), "pending=5") {
		t.Errorf("report missing depth: %s", buf.String())
	}
}

func TestNew_RejectsBadSchedule(t *testing.T) {
	cfg := courier.DefaultConfig()
	cfg.PurgeSchedule = "every tuesday"
	_, err := maintenance.New(memory.New(), maintenance.WithConfig(cfg))
	if !errors.Is(err, courier.ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
}

func TestNew_EmptyReportScheduleDisablesReport(t *testing.T) {
	cfg := courier.DefaultConfig()
	cfg.ReportSchedule = ""
	if _, err := maintenance.New(memory.New(), maintenance.WithConfig(cfg)); err != nil {
		t.Fatalf("New: %v", err)
	}
}

func TestScheduler_RunsOnSchedule(t *testing.T) {
	clk := &clock{now: time.Now().UTC()}
	s := memory.New(memory.WithClock(clk.Now))
	seed(t, s, 2)
	if _, err := s.ClaimBatch(context.Background(), 2); err != nil {
		t.Fatalf("ClaimBatch: %v", err)
	}
	clk.Advance(time.Hour)

	cfg := courier.DefaultConfig()
	cfg.ReclaimSchedule = "@every 1s"
	acc := stats.New()
	sch, err := maintenance.New(s, maintenance.WithConfig(cfg), maintenance.WithStats(acc), maintenance.WithLogger(discard()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := sch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := sch.Start(context.Background()); !errors.Is(err, courier.ErrAlreadyRunning) {
		t.Errorf("second Start = %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for acc.Snapshot().Reclaimed < 2 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if got := acc.Snapshot().Reclaimed; got != 2 {
		t.Errorf("reclaimed = %d, want 2", got)
	}

	if err := sch.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := sch.Stop(context.Background()); !errors.Is(err, courier.ErrNotRunning) {
		t.Errorf("second Stop = %v", err)
	}
}

// sweepExt records sweep notifications.
type sweepExt struct {
	reclaimed int64
	purged    int64
}

func (e *sweepExt) Name() string { return "sweeps" }

func (e *sweepExt) OnIntentsReclaimed(_ context.Context, n int64) error {
	e.reclaimed += n
	return nil
}

func (e *sweepExt) OnIntentsPurged(_ context.Context, n int64) error {
	e.purged += n
	return nil
}

func TestSweeps_NotifyExtensions(t *testing.T) {
	clk := &clock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	s := memory.New(memory.WithClock(clk.Now))
	seed(t, s, 2)
	claimed, err := s.ClaimBatch(context.Background(), 2)
	if err != nil {
		t.Fatalf("ClaimBatch: %v", err)
	}

	cfg := courier.DefaultConfig()
	x := &sweepExt{}
	sch, err := maintenance.New(s, maintenance.WithConfig(cfg), maintenance.WithLogger(discard()), maintenance.WithExtension(x))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	clk.Advance(cfg.ClaimTimeout + time.Second)
	if _, err := sch.Reclaim(context.Background()); err != nil {
		t.Fatalf("Reclaim: %v", err)
	}
	if x.reclaimed != 2 {
		t.Errorf("reclaimed = %d, want 2", x.reclaimed)
	}

	if _, err := s.MarkProcessed(context.Background(), claimed[0].ID); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	clk.Advance(cfg.Retention + time.Second)
	if _, err := sch.Purge(context.Background()); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if x.purged != 1 {
		t.Errorf("purged = %d, want 1", x.purged)
	}
}
