package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/intent"
)

// score converts t to a Sorted Set score. Microseconds keep the value
// inside float64's exact integer range.
func score(t time.Time) float64 { return float64(t.UnixMicro()) }

// Enqueue stores the intent as a Hash and adds it to the pending set.
func (s *Store) Enqueue(ctx context.Context, in *intent.Intent) error {
	inID := in.ID.String()

	createdAt := in.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	fields, err := intentToMap(in, createdAt)
	if err != nil {
		return err
	}

	args := make([]any, 0, 2+2*len(fields))
	args = append(args, inID, score(createdAt))
	for k, v := range fields {
		args = append(args, k, v)
	}
	n, err := enqueueScript.Run(ctx, s.client,
		[]string{intentKey(inID), pendingKey}, args...,
	).Int64()
	if err != nil {
		return fmt.Errorf("courier/redis: enqueue intent: %w", err)
	}
	if n == 0 {
		return courier.ErrIntentAlreadyExists
	}
	return nil
}

// ClaimBatch atomically moves up to limit of the oldest pending intents to
// the claimed set. Claimed ids whose hash is missing or cannot be decoded
// are logged and quarantined; the rest of the batch is returned.
func (s *Store) ClaimBatch(ctx context.Context, limit int) ([]*intent.Intent, error) {
	if limit <= 0 {
		return nil, nil
	}
	now := s.now()

	ids, err := claimScript.Run(ctx, s.client,
		[]string{pendingKey, claimedKey},
		limit, score(now), now.Format(time.RFC3339Nano), intentKeyPrefix,
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: claim batch: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	for i, inID := range ids {
		cmds[i] = pipe.HGetAll(ctx, intentKey(inID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("courier/redis: load claimed intents: %w", err)
	}

	out := make([]*intent.Intent, 0, len(ids))
	for i, cmd := range cmds {
		in, err := mapToIntent(cmd.Val())
		if err != nil {
			s.logger.Error("quarantining unreadable intent",
				slog.String("intent_id", ids[i]),
				slog.String("error", err.Error()),
			)
			s.quarantine(ctx, ids[i], now)
			continue
		}
		out = append(out, in)
	}
	return out, nil
}

func (s *Store) quarantine(ctx context.Context, inID string, now time.Time) {
	err := quarantineScript.Run(ctx, s.client,
		[]string{pendingKey, claimedKey, processedKey},
		inID, now.Format(time.RFC3339Nano), intentKeyPrefix, score(now),
	).Err()
	if err != nil {
		s.logger.Warn("quarantine unreadable intent failed",
			slog.String("intent_id", inID),
			slog.String("error", err.Error()),
		)
	}
}

// MarkProcessed stamps processed-at on an unprocessed intent.
func (s *Store) MarkProcessed(ctx context.Context, intentID id.IntentID) (bool, error) {
	now := s.now()
	n, err := markScript.Run(ctx, s.client,
		[]string{pendingKey, claimedKey, processedKey},
		intentID.String(), now.Format(time.RFC3339Nano), intentKeyPrefix, score(now),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("courier/redis: mark processed: %w", err)
	}
	return n == 1, nil
}

// ReclaimStuck returns claims older than timeout to pending.
func (s *Store) ReclaimStuck(ctx context.Context, timeout time.Duration) (int64, error) {
	cutoff := s.now().Add(-timeout)
	n, err := reclaimScript.Run(ctx, s.client,
		[]string{claimedKey, pendingKey},
		score(cutoff), intentKeyPrefix,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("courier/redis: reclaim stuck: %w", err)
	}
	return n, nil
}

// PurgeProcessedOlderThan deletes processed intents past the horizon.
func (s *Store) PurgeProcessedOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := s.now().Add(-age)
	n, err := purgeScript.Run(ctx, s.client,
		[]string{processedKey},
		score(cutoff), intentKeyPrefix,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("courier/redis: purge processed: %w", err)
	}
	return n, nil
}

// Get retrieves an intent by ID.
func (s *Store) Get(ctx context.Context, intentID id.IntentID) (*intent.Intent, error) {
	vals, err := s.client.HGetAll(ctx, intentKey(intentID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("courier/redis: get intent: %w", err)
	}
	if len(vals) == 0 {
		return nil, courier.ErrIntentNotFound
	}
	return mapToIntent(vals)
}

// CountPending returns the size of the pending set.
func (s *Store) CountPending(ctx context.Context) (int64, error) {
	n, err := s.client.ZCard(ctx, pendingKey).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return 0, fmt.Errorf("courier/redis: count pending: %w", err)
	}
	return n, nil
}

func intentToMap(in *intent.Intent, createdAt time.Time) (map[string]any, error) {
	data := "{}"
	if len(in.Data) > 0 {
		raw, err := json.Marshal(in.Data)
		if err != nil {
			return nil, fmt.Errorf("courier/redis: encode intent data: %w", err)
		}
		data = string(raw)
	}
	return map[string]any{
		"id":            in.ID.String(),
		"tenant_id":     in.TenantID,
		"user_id":       in.UserID,
		"event_type":    in.EventType,
		"title":         in.Title,
		"body":          in.Body,
		"data":          data,
		"created_at":    createdAt.Format(time.RFC3339Nano),
		"created_score": strconv.FormatFloat(score(createdAt), 'f', 0, 64),
	}, nil
}

func mapToIntent(m map[string]string) (*intent.Intent, error) {
	inID, err := id.ParseIntentID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("courier/redis: parse intent id: %w", err)
	}

	in := &intent.Intent{
		ID:        inID,
		TenantID:  m["tenant_id"],
		UserID:    m["user_id"],
		EventType: m["event_type"],
		Title:     m["title"],
		Body:      m["body"],
	}
	if raw := m["data"]; raw != "" && raw != "{}" {
		if err := json.Unmarshal([]byte(raw), &in.Data); err != nil {
			return nil, fmt.Errorf("courier/redis: decode intent data: %w", err)
		}
	}

	in.CreatedAt, _ = time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // trusted Redis data
	if v, ok := m["claimed_at"]; ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			in.ClaimedAt = &t
		}
	}
	if v, ok := m["processed_at"]; ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			in.ProcessedAt = &t
		}
	}
	return in, nil
}
