package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/intent"
)

const intentColumns = `id, tenant_id, user_id, event_type, title, body, data,
	created_at, claimed_at, processed_at`

// Enqueue persists a new pending intent.
func (s *Store) Enqueue(ctx context.Context, in *intent.Intent) error {
	createdAt := in.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	data := in.Data
	if data == nil {
		data = map[string]any{}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO notification_intents (
			id, tenant_id, user_id, event_type, title, body, data, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		in.ID.String(), in.TenantID, in.UserID, in.EventType,
		in.Title, in.Body, data, createdAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return courier.ErrIntentAlreadyExists
		}
		return fmt.Errorf("courier/postgres: enqueue intent: %w", err)
	}
	return nil
}

// ClaimBatch atomically claims up to limit pending intents, oldest first.
// Rows locked by a concurrent claim are skipped rather than waited on.
// A claimed row that cannot be decoded is quarantined (marked processed
// and logged) so it cannot block the rows behind it.
func (s *Store) ClaimBatch(ctx context.Context, limit int) ([]*intent.Intent, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, `
		WITH claimed AS (
			UPDATE notification_intents
			SET claimed_at = NOW()
			WHERE id IN (
				SELECT id FROM notification_intents
				WHERE claimed_at IS NULL AND processed_at IS NULL
				ORDER BY created_at ASC, id ASC
				FOR UPDATE SKIP LOCKED
				LIMIT $1
			)
			RETURNING `+intentColumns+`
		)
		SELECT * FROM claimed ORDER BY created_at ASC, id ASC`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: claim batch: %w", err)
	}
	defer rows.Close()

	var (
		out        []*intent.Intent
		unreadable []string
	)
	for rows.Next() {
		raw, err := scanRawIntent(rows)
		if err != nil {
			return nil, fmt.Errorf("courier/postgres: scan intent row: %w", err)
		}
		in, err := raw.decode()
		if err != nil {
			s.logger.Error("quarantining unreadable intent",
				slog.String("intent_id", raw.id),
				slog.String("error", err.Error()),
			)
			unreadable = append(unreadable, raw.id)
			continue
		}
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("courier/postgres: iterate intent rows: %w", err)
	}
	rows.Close()

	if len(unreadable) > 0 {
		s.quarantine(ctx, unreadable)
	}
	return out, nil
}

// quarantine marks unreadable claimed rows processed so retention purges
// them. On failure they stay claimed and the reclaim sweep retries.
func (s *Store) quarantine(ctx context.Context, ids []string) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE notification_intents
		SET processed_at = NOW()
		WHERE id = ANY($1) AND processed_at IS NULL`,
		ids,
	)
	if err != nil {
		s.logger.Warn("quarantine unreadable intents failed",
			slog.Int("count", len(ids)),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Warn("quarantined unreadable intents", slog.Int64("count", tag.RowsAffected()))
}

// MarkProcessed stamps processed-at on an unprocessed intent.
func (s *Store) MarkProcessed(ctx context.Context, intentID id.IntentID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE notification_intents
		SET processed_at = NOW()
		WHERE id = $1 AND processed_at IS NULL`,
		intentID.String(),
	)
	if err != nil {
		return false, fmt.Errorf("courier/postgres: mark processed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReclaimStuck returns claims older than timeout to pending.
func (s *Store) ReclaimStuck(ctx context.Context, timeout time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE notification_intents
		SET claimed_at = NULL
		WHERE processed_at IS NULL
		  AND claimed_at < NOW() - make_interval(secs => $1)`,
		seconds(timeout),
	)
	if err != nil {
		return 0, fmt.Errorf("courier/postgres: reclaim stuck: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PurgeProcessedOlderThan deletes processed intents past the horizon.
func (s *Store) PurgeProcessedOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM notification_intents
		WHERE processed_at < NOW() - make_interval(secs => $1)`,
		seconds(age),
	)
	if err != nil {
		return 0, fmt.Errorf("courier/postgres: purge processed: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Get retrieves an intent by ID.
func (s *Store) Get(ctx context.Context, intentID id.IntentID) (*intent.Intent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+intentColumns+` FROM notification_intents WHERE id = $1`,
		intentID.String(),
	)
	in, err := scanIntent(row)
	if err != nil {
		if isNoRows(err) {
			return nil, courier.ErrIntentNotFound
		}
		return nil, fmt.Errorf("courier/postgres: get intent: %w", err)
	}
	return in, nil
}

// CountPending returns the number of unclaimed intents.
func (s *Store) CountPending(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM notification_intents
		WHERE claimed_at IS NULL AND processed_at IS NULL`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("courier/postgres: count pending: %w", err)
	}
	return n, nil
}

// rawIntent is a row before its id and data are decoded.
type rawIntent struct {
	id   string
	data []byte
	in   intent.Intent
}

func scanRawIntent(row pgx.Row) (*rawIntent, error) {
	var r rawIntent
	err := row.Scan(
		&r.id, &r.in.TenantID, &r.in.UserID, &r.in.EventType, &r.in.Title, &r.in.Body, &r.data,
		&r.in.CreatedAt, &r.in.ClaimedAt, &r.in.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *rawIntent) decode() (*intent.Intent, error) {
	parsed, err := id.ParseIntentID(r.id)
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: parse intent id %q: %w", r.id, err)
	}
	in := r.in
	in.ID = parsed
	if len(r.data) > 0 {
		if err := json.Unmarshal(r.data, &in.Data); err != nil {
			return nil, fmt.Errorf("courier/postgres: decode intent %s data: %w", r.id, err)
		}
	}
	if len(in.Data) == 0 {
		in.Data = nil
	}
	return &in, nil
}

func scanIntent(row pgx.Row) (*intent.Intent, error) {
	raw, err := scanRawIntent(row)
	if err != nil {
		return nil, err
	}
	return raw.decode()
}
