package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/courier"
	"github.com/xraph/courier/id"
	"github.com/xraph/courier/token"
)

const tokenColumns = `id, user_id, tenant_id, token, platform, active,
	created_at, updated_at, last_used_at`

// Register upserts a token on (user_id, token). An existing row is
// reactivated and refreshed; its ID is kept.
func (s *Store) Register(ctx context.Context, t *token.Token) error {
	if err := t.Validate(); err != nil {
		return err
	}

	newID := t.ID
	if newID.IsNil() {
		newID = id.NewTokenID()
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO push_tokens (id, user_id, tenant_id, token, platform, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, NOW(), NOW())
		ON CONFLICT (user_id, token) DO UPDATE SET
			tenant_id  = EXCLUDED.tenant_id,
			platform   = EXCLUDED.platform,
			active     = TRUE,
			updated_at = NOW()
		RETURNING `+tokenColumns,
		newID.String(), t.UserID, t.TenantID, t.Value, string(t.Platform),
	)
	stored, err := scanToken(row)
	if err != nil {
		return fmt.Errorf("courier/postgres: register token: %w", err)
	}
	*t = *stored
	return nil
}

// ActiveTokensFor returns the user's fresh active tokens, oldest first,
// stamping last_used_at in the same statement.
func (s *Store) ActiveTokensFor(ctx context.Context, userID string) ([]*token.Token, error) {
	rows, err := s.pool.Query(ctx, `
		WITH touched AS (
			UPDATE push_tokens
			SET last_used_at = NOW()
			WHERE user_id = $1
			  AND active = TRUE
			  AND updated_at > NOW() - make_interval(secs => $2)
			RETURNING `+tokenColumns+`
		)
		SELECT * FROM touched ORDER BY created_at ASC, id ASC`,
		userID, seconds(s.freshness),
	)
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: active tokens: %w", err)
	}
	defer rows.Close()

	var out []*token.Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("courier/postgres: scan token row: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("courier/postgres: iterate token rows: %w", err)
	}
	return out, nil
}

// Deactivate flips active tokens to inactive. Rows are never deleted.
func (s *Store) Deactivate(ctx context.Context, tokenIDs []id.TokenID) (int64, error) {
	if len(tokenIDs) == 0 {
		return 0, nil
	}
	ids := make([]string, len(tokenIDs))
	for i, tid := range tokenIDs {
		ids[i] = tid.String()
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE push_tokens
		SET active = FALSE, updated_at = NOW()
		WHERE id = ANY($1) AND active = TRUE`,
		ids,
	)
	if err != nil {
		return 0, fmt.Errorf("courier/postgres: deactivate tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetToken retrieves a token by ID regardless of its state.
func (s *Store) GetToken(ctx context.Context, tokenID id.TokenID) (*token.Token, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+tokenColumns+` FROM push_tokens WHERE id = $1`,
		tokenID.String(),
	)
	t, err := scanToken(row)
	if err != nil {
		if isNoRows(err) {
			return nil, courier.ErrTokenNotFound
		}
		return nil, fmt.Errorf("courier/postgres: get token: %w", err)
	}
	return t, nil
}

func scanToken(row pgx.Row) (*token.Token, error) {
	var (
		t        token.Token
		idStr    string
		platform string
	)
	err := row.Scan(
		&idStr, &t.UserID, &t.TenantID, &t.Value, &platform, &t.Active,
		&t.CreatedAt, &t.UpdatedAt, &t.LastUsedAt,
	)
	if err != nil {
		return nil, err
	}

	parsed, err := id.ParseTokenID(idStr)
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: parse token id %q: %w", idStr, err)
	}
	t.ID = parsed
	t.Platform = token.Platform(platform)
	return &t, nil
}
