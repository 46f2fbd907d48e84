package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"liquidityAgent/internal/model"
)

// Schema creates the tables used by Store.
const Schema = `
CREATE TABLE IF NOT EXISTS positions (
	position_id   TEXT PRIMARY KEY,
	market_id     BIGINT NOT NULL,
	token_id      NUMERIC,
	lower_tick    INTEGER NOT NULL,
	upper_tick    INTEGER NOT NULL,
	liquidity     NUMERIC,
	target_price  DOUBLE PRECISION NOT NULL,
	active        BOOLEAN NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS positions_market_active_idx ON positions (market_id, active);

CREATE TABLE IF NOT EXISTS position_events (
	id            BIGSERIAL PRIMARY KEY,
	event_type    TEXT NOT NULL,
	market_id     BIGINT NOT NULL,
	position_id   TEXT,
	tx_hash       TEXT,
	current_price DOUBLE PRECISION,
	error         TEXT,
	payload       JSONB NOT NULL,
	occurred_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS agent_state (
	name          TEXT PRIMARY KEY,
	cursor_value  BIGINT NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);
`

// Store provides Postgres persistence for positions and their events.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates missing tables.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

// Emit appends the event and, when it carries a position, upserts the position
// row in the same batch.
func (s *Store) Emit(ctx context.Context, event model.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	batch := &pgx.Batch{}
	var positionID *string
	if p := event.Position; p != nil {
		positionID = &p.ID
		batch.Queue(`
			INSERT INTO positions (
				position_id, market_id, token_id, lower_tick, upper_tick, liquidity,
				target_price, active, created_at, updated_at
			) VALUES ($1, $2, $3::numeric, $4, $5, $6::numeric, $7, $8, $9, $10)
			ON CONFLICT (position_id)
			DO UPDATE SET
				token_id = EXCLUDED.token_id,
				lower_tick = EXCLUDED.lower_tick,
				upper_tick = EXCLUDED.upper_tick,
				liquidity = EXCLUDED.liquidity,
				target_price = EXCLUDED.target_price,
				active = EXCLUDED.active,
				updated_at = EXCLUDED.updated_at
		`,
			p.ID,
			int64(p.MarketID),
			numeric(p.TokenID),
			p.Range.Lower,
			p.Range.Upper,
			numeric(p.Liquidity),
			p.TargetPrice,
			p.Active,
			p.CreatedAt,
			p.UpdatedAt,
		)
	}
	batch.Queue(`
		INSERT INTO position_events (
			event_type, market_id, position_id, tx_hash, current_price, error, payload, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		string(event.Type),
		int64(event.MarketID),
		positionID,
		nullable(event.TxHash),
		event.CurrentPrice,
		nullable(event.Error),
		payload,
		event.Timestamp,
	)

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// ActivePositions returns the positions recorded as active.
func (s *Store) ActivePositions(ctx context.Context) ([]model.LiquidityPosition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT position_id, market_id, token_id::text, lower_tick, upper_tick, liquidity::text,
			target_price, active, created_at, updated_at
		FROM positions
		WHERE active
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.LiquidityPosition
	for rows.Next() {
		var (
			p         model.LiquidityPosition
			marketID  int64
			tokenID   *string
			liquidity *string
		)
		if err := rows.Scan(&p.ID, &marketID, &tokenID, &p.Range.Lower, &p.Range.Upper, &liquidity,
			&p.TargetPrice, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.MarketID = uint64(marketID)
		p.TokenID = parseNumeric(tokenID)
		p.Liquidity = parseNumeric(liquidity)
		out = append(out, p)
	}
	return out, rows.Err()
}

// LoadState returns the cursor stored under name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var cursor int64
	row := s.pool.QueryRow(ctx, `SELECT cursor_value FROM agent_state WHERE name=$1`, name)
	if err := row.Scan(&cursor); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(cursor), true, nil
}

// SaveState upserts the cursor stored under name.
func (s *Store) SaveState(ctx context.Context, name string, cursor uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO agent_state (name, cursor_value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET cursor_value = EXCLUDED.cursor_value, updated_at = now()
	`, name, int64(cursor))
	return err
}

func numeric(v *big.Int) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

func parseNumeric(s *string) *big.Int {
	if s == nil {
		return nil
	}
	v, ok := new(big.Int).SetString(*s, 10)
	if !ok {
		return nil
	}
	return v
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
