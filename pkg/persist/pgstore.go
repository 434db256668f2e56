package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/privcount/privcount/pkg/outcomes"
	"github.com/privcount/privcount/pkg/party"
)

// PGStore is the optional durable backend (SPEC_FULL.md §2B), selected
// by setting `persist_driver: postgres` in a node config. It
// covers the same three persisted-state concerns as FileStore, backed
// by tables a deployment that already runs Postgres for other tooling
// can fold into its existing instance.
type PGStore struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS privcount_outcomes (
	id BIGSERIAL PRIMARY KEY,
	round_id TEXT NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	document JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS privcount_node_seen (
	node_id TEXT PRIMARY KEY,
	last_seen TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS privcount_round_history (
	id BOOLEAN PRIMARY KEY DEFAULT true CHECK (id),
	document JSONB NOT NULL
);
`

// NewPGStore connects to Postgres at connString and ensures the schema
// above exists.
func NewPGStore(ctx context.Context, connString string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("persist: pgx connect failed: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("persist: schema migration failed: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

func (p *PGStore) SaveOutcome(ctx context.Context, o outcomes.Outcomes) error {
	doc, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("persist: marshal outcome failed: %w", err)
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO privcount_outcomes (round_id, document) VALUES ($1, $2)`,
		o.Context.RoundID, doc)
	if err != nil {
		return fmt.Errorf("persist: insert outcome failed: %w", err)
	}
	return nil
}

func (p *PGStore) LastOutcome(ctx context.Context) (*outcomes.Outcomes, bool, error) {
	var doc []byte
	err := p.pool.QueryRow(ctx,
		`SELECT document FROM privcount_outcomes ORDER BY id DESC LIMIT 1`).Scan(&doc)
	if err != nil {
		if isNoRows(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("persist: query last outcome failed: %w", err)
	}
	var o outcomes.Outcomes
	if err := json.Unmarshal(doc, &o); err != nil {
		return nil, false, fmt.Errorf("persist: decode last outcome failed: %w", err)
	}
	return &o, true, nil
}

func (p *PGStore) TouchNode(ctx context.Context, id party.ID, seenAt time.Time) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO privcount_node_seen (node_id, last_seen) VALUES ($1, $2)
		 ON CONFLICT (node_id) DO UPDATE SET last_seen = EXCLUDED.last_seen`,
		string(id), seenAt)
	if err != nil {
		return fmt.Errorf("persist: touch node failed: %w", err)
	}
	return nil
}

func (p *PGStore) NodeStates(ctx context.Context) ([]NodeState, error) {
	rows, err := p.pool.Query(ctx, `SELECT node_id, last_seen FROM privcount_node_seen`)
	if err != nil {
		return nil, fmt.Errorf("persist: query node states failed: %w", err)
	}
	defer rows.Close()

	var out []NodeState
	for rows.Next() {
		var id string
		var seen time.Time
		if err := rows.Scan(&id, &seen); err != nil {
			return nil, fmt.Errorf("persist: scan node state failed: %w", err)
		}
		out = append(out, NodeState{ID: party.ID(id), LastSeen: seen})
	}
	return out, rows.Err()
}

func (p *PGStore) SaveRoundHistory(ctx context.Context, h RoundHistory) error {
	doc, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("persist: marshal round history failed: %w", err)
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO privcount_round_history (id, document) VALUES (true, $1)
		 ON CONFLICT (id) DO UPDATE SET document = EXCLUDED.document`, doc)
	if err != nil {
		return fmt.Errorf("persist: upsert round history failed: %w", err)
	}
	return nil
}

func (p *PGStore) LoadRoundHistory(ctx context.Context) (*RoundHistory, bool, error) {
	var doc []byte
	err := p.pool.QueryRow(ctx, `SELECT document FROM privcount_round_history WHERE id = true`).Scan(&doc)
	if err != nil {
		if isNoRows(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("persist: query round history failed: %w", err)
	}
	var h RoundHistory
	if err := json.Unmarshal(doc, &h); err != nil {
		return nil, false, fmt.Errorf("persist: decode round history failed: %w", err)
	}
	return &h, true, nil
}

func (p *PGStore) Close() error {
	p.pool.Close()
	return nil
}

func isNoRows(err error) bool {
	return err != nil && err.Error() == "no rows in result set"
}
