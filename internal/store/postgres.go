package store

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dairyisscary/syn/internal/crdt"
)

const schema = `
CREATE TABLE IF NOT EXISTS doc_updates (
	namespace TEXT NOT NULL,
	seq BIGSERIAL NOT NULL,
	payload BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (namespace, seq)
)`

// Postgres archives op logs in the doc_updates table. The relay uses it so a
// room's history outlives every agent.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to databaseURL and creates the table if needed.
func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	s := &Postgres{pool: pool}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Postgres) Load(ctx context.Context, ns string) ([]crdt.Op, error) {
	rows, err := s.pool.Query(ctx, `SELECT seq, payload FROM doc_updates WHERE namespace = $1 ORDER BY seq`, ns)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", ns, err)
	}
	defer rows.Close()

	var ops []crdt.Op
	for rows.Next() {
		var (
			seq     int64
			payload []byte
		)
		if err := rows.Scan(&seq, &payload); err != nil {
			return nil, fmt.Errorf("scan %s: %w", ns, err)
		}
		op, err := crdt.DecodeOp(payload)
		if err != nil {
			log.Printf("postgres: skipping row %d in %s: %v", seq, ns, err)
			continue
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load %s: %w", ns, err)
	}
	return ops, nil
}

func (s *Postgres) Append(ctx context.Context, ns string, ops ...crdt.Op) error {
	if len(ops) == 0 {
		return nil
	}
	frames, err := encodeAll(ops)
	if err != nil {
		return err
	}
	batch := &pgx.Batch{}
	for _, f := range frames {
		batch.Queue(`INSERT INTO doc_updates (namespace, payload) VALUES ($1, $2)`, ns, f)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("append %s: %w", ns, err)
	}
	return nil
}

// Compact replaces the rows of ns in one transaction.
func (s *Postgres) Compact(ctx context.Context, ns string, ops []crdt.Op) error {
	frames, err := encodeAll(ops)
	if err != nil {
		return err
	}
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM doc_updates WHERE namespace = $1`, ns); err != nil {
			return err
		}
		for _, f := range frames {
			if _, err := tx.Exec(ctx, `INSERT INTO doc_updates (namespace, payload) VALUES ($1, $2)`, ns, f); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("compact %s: %w", ns, err)
	}
	return nil
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}
