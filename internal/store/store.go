// Package store persists the operation log of a document so a replica can
// rebuild it after a restart. Stores only append and replay; merging is the
// document's job, so replaying duplicates or out-of-order ops is harmless.
package store

import (
	"context"
	"fmt"

	"github.com/dairyisscary/syn/internal/crdt"
)

// Store keeps one append-only op log per namespace.
type Store interface {
	// Load returns every op of ns in append order.
	Load(ctx context.Context, ns string) ([]crdt.Op, error)
	Append(ctx context.Context, ns string, ops ...crdt.Op) error
	Close() error
}

// Compacter is implemented by stores that can replace a log with a shorter
// equivalent one.
type Compacter interface {
	Compact(ctx context.Context, ns string, ops []crdt.Op) error
}

func encodeAll(ops []crdt.Op) ([][]byte, error) {
	out := make([][]byte, 0, len(ops))
	for _, op := range ops {
		b, err := crdt.EncodeOp(op)
		if err != nil {
			return nil, fmt.Errorf("encode op %s: %w", op.ID, err)
		}
		out = append(out, b)
	}
	return out, nil
}
