package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/dairyisscary/syn/internal/crdt"
)

// Bolt is the local store of an agent: one bucket per namespace, keyed by a
// big-endian sequence so iteration follows append order.
type Bolt struct {
	db *bolt.DB
}

func OpenBolt(path string) (*Bolt, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	return &Bolt{db: db}, nil
}

func (s *Bolt) Load(_ context.Context, ns string) ([]crdt.Op, error) {
	var ops []crdt.Op
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(ns))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			op, err := crdt.DecodeOp(v)
			if err != nil {
				log.Printf("bolt: skipping entry %x in %s: %v", k, ns, err)
				return nil
			}
			ops = append(ops, op)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", ns, err)
	}
	return ops, nil
}

func (s *Bolt) Append(_ context.Context, ns string, ops ...crdt.Op) error {
	if len(ops) == 0 {
		return nil
	}
	frames, err := encodeAll(ops)
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(ns))
		if err != nil {
			return err
		}
		return putAll(b, frames)
	})
	if err != nil {
		return fmt.Errorf("append %s: %w", ns, err)
	}
	return nil
}

// Compact rewrites the bucket of ns in a single transaction.
func (s *Bolt) Compact(_ context.Context, ns string, ops []crdt.Op) error {
	frames, err := encodeAll(ops)
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(ns)) != nil {
			if err := tx.DeleteBucket([]byte(ns)); err != nil {
				return err
			}
		}
		b, err := tx.CreateBucket([]byte(ns))
		if err != nil {
			return err
		}
		return putAll(b, frames)
	})
	if err != nil {
		return fmt.Errorf("compact %s: %w", ns, err)
	}
	return nil
}

func (s *Bolt) Close() error { return s.db.Close() }

func putAll(b *bolt.Bucket, frames [][]byte) error {
	for _, f := range frames {
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		if err := b.Put(key, f); err != nil {
			return err
		}
	}
	return nil
}
