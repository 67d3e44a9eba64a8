package store

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dairyisscary/syn/internal/crdt"
)

// Redis keeps each namespace as a list of encoded ops.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects to redisURL and checks the connection.
func NewRedis(redisURL string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisWithClient(client), nil
}

func NewRedisWithClient(client *redis.Client) *Redis {
	return &Redis{client: client, prefix: "syn:ops:"}
}

func (s *Redis) key(ns string) string { return s.prefix + ns }

func (s *Redis) Load(ctx context.Context, ns string) ([]crdt.Op, error) {
	frames, err := s.client.LRange(ctx, s.key(ns), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", ns, err)
	}
	ops := make([]crdt.Op, 0, len(frames))
	for i, f := range frames {
		op, err := crdt.DecodeOp([]byte(f))
		if err != nil {
			log.Printf("redis: skipping entry %d in %s: %v", i, ns, err)
			continue
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func (s *Redis) Append(ctx context.Context, ns string, ops ...crdt.Op) error {
	if len(ops) == 0 {
		return nil
	}
	frames, err := encodeAll(ops)
	if err != nil {
		return err
	}
	if err := s.client.RPush(ctx, s.key(ns), toAny(frames)...).Err(); err != nil {
		return fmt.Errorf("append %s: %w", ns, err)
	}
	return nil
}

// Compact swaps the list of ns for ops atomically.
func (s *Redis) Compact(ctx context.Context, ns string, ops []crdt.Op) error {
	frames, err := encodeAll(ops)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(ns))
		if len(frames) > 0 {
			pipe.RPush(ctx, s.key(ns), toAny(frames)...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("compact %s: %w", ns, err)
	}
	return nil
}

func (s *Redis) Close() error { return s.client.Close() }

func toAny(frames [][]byte) []any {
	out := make([]any, len(frames))
	for i, f := range frames {
		out[i] = f
	}
	return out
}
