package netx

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/dairyisscary/syn/internal/protocol"
	"github.com/dairyisscary/syn/pkg/types"
)

// RoomChannel is the pub/sub channel carrying the messages of room.
func RoomChannel(room string) string { return "syn:room:" + room }

// Redis joins a room through Redis pub/sub. Every member subscribes to the
// room channel and publishes its outbox to it.
type Redis struct {
	rdb    *redis.Client
	self   types.ClientID
	room   string
	inbox  chan protocol.Message
	outbox chan protocol.Message

	once   sync.Once
	pubsub *redis.PubSub
}

func NewRedis(rdb *redis.Client, self types.ClientID, room string) *Redis {
	return &Redis{
		rdb:    rdb,
		self:   self,
		room:   room,
		inbox:  make(chan protocol.Message, queueSize),
		outbox: make(chan protocol.Message, queueSize),
	}
}

func (r *Redis) Inbox() <-chan protocol.Message  { return r.inbox }
func (r *Redis) Outbox() chan<- protocol.Message { return r.outbox }

// Start subscribes and waits for the subscription to be confirmed, so
// nothing published after Start returns is missed.
func (r *Redis) Start(ctx context.Context) error {
	r.pubsub = r.rdb.Subscribe(ctx, RoomChannel(r.room))
	if _, err := r.pubsub.Receive(ctx); err != nil {
		_ = r.pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", RoomChannel(r.room), err)
	}
	r.inbox <- protocol.Message{Room: r.room, From: r.self, Type: protocol.MsgConnected}

	go r.readLoop(ctx)
	go r.writeLoop(ctx)
	return nil
}

func (r *Redis) readLoop(ctx context.Context) {
	for m := range r.pubsub.Channel() {
		msg, err := protocol.Decode([]byte(m.Payload))
		if err != nil {
			log.Printf("redis: %v", err)
			continue
		}
		if msg.From == r.self || (msg.To != "" && msg.To != r.self) {
			continue
		}
		select {
		case r.inbox <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (r *Redis) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.Close()
			return
		case msg := <-r.outbox:
			msg.Room = r.room
			if msg.From == "" {
				msg.From = r.self
			}
			if err := Publish(ctx, r.rdb, msg); err != nil {
				log.Printf("redis: %v", err)
			}
		}
	}
}

// Publish sends msg to the channel of its room.
func Publish(ctx context.Context, rdb *redis.Client, msg protocol.Message) error {
	frame, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if err := rdb.Publish(ctx, RoomChannel(msg.Room), frame).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", RoomChannel(msg.Room), err)
	}
	return nil
}

func (r *Redis) Close() error {
	var err error
	r.once.Do(func() {
		if r.pubsub != nil {
			err = r.pubsub.Close()
		}
	})
	return err
}
