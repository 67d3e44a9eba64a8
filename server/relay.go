package main

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/dairyisscary/syn/internal/crdt"
	"github.com/dairyisscary/syn/internal/netx"
	"github.com/dairyisscary/syn/internal/protocol"
	"github.com/dairyisscary/syn/internal/replica"
	"github.com/dairyisscary/syn/internal/store"
	"github.com/dairyisscary/syn/pkg/types"
)

const writeWait = 10 * time.Second

// Relay bridges agents that cannot reach each other. Each websocket client
// of a room is subscribed to the room's Redis channel, so several relay
// instances can serve the same room.
type Relay struct {
	rdb      *redis.Client
	upgrader websocket.Upgrader
	archive  *Archive
}

func NewRelay(rdb *redis.Client, archive *Archive) *Relay {
	return &Relay{
		rdb: rdb,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		archive: archive,
	}
}

func (s *Relay) Routes(r *mux.Router) {
	r.HandleFunc("/ws/{room}", s.serveRoom)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if err := s.rdb.Ping(req.Context()).Err(); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
}

func (s *Relay) serveRoom(w http.ResponseWriter, r *http.Request) {
	room := mux.Vars(r)["room"]
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if s.archive != nil {
		if err := s.archive.Ensure(room); err != nil {
			log.Printf("relay: archive %s: %v", room, err)
		}
	}

	pubsub := s.rdb.Subscribe(ctx, netx.RoomChannel(room))
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		http.Error(w, "subscribe failed", http.StatusServiceUnavailable)
		log.Printf("relay: subscribe %s: %v", room, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("relay: upgrade: %v", err)
		return
	}
	defer conn.Close()
	log.Printf("relay: client connected to %s from %s", room, conn.RemoteAddr())

	go func() {
		defer cancel()
		for m := range pubsub.Channel() {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m.Payload)); err != nil {
				log.Printf("relay: write: %v", err)
				return
			}
		}
	}()

	seen := make(map[types.ClientID]struct{})
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			break
		}
		msg, err := protocol.Decode(frame)
		if err != nil {
			log.Printf("relay: %v", err)
			continue
		}
		msg.Room = room
		if msg.Type == protocol.MsgLeave {
			for _, id := range msg.Clients {
				delete(seen, id)
			}
		} else {
			seen[msg.From] = struct{}{}
		}
		if err := netx.Publish(ctx, s.rdb, msg); err != nil {
			log.Printf("relay: %v", err)
		}
	}

	log.Printf("relay: client left %s", room)
	if len(seen) == 0 {
		return
	}
	gone := make([]types.ClientID, 0, len(seen))
	for id := range seen {
		gone = append(gone, id)
	}
	leave := protocol.Message{Room: room, From: gone[0], Type: protocol.MsgLeave, Clients: gone}
	if err := netx.Publish(context.Background(), s.rdb, leave); err != nil {
		log.Printf("relay: %v", err)
	}
}

// Archive keeps one headless replica per room on the Redis channel so a
// room's document outlives its agents.
type Archive struct {
	rdb   *redis.Client
	store store.Store
	ctx   context.Context

	mu    sync.Mutex
	rooms map[string]*replica.Replica
}

func NewArchive(ctx context.Context, rdb *redis.Client, st store.Store) *Archive {
	return &Archive{rdb: rdb, store: st, ctx: ctx, rooms: make(map[string]*replica.Replica)}
}

// Ensure starts the replica of room unless it is already running.
func (a *Archive) Ensure(room string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.rooms[room]; ok {
		return nil
	}
	id := types.ClientID("archive-" + types.NewClientID().String())
	rep := replica.New(replica.Options{
		Room:    room,
		Client:  id,
		Network: netx.NewRedis(a.rdb, id, room),
		Store:   sharedStore{a.store},
	})
	if err := rep.Start(a.ctx); err != nil {
		return err
	}
	// the archive is a silent participant
	_ = rep.Do(a.ctx, func() { rep.Presence().SetLocalState(nil) })
	a.rooms[room] = rep
	log.Printf("archive: serving %s as %s", room, id)
	return nil
}

// Close stops every room replica.
func (a *Archive) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for room, rep := range a.rooms {
		if err := rep.Close(); err != nil {
			log.Printf("archive: close %s: %v", room, err)
		}
		delete(a.rooms, room)
	}
}

// sharedStore lets every room replica use one store without closing it.
type sharedStore struct{ store.Store }

func (sharedStore) Close() error { return nil }

func (s sharedStore) Compact(ctx context.Context, ns string, ops []crdt.Op) error {
	if c, ok := s.Store.(store.Compacter); ok {
		return c.Compact(ctx, ns, ops)
	}
	return nil
}
