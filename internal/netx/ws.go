package netx

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"

	"github.com/dairyisscary/syn/internal/protocol"
	"github.com/dairyisscary/syn/pkg/types"
)

const writeWait = 10 * time.Second

// WS is a websocket mesh. It accepts connections through ServeHTTP and
// keeps dialed connections alive with Dial; every message on Outbox is sent
// to all connected peers.
type WS struct {
	self     types.ClientID
	room     string
	inbox    chan protocol.Message
	outbox   chan protocol.Message
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	ctx   context.Context
	peers map[*wsPeer]struct{}
}

// wsPeer is one connection. clients collects the senders seen on it so
// their presence can be dropped when it closes.
type wsPeer struct {
	conn    *websocket.Conn
	send    chan []byte
	mu      sync.Mutex
	clients map[types.ClientID]struct{}
}

func NewWS(self types.ClientID, room string) *WS {
	return &WS{
		self:   self,
		room:   room,
		inbox:  make(chan protocol.Message, queueSize),
		outbox: make(chan protocol.Message, queueSize),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		ctx:   context.Background(),
		peers: make(map[*wsPeer]struct{}),
	}
}

func (w *WS) Inbox() <-chan protocol.Message  { return w.inbox }
func (w *WS) Outbox() chan<- protocol.Message { return w.outbox }

func (w *WS) Start(ctx context.Context) error {
	w.mu.Lock()
	w.ctx = ctx
	w.mu.Unlock()
	go func() {
		for {
			select {
			case <-ctx.Done():
				w.Close()
				return
			case msg := <-w.outbox:
				w.broadcast(msg)
			}
		}
	}()
	return nil
}

// Peers is the number of open connections.
func (w *WS) Peers() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.peers)
}

// ServeHTTP upgrades an incoming peer connection and serves it until it
// closes.
func (w *WS) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		log.Printf("ws: upgrade: %v", err)
		return
	}
	w.serve(conn)
}

// Dial connects to url in the background and redials with exponential
// backoff whenever the connection drops, until ctx is done.
func (w *WS) Dial(ctx context.Context, url string) {
	go func() {
		b := backoff.NewExponentialBackOff()
		b.MaxElapsedTime = 0
		bc := backoff.WithContext(b, ctx)
		for {
			var conn *websocket.Conn
			err := backoff.Retry(func() error {
				c, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
				if err != nil {
					log.Printf("ws: dial %s: %v", url, err)
					return err
				}
				conn = c
				return nil
			}, bc)
			if err != nil {
				return
			}
			log.Printf("ws: connected to %s", url)
			w.serve(conn)
			if ctx.Err() != nil {
				return
			}
		}
	}()
}

func (w *WS) Close() error {
	w.mu.Lock()
	peers := make([]*wsPeer, 0, len(w.peers))
	for p := range w.peers {
		peers = append(peers, p)
	}
	w.mu.Unlock()
	for _, p := range peers {
		_ = p.conn.Close()
	}
	return nil
}

func (w *WS) serve(conn *websocket.Conn) {
	p := &wsPeer{conn: conn, send: make(chan []byte, 256), clients: make(map[types.ClientID]struct{})}
	w.mu.Lock()
	w.peers[p] = struct{}{}
	ctx := w.ctx
	w.mu.Unlock()
	log.Printf("ws: peer connected: %s (total %d)", conn.RemoteAddr(), w.Peers())

	go p.writePump()
	w.deliver(ctx, protocol.Message{Room: w.room, From: w.self, Type: protocol.MsgConnected})
	w.readPump(ctx, p)

	w.mu.Lock()
	delete(w.peers, p)
	gone := w.unreachable(p.seen())
	w.mu.Unlock()
	close(p.send)
	_ = conn.Close()
	log.Printf("ws: peer disconnected: %s (total %d)", conn.RemoteAddr(), w.Peers())

	if len(gone) > 0 {
		w.deliver(ctx, protocol.Message{Room: w.room, From: gone[0], Type: protocol.MsgLeave, Clients: gone})
	}
}

// unreachable filters out the clients still heard on another connection.
// Callers hold w.mu.
func (w *WS) unreachable(ids []types.ClientID) []types.ClientID {
	out := ids[:0]
	for _, id := range ids {
		reachable := false
		for other := range w.peers {
			if other.has(id) {
				reachable = true
				break
			}
		}
		if !reachable {
			out = append(out, id)
		}
	}
	return out
}

func (w *WS) readPump(ctx context.Context, p *wsPeer) {
	for {
		_, frame, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("ws: read: %v", err)
			}
			return
		}
		msg, err := protocol.Decode(frame)
		if err != nil {
			log.Printf("ws: %v", err)
			continue
		}
		if msg.Room != w.room || msg.From == w.self {
			continue
		}
		p.saw(msg)
		if msg.To != "" && msg.To != w.self {
			continue
		}
		if !w.deliver(ctx, msg) {
			return
		}
	}
}

func (w *WS) deliver(ctx context.Context, msg protocol.Message) bool {
	select {
	case w.inbox <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

func (w *WS) broadcast(msg protocol.Message) {
	if msg.Room == "" {
		msg.Room = w.room
	}
	frame, err := protocol.Encode(msg)
	if err != nil {
		log.Printf("ws: encode: %v", err)
		return
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	for p := range w.peers {
		select {
		case p.send <- frame:
		default:
			log.Printf("ws: send queue full for %s, closing", p.conn.RemoteAddr())
			_ = p.conn.Close()
		}
	}
}

func (p *wsPeer) saw(msg protocol.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if msg.Type == protocol.MsgLeave {
		for _, id := range msg.Clients {
			delete(p.clients, id)
		}
		return
	}
	p.clients[msg.From] = struct{}{}
}

func (p *wsPeer) has(id types.ClientID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.clients[id]
	return ok
}

func (p *wsPeer) seen() []types.ClientID {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.ClientID, 0, len(p.clients))
	for id := range p.clients {
		out = append(out, id)
	}
	return out
}

func (p *wsPeer) writePump() {
	for frame := range p.send {
		_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := p.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			log.Printf("ws: write: %v", err)
			_ = p.conn.Close()
			return
		}
	}
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = p.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
