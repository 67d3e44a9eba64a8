package netx

import (
	"context"
	"log"
	"sync"

	"github.com/dairyisscary/syn/internal/protocol"
	"github.com/dairyisscary/syn/pkg/types"
)

// Bus connects in-process replicas, for tests and single-process demos.
type Bus struct {
	mu      sync.Mutex
	members map[types.ClientID]*Inproc
}

func NewBus() *Bus { return &Bus{members: make(map[types.ClientID]*Inproc)} }

// Join returns the Network endpoint of self. It takes part in the bus once
// started.
func (b *Bus) Join(self types.ClientID) *Inproc {
	return &Inproc{
		bus:    b,
		self:   self,
		inbox:  make(chan protocol.Message, queueSize),
		outbox: make(chan protocol.Message, queueSize),
		done:   make(chan struct{}),
	}
}

func (b *Bus) add(n *Inproc) {
	b.mu.Lock()
	b.members[n.self] = n
	b.mu.Unlock()
}

// remove detaches n and tells the others it left, the way a socket
// transport notices a dropped connection.
func (b *Bus) remove(n *Inproc) {
	b.mu.Lock()
	if b.members[n.self] == n {
		delete(b.members, n.self)
	}
	b.mu.Unlock()
	b.deliver(protocol.Message{From: n.self, Type: protocol.MsgLeave, Clients: []types.ClientID{n.self}})
}

func (b *Bus) deliver(msg protocol.Message) {
	b.mu.Lock()
	targets := make([]*Inproc, 0, len(b.members))
	for id, m := range b.members {
		if id == msg.From || (msg.To != "" && msg.To != id) {
			continue
		}
		targets = append(targets, m)
	}
	b.mu.Unlock()
	for _, m := range targets {
		select {
		case m.inbox <- msg:
		default:
			log.Printf("inproc: inbox of %s full, dropping %s", m.self, msg.Type)
		}
	}
}

// Inproc is one member of a Bus.
type Inproc struct {
	bus    *Bus
	self   types.ClientID
	inbox  chan protocol.Message
	outbox chan protocol.Message

	once sync.Once
	done chan struct{}
}

func (n *Inproc) Inbox() <-chan protocol.Message  { return n.inbox }
func (n *Inproc) Outbox() chan<- protocol.Message { return n.outbox }

func (n *Inproc) Start(ctx context.Context) error {
	n.bus.add(n)
	go func() {
		for {
			select {
			case <-ctx.Done():
				n.Close()
				return
			case <-n.done:
				return
			case msg := <-n.outbox:
				n.bus.deliver(msg)
			}
		}
	}()
	return nil
}

func (n *Inproc) Close() error {
	n.once.Do(func() {
		close(n.done)
		n.bus.remove(n)
	})
	return nil
}
