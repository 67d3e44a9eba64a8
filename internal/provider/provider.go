// Package provider runs the sync protocol of one replica: state vector
// exchange, op broadcast and presence gossip. It owns no goroutine; the
// replica feeds it inbound messages from its dispatcher loop.
package provider

import (
	"context"
	"log"

	"github.com/dairyisscary/syn/internal/crdt"
	"github.com/dairyisscary/syn/internal/presence"
	"github.com/dairyisscary/syn/internal/protocol"
	"github.com/dairyisscary/syn/pkg/types"
)

type Provider struct {
	ctx  context.Context
	room string
	doc  *crdt.Doc
	aw   *presence.Channel
	out  chan<- protocol.Message

	// answered holds peers we already sent our own step 1 to.
	answered map[types.ClientID]bool
	// asked holds peers whose updates arrived with a gap and that have not
	// answered our step 1 yet.
	asked map[types.ClientID]bool
	cancels  []func()
}

// New hooks the provider to doc and aw: local changes are broadcast on out
// from now on.
func New(ctx context.Context, room string, doc *crdt.Doc, aw *presence.Channel, out chan<- protocol.Message) *Provider {
	p := &Provider{
		ctx:      ctx,
		room:     room,
		doc:      doc,
		aw:       aw,
		out:      out,
		answered: make(map[types.ClientID]bool),
		asked:    make(map[types.ClientID]bool),
	}
	p.cancels = append(p.cancels,
		doc.OnUpdate(func(u crdt.Update) {
			if u.Origin == crdt.Local {
				p.send(protocol.Message{Type: protocol.MsgUpdate, Ops: []crdt.Op{u.Op}})
			}
		}),
		aw.OnUpdate(func(ch presence.Change) {
			if ch.Origin == presence.Local {
				u := aw.EncodeUpdate(ch.All()...)
				p.send(protocol.Message{Type: protocol.MsgAwareness, Awareness: &u})
			}
		}),
	)
	return p
}

func (p *Provider) self() types.ClientID { return p.doc.Client() }

// Handshake announces this replica to whoever is listening: our state
// vector, our presence, and a request for theirs.
func (p *Provider) Handshake() {
	p.send(protocol.Message{Type: protocol.MsgSyncStep1, StateVector: p.doc.StateVector()})
	u := p.aw.EncodeUpdate(p.self())
	p.send(protocol.Message{Type: protocol.MsgAwareness, Awareness: &u})
	p.send(protocol.Message{Type: protocol.MsgAwarenessQuery})
}

// Handle processes one inbound message.
func (p *Provider) Handle(msg protocol.Message) {
	if msg.Type != protocol.MsgConnected && msg.From == p.self() {
		return
	}
	if (msg.Room != "" && msg.Room != p.room) || (msg.To != "" && msg.To != p.self()) {
		return
	}

	switch msg.Type {
	case protocol.MsgConnected:
		p.Handshake()
	case protocol.MsgSyncStep1:
		p.send(protocol.Message{To: msg.From, Type: protocol.MsgSyncStep2, Ops: p.doc.OpsSince(msg.StateVector)})
		if !p.answered[msg.From] {
			p.answered[msg.From] = true
			p.send(protocol.Message{To: msg.From, Type: protocol.MsgSyncStep1, StateVector: p.doc.StateVector()})
		}
	case protocol.MsgSyncStep2:
		p.doc.Apply(crdt.Remote, msg.Ops...)
		delete(p.asked, msg.From)
	case protocol.MsgUpdate:
		p.doc.Apply(crdt.Remote, msg.Ops...)
		// a held back op means an earlier update from this sender was lost
		if p.doc.Pending() > 0 && !p.asked[msg.From] {
			p.asked[msg.From] = true
			p.send(protocol.Message{To: msg.From, Type: protocol.MsgSyncStep1, StateVector: p.doc.StateVector()})
		}
	case protocol.MsgAwareness:
		if msg.Awareness != nil {
			p.aw.ApplyUpdate(*msg.Awareness)
		}
	case protocol.MsgAwarenessQuery:
		u := p.aw.EncodeUpdate()
		p.send(protocol.Message{To: msg.From, Type: protocol.MsgAwareness, Awareness: &u})
	case protocol.MsgLeave:
		gone := make([]types.ClientID, 0, len(msg.Clients))
		for _, id := range msg.Clients {
			delete(p.answered, id)
			delete(p.asked, id)
			if id != p.self() {
				gone = append(gone, id)
			}
		}
		p.aw.RemoveStates(gone, presence.Remote)
	default:
		log.Printf("provider: unknown message type %q from %s", msg.Type, msg.From)
	}
}

// Resync asks the whole room for what we miss while ops are held back.
// The replica calls it periodically so a lost step 1 or step 2 is retried.
func (p *Provider) Resync() {
	if p.doc.Pending() == 0 {
		return
	}
	p.send(protocol.Message{Type: protocol.MsgSyncStep1, StateVector: p.doc.StateVector()})
}

// Leave tells the room this replica is going away.
func (p *Provider) Leave() {
	p.send(protocol.Message{Type: protocol.MsgLeave, Clients: []types.ClientID{p.self()}})
}

// Close detaches the provider from the document and the presence channel.
func (p *Provider) Close() {
	for i := len(p.cancels) - 1; i >= 0; i-- {
		p.cancels[i]()
	}
	p.cancels = nil
}

func (p *Provider) send(msg protocol.Message) {
	msg.Room = p.room
	msg.From = p.self()
	select {
	case p.out <- msg:
	case <-p.ctx.Done():
		log.Printf("provider: dropping %s, shutting down", msg.Type)
	}
}
