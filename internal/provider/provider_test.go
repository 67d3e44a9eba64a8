package provider

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/dairyisscary/syn/internal/crdt"
	"github.com/dairyisscary/syn/internal/presence"
	"github.com/dairyisscary/syn/internal/protocol"
	"github.com/dairyisscary/syn/pkg/types"
)

type peer struct {
	doc *crdt.Doc
	aw  *presence.Channel
	out chan protocol.Message
	p   *Provider
}

func newPeer(t *testing.T, id types.ClientID) *peer {
	t.Helper()
	doc := crdt.NewDoc(id)
	aw := presence.New(id)
	out := make(chan protocol.Message, 256)
	p := New(context.Background(), "room", doc, aw, out)
	t.Cleanup(p.Close)
	return &peer{doc: doc, aw: aw, out: out, p: p}
}

// pump delivers queued messages between peers until every outbox is empty
// and returns how many were delivered.
func pump(peers ...*peer) int {
	n := 0
	for {
		moved := false
		for _, from := range peers {
			select {
			case msg := <-from.out:
				moved = true
				n++
				for _, to := range peers {
					if to != from {
						to.p.Handle(msg)
					}
				}
			default:
			}
		}
		if !moved {
			return n
		}
	}
}

func drain(p *peer) {
	for {
		select {
		case <-p.out:
		default:
			return
		}
	}
}

func appendColor(p *peer, color string) {
	p.doc.List("boxes").Append(map[string]json.RawMessage{"color": json.RawMessage(`"` + color + `"`)})
}

func colors(doc *crdt.Doc) []string {
	var out []string
	for _, rec := range doc.List("boxes").Records() {
		v, _ := rec.Get("color")
		out = append(out, string(v))
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestHandshakeConverges(t *testing.T) {
	a, b := newPeer(t, "a"), newPeer(t, "b")
	appendColor(a, "love")
	appendColor(a, "gold")
	appendColor(b, "pine")
	// neither was connected while editing
	drain(a)
	drain(b)

	a.p.Handshake()
	if n := pump(a, b); n == 0 || n > 20 {
		t.Fatalf("handshake took %d messages", n)
	}
	if got := colors(a.doc); len(got) != 3 || !equal(got, colors(b.doc)) {
		t.Fatalf("a=%v b=%v", got, colors(b.doc))
	}
}

func TestLocalUpdatesBroadcast(t *testing.T) {
	a, b := newPeer(t, "a"), newPeer(t, "b")
	a.p.Handshake()
	pump(a, b)

	appendColor(a, "foam")
	rec, _ := a.doc.List("boxes").Get(0)
	rec.Set("color", json.RawMessage(`"iris"`))
	pump(a, b)
	if got := colors(b.doc); !equal(got, []string{`"iris"`}) {
		t.Fatalf("b = %v", got)
	}

	// remote ops are not echoed back
	if n := pump(a, b); n != 0 {
		t.Fatalf("%d messages after quiescence", n)
	}
}

func TestLostUpdateIsRequestedAgain(t *testing.T) {
	a, b := newPeer(t, "a"), newPeer(t, "b")
	a.p.Handshake()
	pump(a, b)

	appendColor(a, "love")
	<-a.out // lost in transit
	for _, c := range []string{"gold", "rose", "pine", "foam", "iris"} {
		appendColor(a, c)
	}
	pump(a, b)

	if b.doc.Pending() != 0 || !equal(colors(a.doc), colors(b.doc)) || len(colors(b.doc)) != 6 {
		t.Fatalf("a=%v b=%v pending=%d", colors(a.doc), colors(b.doc), b.doc.Pending())
	}
}

func TestResyncWhileOpsHeldBack(t *testing.T) {
	a, b := newPeer(t, "a"), newPeer(t, "b")
	b.p.Resync()
	if len(b.out) != 0 {
		t.Fatal("resync sent a step 1 with nothing held back")
	}

	appendColor(a, "love")
	appendColor(a, "gold")
	ops := a.doc.OpsSince(nil)
	drain(a)
	b.p.Handle(protocol.Message{Room: "room", From: "a", Type: protocol.MsgUpdate, Ops: ops[1:]})
	drain(b) // the direct request is lost too
	if b.doc.Pending() != 1 {
		t.Fatalf("pending = %d", b.doc.Pending())
	}

	b.p.Resync()
	pump(a, b)
	if b.doc.Pending() != 0 || !equal(colors(a.doc), colors(b.doc)) {
		t.Fatalf("a=%v b=%v pending=%d", colors(a.doc), colors(b.doc), b.doc.Pending())
	}
}

func TestPresenceGossipAndLeave(t *testing.T) {
	a, b := newPeer(t, "a"), newPeer(t, "b")
	a.aw.SetLocalState(&presence.State{Name: "ada"})
	b.aw.SetLocalState(&presence.State{Name: "bob"})
	drain(a)
	drain(b)

	b.p.Handshake()
	pump(a, b)
	if a.aw.Remote()["b"].Name != "bob" || b.aw.Remote()["a"].Name != "ada" {
		t.Fatalf("a sees %v, b sees %v", a.aw.Remote(), b.aw.Remote())
	}

	b.p.Leave()
	pump(a, b)
	if _, ok := a.aw.Remote()["b"]; ok {
		t.Fatal("b still present after leave")
	}
	// a leave naming ourselves never removes the local state
	a.p.Handle(protocol.Message{Room: "room", From: "relay", Type: protocol.MsgLeave, Clients: []types.ClientID{"a"}})
	if a.aw.LocalState() == nil {
		t.Fatal("local state removed by a peer")
	}
}

func TestIgnoresForeignMessages(t *testing.T) {
	a := newPeer(t, "a")
	other := crdt.NewDoc("z")
	other.List("boxes").Append(map[string]json.RawMessage{"color": json.RawMessage(`"rose"`)})
	ops := other.OpsSince(nil)

	for _, msg := range []protocol.Message{
		{Room: "elsewhere", From: "z", Type: protocol.MsgUpdate, Ops: ops},
		{Room: "room", From: "z", To: "b", Type: protocol.MsgUpdate, Ops: ops},
		{Room: "room", From: "a", Type: protocol.MsgUpdate, Ops: ops},
	} {
		a.p.Handle(msg)
	}
	if n := a.doc.List("boxes").Len(); n != 0 {
		t.Fatalf("applied %d foreign records", n)
	}

	a.p.Handle(protocol.Message{Room: "room", From: "z", To: "a", Type: protocol.MsgSyncStep2, Ops: ops})
	if n := a.doc.List("boxes").Len(); n != 1 {
		t.Fatalf("direct step 2 not applied: %d", n)
	}
}

func TestStepOneAnsweredOncePerPeer(t *testing.T) {
	a := newPeer(t, "a")
	step1 := protocol.Message{Room: "room", From: "b", Type: protocol.MsgSyncStep1}
	a.p.Handle(step1)
	a.p.Handle(step1)

	var steps1, steps2 int
	for len(a.out) > 0 {
		msg := <-a.out
		if msg.To != "b" {
			t.Fatalf("reply not addressed to b: %+v", msg)
		}
		switch msg.Type {
		case protocol.MsgSyncStep1:
			steps1++
		case protocol.MsgSyncStep2:
			steps2++
		}
	}
	if steps1 != 1 || steps2 != 2 {
		t.Fatalf("step1=%d step2=%d, want 1 and 2", steps1, steps2)
	}
}

func TestCloseStopsBroadcasting(t *testing.T) {
	a := newPeer(t, "a")
	a.p.Close()
	appendColor(a, "gold")
	a.aw.SetLocalState(&presence.State{Name: "ada"})
	if len(a.out) != 0 {
		t.Fatalf("%d messages after Close", len(a.out))
	}
}
