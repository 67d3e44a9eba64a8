package protocol

import (
	"encoding/json"
	"testing"

	"github.com/dairyisscary/syn/internal/crdt"
	"github.com/dairyisscary/syn/internal/presence"
)

func TestEncodeCarriesOpsAndPresence(t *testing.T) {
	doc := crdt.NewDoc("a")
	doc.List("boxes").Append(map[string]json.RawMessage{"color": json.RawMessage(`"love"`)})
	ch := presence.New("a")
	ch.SetLocalState(&presence.State{Name: "ada"})
	aw := ch.EncodeUpdate()

	b, err := Encode(Message{Room: "r", From: "a", Type: MsgUpdate, Ops: doc.OpsSince(nil), Awareness: &aw, StateVector: doc.StateVector()})
	if err != nil {
		t.Fatal(err)
	}
	msg, err := Decode(b)
	if err != nil {
		t.Fatal(err)
	}

	other := crdt.NewDoc("b")
	other.Apply(crdt.Remote, msg.Ops...)
	if other.List("boxes").Len() != 1 {
		t.Fatal("decoded ops did not apply")
	}
	if msg.StateVector["a"] != 1 {
		t.Fatalf("state vector = %v", msg.StateVector)
	}
	peer := presence.New("b")
	peer.ApplyUpdate(*msg.Awareness)
	if peer.Remote()["a"].Name != "ada" {
		t.Fatalf("presence = %+v", peer.Remote())
	}
}

func TestDecodeRejects(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`{"from":"a"}`,
		`{"type":"UPDATE"}`,
	} {
		if _, err := Decode([]byte(raw)); err == nil {
			t.Errorf("%s: expected an error", raw)
		}
	}
}
