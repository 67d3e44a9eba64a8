package reactive

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/dairyisscary/syn/internal/crdt"
)

func TestSyncListFollowsLocalAndRemoteInserts(t *testing.T) {
	a, b := crdt.NewDoc("a"), crdt.NewDoc("b")
	s := NewScope()
	defer s.Dispose()

	boxes := SyncList(s, a.List("boxes"))
	if n := len(boxes.Get()); n != 0 {
		t.Fatalf("initial len = %d", n)
	}
	var lens []int
	boxes.Subscribe(func(recs []*crdt.Record) { lens = append(lens, len(recs)) })

	a.List("boxes").Append(nil)
	b.List("boxes").Append(nil)
	a.Apply(crdt.Remote, b.OpsSince(a.StateVector())...)

	if !reflect.DeepEqual(lens, []int{1, 2}) {
		t.Fatalf("emitted lengths = %v, want [1 2]", lens)
	}
	if len(boxes.Get()) != 2 {
		t.Fatalf("len = %d, want 2", len(boxes.Get()))
	}
}

func TestSyncMapFieldIsolation(t *testing.T) {
	d := crdt.NewDoc("a")
	rec := d.List("boxes").Append(map[string]json.RawMessage{
		"position": json.RawMessage(`{"top":1,"left":1}`),
		"color":    json.RawMessage(`"love"`),
	})
	s := NewScope()
	defer s.Dispose()
	fields := SyncMap(s, rec, "position", "color")

	positionCalls, colorCalls := 0, 0
	fields["position"].Subscribe(func(json.RawMessage) { positionCalls++ })
	fields["color"].Subscribe(func(json.RawMessage) { colorCalls++ })

	rec.Set("color", json.RawMessage(`"gold"`))
	if positionCalls != 0 {
		t.Fatalf("position observable recomputed %d times on a color change", positionCalls)
	}
	if colorCalls != 1 || string(fields["color"].Get()) != `"gold"` {
		t.Fatalf("color calls=%d value=%s", colorCalls, fields["color"].Get())
	}
	if string(fields["position"].Get()) != `{"top":1,"left":1}` {
		t.Fatalf("position = %s", fields["position"].Get())
	}
}

func TestRepeatedMountLeavesNoSubscriptions(t *testing.T) {
	d := crdt.NewDoc("a")
	l := d.List("boxes")
	rec := l.Append(nil)

	for i := 0; i < 10; i++ {
		s := NewScope()
		SyncList(s, l)
		SyncMap(s, rec, "color")
		s.Dispose()
	}
	if l.ObserverCount() != 0 || rec.ObserverCount() != 0 {
		t.Fatalf("observers left: list=%d record=%d", l.ObserverCount(), rec.ObserverCount())
	}

	s := NewScope()
	defer s.Dispose()
	boxes := SyncList(s, l)
	events := 0
	boxes.Subscribe(func([]*crdt.Record) { events++ })
	l.Append(nil)
	if events != 1 {
		t.Fatalf("events after remount = %d, want 1", events)
	}
}

func TestScopeDisposeOrder(t *testing.T) {
	s := NewScope()
	var order []int
	s.OnCleanup(func() { order = append(order, 1) })
	child := s.Child()
	child.OnCleanup(func() { order = append(order, 2) })
	s.OnCleanup(func() { order = append(order, 3) })

	s.Dispose()
	s.Dispose()
	if !reflect.DeepEqual(order, []int{3, 2, 1}) {
		t.Fatalf("order = %v, want [3 2 1]", order)
	}
	if !child.Disposed() {
		t.Fatal("child not disposed")
	}

	ran := false
	s.OnCleanup(func() { ran = true })
	if !ran {
		t.Fatal("cleanup on disposed scope should run immediately")
	}
}

func TestDerive(t *testing.T) {
	src := NewValue(2)
	s := NewScope()
	double := Derive(s, src, func(v int) int { return v * 2 })
	if double.Get() != 4 {
		t.Fatalf("initial = %d", double.Get())
	}
	src.Set(5)
	if double.Get() != 10 {
		t.Fatalf("after set = %d", double.Get())
	}
	s.Dispose()
	if src.Subscribers() != 0 {
		t.Fatalf("subscribers = %d after dispose", src.Subscribers())
	}
	src.Set(7)
	if double.Get() != 10 {
		t.Fatalf("derived value changed after dispose: %d", double.Get())
	}
}

func TestUnsubscribeDuringNotify(t *testing.T) {
	v := NewValue(0)
	var second func()
	calls := 0
	v.Subscribe(func(int) { second() })
	second = v.Subscribe(func(int) { calls++ })
	v.Set(1)
	if calls != 0 {
		t.Fatalf("removed subscriber was called %d times", calls)
	}
	if v.Subscribers() != 1 {
		t.Fatalf("subscribers = %d, want 1", v.Subscribers())
	}
}
