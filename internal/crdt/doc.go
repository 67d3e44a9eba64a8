// Package crdt implements the replicated document: named ordered lists (RGA)
// of records whose fields are last-writer-wins registers.
//
// A Doc is not safe for concurrent use. Every replica drives its Doc from a
// single goroutine; concurrency between replicas is resolved by the merge
// rules, never by locks.
package crdt

import (
	"log"
	"maps"

	"github.com/dairyisscary/syn/internal/notify"
	"github.com/dairyisscary/syn/pkg/types"
)

type Doc struct {
	client types.ClientID
	clock  Lamport
	seq    uint64

	lists   map[string]*List
	records map[ID]*Record
	sv      StateVector
	log     []Op
	pending []Op

	updates notify.List[Update]
}

func NewDoc(client types.ClientID) *Doc {
	return &Doc{
		client:  client,
		lists:   make(map[string]*List),
		records: make(map[ID]*Record),
		sv:      make(StateVector),
	}
}

func (d *Doc) Client() types.ClientID { return d.client }

// List returns the list registered under name, creating an empty one on
// first use. Lists are identified by name on every replica.
func (d *Doc) List(name string) *List {
	if l, ok := d.lists[name]; ok {
		return l
	}
	l := &List{doc: d, name: name}
	d.lists[name] = l
	return l
}

// OnUpdate registers fn for every operation integrated into the document,
// whatever its origin.
func (d *Doc) OnUpdate(fn func(Update)) (cancel func()) { return d.updates.Add(fn) }

// StateVector returns a copy of the per-client integrated Seq.
func (d *Doc) StateVector() StateVector { return maps.Clone(d.sv) }

// OpsSince returns every integrated operation not covered by sv, in
// integration order. A nil vector returns the full history.
func (d *Doc) OpsSince(sv StateVector) []Op {
	out := make([]Op, 0, len(d.log))
	for _, op := range d.log {
		if !sv.Covers(op.ID.Client, op.Seq) {
			out = append(out, op)
		}
	}
	return out
}

// Pending is the number of received operations waiting for a dependency.
func (d *Doc) Pending() int { return len(d.pending) }

// Apply integrates operations received from a peer or replayed from storage.
// Duplicates are ignored and operations whose dependencies have not arrived
// yet are held back until they do; Apply never rejects an operation because
// of a conflict.
func (d *Doc) Apply(origin Origin, ops ...Op) {
	progressed := false
	for _, op := range ops {
		if err := op.validate(); err != nil {
			log.Printf("crdt: dropping op: %v", err)
			continue
		}
		if d.sv.Covers(op.ID.Client, op.Seq) || d.isPending(op) {
			continue
		}
		if d.ready(op) {
			d.integrate(op, origin)
			progressed = true
		} else {
			d.pending = append(d.pending, op)
		}
	}
	for progressed && len(d.pending) > 0 {
		progressed = false
		rest := d.pending[:0:0]
		for _, op := range d.pending {
			switch {
			case d.sv.Covers(op.ID.Client, op.Seq):
			case d.ready(op):
				d.integrate(op, origin)
				progressed = true
			default:
				rest = append(rest, op)
			}
		}
		d.pending = rest
	}
}

func (d *Doc) isPending(op Op) bool {
	for _, p := range d.pending {
		if p.ID == op.ID {
			return true
		}
	}
	return false
}

// ready reports whether every dependency of op is integrated: the previous
// operation of the same client, and the element or record it refers to.
func (d *Doc) ready(op Op) bool {
	if op.Seq != d.sv[op.ID.Client]+1 {
		return false
	}
	switch op.Kind {
	case OpInsert:
		if op.After.IsZero() {
			return true
		}
		rec, ok := d.records[op.After]
		return ok && rec.list.name == op.List
	case OpSet:
		_, ok := d.records[op.Target]
		return ok
	}
	return false
}

func (d *Doc) newOp(kind OpKind) Op {
	d.seq++
	return Op{Kind: kind, ID: ID{Clock: d.clock.Tick(), Client: d.client}, Seq: d.seq}
}

func (d *Doc) integrate(op Op, origin Origin) {
	d.sv[op.ID.Client] = op.Seq
	d.clock.Observe(op.ID.Clock)
	if op.ID.Client == d.client && op.Seq > d.seq {
		d.seq = op.Seq
	}
	d.log = append(d.log, op)

	switch op.Kind {
	case OpInsert:
		l := d.List(op.List)
		rec := newRecord(d, l, op.ID, op.Fields)
		d.records[op.ID] = rec
		idx := l.insert(rec, op.After)
		l.obs.Emit(ListEvent{Inserted: []int{idx}, Origin: origin})
	case OpSet:
		rec := d.records[op.Target]
		if rec.write(op.Field, op.Value, op.ID) {
			rec.obs.Emit(MapEvent{Keys: []string{op.Field}, Origin: origin})
		}
	}
	d.updates.Emit(Update{Op: op, Origin: origin})
}
