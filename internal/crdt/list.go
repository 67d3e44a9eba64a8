package crdt

import (
	"encoding/json"
	"maps"

	"github.com/dairyisscary/syn/internal/notify"
)

// ListEvent reports the indices of records inserted by one operation.
type ListEvent struct {
	Inserted []int
	Origin   Origin
}

// List is an ordered, append-only collection of records. Concurrent inserts
// after the same element are ordered by descending ID, which makes every
// replica settle on the same order.
type List struct {
	doc   *Doc
	name  string
	elems []*Record
	obs   notify.List[ListEvent]
}

func (l *List) Name() string { return l.name }
func (l *List) Len() int     { return len(l.elems) }

// Get returns the record at index in this replica's current view.
func (l *List) Get(index int) (*Record, bool) {
	if index < 0 || index >= len(l.elems) {
		return nil, false
	}
	return l.elems[index], true
}

// Records returns a copy of the current sequence.
func (l *List) Records() []*Record {
	return append([]*Record(nil), l.elems...)
}

// Append adds a record holding fields after the current last element.
func (l *List) Append(fields map[string]json.RawMessage) *Record {
	op := l.doc.newOp(OpInsert)
	op.List = l.name
	if n := len(l.elems); n > 0 {
		op.After = l.elems[n-1].id
	}
	op.Fields = maps.Clone(fields)
	l.doc.integrate(op, Local)
	return l.doc.records[op.ID]
}

// Observe registers fn for insertions into the list. Field changes of the
// contained records are reported on the records themselves.
func (l *List) Observe(fn func(ListEvent)) (unobserve func()) { return l.obs.Add(fn) }

func (l *List) ObserverCount() int { return l.obs.Len() }

func (l *List) insert(rec *Record, after ID) int {
	i := 0
	if !after.IsZero() {
		i = l.indexOf(after) + 1
	}
	for i < len(l.elems) && rec.id.Less(l.elems[i].id) {
		i++
	}
	l.elems = append(l.elems, nil)
	copy(l.elems[i+1:], l.elems[i:])
	l.elems[i] = rec
	return i
}

func (l *List) indexOf(id ID) int {
	for i, rec := range l.elems {
		if rec.id == id {
			return i
		}
	}
	return -1
}
