package crdt

import (
	"bytes"
	"encoding/json"
	"slices"

	"github.com/dairyisscary/syn/internal/notify"
)

// MapEvent names the fields of a record whose value changed.
type MapEvent struct {
	Keys   []string
	Origin Origin
}

type register struct {
	value json.RawMessage
	stamp ID
}

// Record is a map of named fields. Each field is a last-writer-wins register
// stamped with the ID of the operation that wrote it.
type Record struct {
	doc    *Doc
	list   *List
	id     ID
	fields map[string]register
	obs    notify.List[MapEvent]
}

func newRecord(d *Doc, l *List, id ID, fields map[string]json.RawMessage) *Record {
	r := &Record{doc: d, list: l, id: id, fields: make(map[string]register, len(fields))}
	for k, v := range fields {
		r.fields[k] = register{value: v, stamp: id}
	}
	return r
}

// ID is the id of the insert operation that created the record.
func (r *Record) ID() ID { return r.id }

func (r *Record) Get(field string) (json.RawMessage, bool) {
	reg, ok := r.fields[field]
	return reg.value, ok
}

// Set writes value to field. A local write always wins over every write
// this replica has seen so far.
func (r *Record) Set(field string, value json.RawMessage) {
	if value == nil {
		value = json.RawMessage("null")
	}
	op := r.doc.newOp(OpSet)
	op.Target = r.id
	op.Field = field
	op.Value = value
	r.doc.integrate(op, Local)
}

func (r *Record) Keys() []string {
	keys := make([]string, 0, len(r.fields))
	for k := range r.fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Fields returns a copy of the current field values.
func (r *Record) Fields() map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(r.fields))
	for k, reg := range r.fields {
		out[k] = reg.value
	}
	return out
}

// Observe registers fn for field changes on this record.
func (r *Record) Observe(fn func(MapEvent)) (unobserve func()) { return r.obs.Add(fn) }

func (r *Record) ObserverCount() int { return r.obs.Len() }

// write applies the LWW rule and reports whether the visible value changed.
func (r *Record) write(field string, value json.RawMessage, stamp ID) bool {
	cur, ok := r.fields[field]
	if ok && !cur.stamp.Less(stamp) {
		return false
	}
	r.fields[field] = register{value: value, stamp: stamp}
	return !ok || !bytes.Equal(cur.value, value)
}
