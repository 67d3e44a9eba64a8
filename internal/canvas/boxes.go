package canvas

import (
	"encoding/json"
	"fmt"

	"github.com/dairyisscary/syn/internal/crdt"
	"github.com/dairyisscary/syn/internal/reactive"
)

// Boxes is the typed view of the boxes list.
type Boxes struct {
	list *crdt.List
}

func NewBoxes(doc *crdt.Doc) *Boxes { return &Boxes{list: doc.List(BoxesList)} }

func (b *Boxes) List() *crdt.List { return b.list }
func (b *Boxes) Len() int         { return b.list.Len() }

func (b *Boxes) Append(box Box) (*crdt.Record, error) {
	fields, err := box.Fields()
	if err != nil {
		return nil, err
	}
	return b.list.Append(fields), nil
}

// Get decodes the box at index. ok is false when the index is out of range.
func (b *Boxes) Get(index int) (box Box, ok bool, err error) {
	rec, ok := b.list.Get(index)
	if !ok {
		return Box{}, false, nil
	}
	box, err = DecodeBox(rec)
	return box, true, err
}

// All decodes every box, skipping records that fail validation.
func (b *Boxes) All() []IndexedBox {
	return DecodeAll(b.list.Records())
}

// SetPosition writes a new position for the box at index.
func (b *Boxes) SetPosition(index int, pos Position) error {
	rec, ok := b.list.Get(index)
	if !ok {
		return fmt.Errorf("%w: no box at index %d", ErrInvalidBox, index)
	}
	v, err := json.Marshal(pos)
	if err != nil {
		return err
	}
	rec.Set(FieldPosition, v)
	return nil
}

// IndexedBox is a decoded box and its index in the boxes list.
type IndexedBox struct {
	Index int `json:"index"`
	Box
}

// DecodeAll decodes records into boxes, skipping invalid ones. Index keeps
// the list position, so it stays addressable by Get and SetPosition.
func DecodeAll(recs []*crdt.Record) []IndexedBox {
	out := make([]IndexedBox, 0, len(recs))
	for i, rec := range recs {
		if box, err := DecodeBox(rec); err == nil {
			out = append(out, IndexedBox{Index: i, Box: box})
		}
	}
	return out
}

// BoxView exposes one box record as per-field observables.
type BoxView struct {
	Position reactive.Observable[Position]
	Size     reactive.Observable[Size]
	Color    reactive.Observable[Color]
}

// Watch binds a BoxView to rec for the lifetime of s. A field that fails to
// decode reads as its zero value.
func Watch(s *reactive.Scope, rec *crdt.Record) BoxView {
	fields := reactive.SyncMap(s, rec, FieldPosition, FieldSize, FieldColor)
	return BoxView{
		Position: reactive.Derive(s, fields[FieldPosition], decodeOrZero[Position](FieldPosition)),
		Size:     reactive.Derive(s, fields[FieldSize], decodeOrZero[Size](FieldSize)),
		Color:    reactive.Derive(s, fields[FieldColor], decodeOrZero[Color](FieldColor)),
	}
}

func decodeOrZero[T any](field string) func(json.RawMessage) T {
	return func(v json.RawMessage) T {
		var out T
		if v == nil {
			return out
		}
		if err := decodeRaw(field, v, &out); err != nil {
			var zero T
			return zero
		}
		return out
	}
}
