// Package canvas defines the typed schema of the shared canvas and validates
// it at the document boundary.
package canvas

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dairyisscary/syn/internal/crdt"
)

var ErrInvalidBox = errors.New("invalid box")

// BoxesList is the document list holding the boxes.
const BoxesList = "boxes"

const (
	FieldPosition = "position"
	FieldSize     = "size"
	FieldColor    = "color"
)

// Position is a pixel offset from the top-left corner of the canvas.
type Position struct {
	Top  float64 `json:"top"`
	Left float64 `json:"left"`
}

func (p Position) Add(dTop, dLeft float64) Position {
	return Position{Top: p.Top + dTop, Left: p.Left + dLeft}
}

// Sub returns the offset from o to p.
func (p Position) Sub(o Position) (dTop, dLeft float64) {
	return p.Top - o.Top, p.Left - o.Left
}

type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

var DefaultSize = Size{Width: 100, Height: 100}

type Box struct {
	Position Position `json:"position"`
	Size     Size     `json:"size"`
	Color    Color    `json:"color"`
}

func (b Box) Validate() error {
	if !b.Color.Valid() {
		return fmt.Errorf("%w: unknown color %q", ErrInvalidBox, b.Color)
	}
	if b.Size.Width < 0 || b.Size.Height < 0 {
		return fmt.Errorf("%w: negative size %+v", ErrInvalidBox, b.Size)
	}
	return nil
}

// Fields encodes the box as document record fields.
func (b Box) Fields() (map[string]json.RawMessage, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	pos, err := json.Marshal(b.Position)
	if err != nil {
		return nil, err
	}
	size, err := json.Marshal(b.Size)
	if err != nil {
		return nil, err
	}
	color, err := json.Marshal(b.Color)
	if err != nil {
		return nil, err
	}
	return map[string]json.RawMessage{FieldPosition: pos, FieldSize: size, FieldColor: color}, nil
}

// DecodeBox reads and validates a box record.
func DecodeBox(rec *crdt.Record) (Box, error) {
	var b Box
	if err := decodeField(rec, FieldPosition, &b.Position); err != nil {
		return b, err
	}
	if err := decodeField(rec, FieldSize, &b.Size); err != nil {
		return b, err
	}
	if err := decodeField(rec, FieldColor, &b.Color); err != nil {
		return b, err
	}
	return b, b.Validate()
}

func decodeField(rec *crdt.Record, field string, dst any) error {
	v, ok := rec.Get(field)
	if !ok {
		return fmt.Errorf("%w: record %s has no %s", ErrInvalidBox, rec.ID(), field)
	}
	return decodeRaw(field, v, dst)
}

func decodeRaw(field string, v json.RawMessage, dst any) error {
	if err := json.Unmarshal(v, dst); err != nil {
		if errors.Is(err, ErrInvalidBox) {
			return err
		}
		return fmt.Errorf("%w: %s: %v", ErrInvalidBox, field, err)
	}
	return nil
}
