package canvas

import (
	"encoding/json"
	"fmt"
	"math/rand"
)

// Color is a palette entry name.
type Color string

const (
	Love Color = "love"
	Gold Color = "gold"
	Rose Color = "rose"
	Pine Color = "pine"
	Foam Color = "foam"
	Iris Color = "iris"
)

// Palette lists the colors in display order.
var Palette = []Color{Love, Gold, Rose, Pine, Foam, Iris}

var hexByColor = map[Color]string{
	Love: "#eb6f92",
	Gold: "#f6c177",
	Rose: "#ebbcba",
	Pine: "#31748f",
	Foam: "#9ccfd8",
	Iris: "#c4a7e7",
}

func (c Color) Valid() bool {
	_, ok := hexByColor[c]
	return ok
}

// Hex returns the CSS color, or "" for an unknown name.
func (c Color) Hex() string { return hexByColor[c] }

// ColorFromName validates a palette name.
func ColorFromName(name string) (Color, error) {
	c := Color(name)
	if !c.Valid() {
		return "", fmt.Errorf("%w: unknown color %q", ErrInvalidBox, name)
	}
	return c, nil
}

// ColorFromIndex picks a color for the i-th item of a list, wrapping around
// the palette. Used for cursor colors.
func ColorFromIndex(i int) Color {
	n := len(Palette)
	i %= n
	if i < 0 {
		i = -i
	}
	return Palette[i]
}

func RandomColor(rng *rand.Rand) Color {
	return Palette[rng.Intn(len(Palette))]
}

func (c *Color) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return fmt.Errorf("%w: color: %v", ErrInvalidBox, err)
	}
	parsed, err := ColorFromName(name)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
