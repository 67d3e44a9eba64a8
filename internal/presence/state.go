package presence

import (
	"errors"
	"fmt"

	"github.com/dairyisscary/syn/internal/canvas"
	"github.com/dairyisscary/syn/pkg/types"
)

var (
	ErrUnknownField = errors.New("unknown presence field")
	ErrInvalidValue = errors.New("invalid presence value")
)

// Field enumerates the fields of a presence State.
type Field string

const (
	FieldName     Field = "name"
	FieldJoinedOn Field = "joinedOn"
	FieldCursor   Field = "cursor"
)

// State is one participant's broadcast presence. A zero Name means the
// participant has not logged in yet. Cursor is nil while the pointer is not
// over the canvas.
type State struct {
	Name     string           `json:"name,omitempty"`
	JoinedOn int64            `json:"joinedOn,omitempty"`
	Cursor   *canvas.Position `json:"cursor,omitempty"`
}

func (s State) Equal(o State) bool {
	if s.Name != o.Name || s.JoinedOn != o.JoinedOn {
		return false
	}
	if s.Cursor == nil || o.Cursor == nil {
		return s.Cursor == o.Cursor
	}
	return *s.Cursor == *o.Cursor
}

func (s State) clone() State {
	if s.Cursor != nil {
		c := *s.Cursor
		s.Cursor = &c
	}
	return s
}

// with returns a copy of s with one field replaced.
func (s State) with(field Field, value any) (State, error) {
	s = s.clone()
	switch field {
	case FieldName:
		name, ok := value.(string)
		if !ok {
			return s, fmt.Errorf("%w: %s must be a string, got %T", ErrInvalidValue, field, value)
		}
		s.Name = name
	case FieldJoinedOn:
		switch v := value.(type) {
		case int64:
			s.JoinedOn = v
		case int:
			s.JoinedOn = int64(v)
		default:
			return s, fmt.Errorf("%w: %s must be an integer, got %T", ErrInvalidValue, field, value)
		}
	case FieldCursor:
		switch v := value.(type) {
		case nil:
			s.Cursor = nil
		case canvas.Position:
			s.Cursor = &v
		case *canvas.Position:
			if v == nil {
				s.Cursor = nil
			} else {
				c := *v
				s.Cursor = &c
			}
		default:
			return s, fmt.Errorf("%w: %s must be a position, got %T", ErrInvalidValue, field, value)
		}
	default:
		return s, fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	return s, nil
}

// Entry is the wire form of one client's presence. A nil State announces
// that the client went offline.
type Entry struct {
	Client types.ClientID `json:"client"`
	Clock  uint64         `json:"clock"`
	State  *State         `json:"state"`
}

// Update carries presence entries between replicas.
type Update struct {
	Entries []Entry `json:"entries"`
}

func (u Update) Clients() []types.ClientID {
	out := make([]types.ClientID, 0, len(u.Entries))
	for _, e := range u.Entries {
		out = append(out, e.Client)
	}
	return out
}
