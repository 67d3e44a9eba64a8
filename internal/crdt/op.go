package crdt

import (
	"encoding/json"
	"fmt"
)

type OpKind string

const (
	OpInsert OpKind = "insert"
	OpSet    OpKind = "set"
)

// Op is the unit of replication. An insert places a new record after the
// element After in list List; a set writes Value to field Field of record
// Target. Seq is the per-client contiguous counter used by state vectors.
type Op struct {
	Kind   OpKind                     `json:"kind"`
	ID     ID                         `json:"id"`
	Seq    uint64                     `json:"seq"`
	List   string                     `json:"list,omitempty"`
	After  ID                         `json:"after"`
	Fields map[string]json.RawMessage `json:"fields,omitempty"`
	Target ID                         `json:"target"`
	Field  string                     `json:"field,omitempty"`
	Value  json.RawMessage            `json:"value,omitempty"`
}

// Origin tells observers where an integrated operation came from.
type Origin int

const (
	// Local operations were issued through this replica's API.
	Local Origin = iota
	// Remote operations arrived from a peer.
	Remote
	// Restore operations were replayed from local persistence.
	Restore
)

func (o Origin) String() string {
	switch o {
	case Local:
		return "local"
	case Remote:
		return "remote"
	case Restore:
		return "restore"
	}
	return fmt.Sprintf("origin(%d)", int(o))
}

// Update is emitted by Doc.OnUpdate for every integrated operation.
type Update struct {
	Op     Op
	Origin Origin
}

func (op Op) validate() error {
	if op.ID.IsZero() || op.Seq == 0 {
		return fmt.Errorf("op %s: missing id or seq", op.ID)
	}
	switch op.Kind {
	case OpInsert:
		if op.List == "" {
			return fmt.Errorf("op %s: insert without list", op.ID)
		}
	case OpSet:
		if op.Field == "" || op.Target.IsZero() {
			return fmt.Errorf("op %s: set without target field", op.ID)
		}
	default:
		return fmt.Errorf("op %s: unknown kind %q", op.ID, op.Kind)
	}
	return nil
}

// EncodeOp returns the opaque persisted form of an operation.
func EncodeOp(op Op) ([]byte, error) { return json.Marshal(op) }

// DecodeOp parses an operation produced by EncodeOp.
func DecodeOp(b []byte) (Op, error) {
	var op Op
	if err := json.Unmarshal(b, &op); err != nil {
		return op, fmt.Errorf("decode op: %w", err)
	}
	return op, op.validate()
}
