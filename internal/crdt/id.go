package crdt

import (
	"fmt"

	"github.com/dairyisscary/syn/pkg/types"
)

// ID is a globally unique identifier for an operation, combining a Lamport
// clock and the ID of the client that created it. The zero ID stands for the
// head of a list.
type ID struct {
	Clock  uint64         `json:"clock"`
	Client types.ClientID `json:"client"`
}

// IsZero reports whether id is the head sentinel.
func (id ID) IsZero() bool { return id.Clock == 0 && id.Client == "" }

// Less orders ids by clock, then by client id so that concurrent operations
// with equal clocks still have a total order.
func (id ID) Less(other ID) bool {
	if id.Clock != other.Clock {
		return id.Clock < other.Clock
	}
	return id.Client < other.Client
}

func (id ID) String() string { return fmt.Sprintf("%d@%s", id.Clock, id.Client) }

// StateVector maps each client to the highest contiguous Seq integrated from
// it.
type StateVector map[types.ClientID]uint64

// Covers reports whether the vector already includes seq from client.
func (sv StateVector) Covers(client types.ClientID, seq uint64) bool {
	return seq <= sv[client]
}
