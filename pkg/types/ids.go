package types

import "github.com/google/uuid"

// ClientID identifies one connected replica. It keys both the replica's
// document operations and its presence entry, and is distinct from the
// participant's display name.
type ClientID string

// NewClientID returns a fresh random client id.
func NewClientID() ClientID { return ClientID(uuid.NewString()) }

func (c ClientID) String() string { return string(c) }
