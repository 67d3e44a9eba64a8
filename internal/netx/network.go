// Package netx carries protocol messages between replicas of one room.
// Transports only move messages; merging is left to the replica.
package netx

import (
	"context"

	"github.com/dairyisscary/syn/internal/protocol"
)

// Network is a room-scoped broadcast transport. Messages placed on Outbox
// reach every other member; Inbox yields what the others sent plus the
// local-only CONNECTED and LEAVE notifications.
type Network interface {
	Inbox() <-chan protocol.Message
	Outbox() chan<- protocol.Message
	Start(ctx context.Context) error
	Close() error
}

const queueSize = 1024
