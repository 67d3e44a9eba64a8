package crdt

import "sync/atomic"

// Lamport is a logical clock. Tick is used for local operations and Observe
// for every integrated remote operation.
type Lamport struct{ v uint64 }

func (l *Lamport) Now() uint64  { return atomic.LoadUint64(&l.v) }
func (l *Lamport) Tick() uint64 { return atomic.AddUint64(&l.v, 1) }

// Observe advances the clock past remote if needed.
func (l *Lamport) Observe(remote uint64) uint64 {
	for {
		cur := atomic.LoadUint64(&l.v)
		if remote <= cur {
			return cur
		}
		if atomic.CompareAndSwapUint64(&l.v, cur, remote) {
			return remote
		}
	}
}
