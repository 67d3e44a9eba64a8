// Package notify is the ordered callback list behind every observable in the
// module. It is not safe for concurrent use.
package notify

type entry[E any] struct {
	fn      func(E)
	removed bool
}

// List delivers events to its callbacks in subscription order. A callback
// removed while an event is being delivered is not called for that event.
type List[E any] struct {
	entries []*entry[E]
}

// Add registers fn and returns the function that removes it. Calling the
// returned function again is a no-op.
func (l *List[E]) Add(fn func(E)) (remove func()) {
	e := &entry[E]{fn: fn}
	l.entries = append(l.entries, e)
	return func() {
		if e.removed {
			return
		}
		e.removed = true
		for i, cur := range l.entries {
			if cur == e {
				l.entries = append(l.entries[:i:i], l.entries[i+1:]...)
				return
			}
		}
	}
}

func (l *List[E]) Emit(ev E) {
	if len(l.entries) == 0 {
		return
	}
	for _, e := range append([]*entry[E](nil), l.entries...) {
		if !e.removed {
			e.fn(ev)
		}
	}
}

func (l *List[E]) Len() int { return len(l.entries) }
