package reactive

// Scope owns the subscriptions made on behalf of one consumer, such as a
// mounted region of the UI. Dispose releases them all.
type Scope struct {
	cleanups []func()
	disposed bool
}

func NewScope() *Scope { return &Scope{} }

// OnCleanup registers fn to run on Dispose. On an already disposed scope fn
// runs immediately.
func (s *Scope) OnCleanup(fn func()) {
	if s.disposed {
		fn()
		return
	}
	s.cleanups = append(s.cleanups, fn)
}

// Child returns a scope disposed together with s, or earlier on its own.
func (s *Scope) Child() *Scope {
	c := NewScope()
	s.OnCleanup(c.Dispose)
	return c
}

// Dispose runs the cleanups in reverse registration order. Later calls do
// nothing.
func (s *Scope) Dispose() {
	if s.disposed {
		return
	}
	s.disposed = true
	for i := len(s.cleanups) - 1; i >= 0; i-- {
		s.cleanups[i]()
	}
	s.cleanups = nil
}

func (s *Scope) Disposed() bool { return s.disposed }
