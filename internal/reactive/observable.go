// Package reactive exposes document and presence state as observable values.
//
// Observables are explicit: consumers Subscribe and keep the returned
// unsubscribe function, usually by handing it to a Scope. Notification is
// synchronous with the mutation that caused it, and nothing here is safe for
// concurrent use; a replica drives all of it from one goroutine.
package reactive

import "github.com/dairyisscary/syn/internal/notify"

// Observable is a live value.
type Observable[T any] interface {
	Get() T
	Subscribe(fn func(T)) (unsubscribe func())
}

// Value is a settable Observable. Every Set notifies the current
// subscribers in subscription order before returning.
type Value[T any] struct {
	v    T
	subs notify.List[T]
}

func NewValue[T any](v T) *Value[T] { return &Value[T]{v: v} }

func (v *Value[T]) Get() T { return v.v }

func (v *Value[T]) Set(x T) {
	v.v = x
	v.subs.Emit(x)
}

func (v *Value[T]) Subscribe(fn func(T)) (unsubscribe func()) { return v.subs.Add(fn) }

// Subscribers is the number of active subscriptions.
func (v *Value[T]) Subscribers() int { return v.subs.Len() }

// Derive returns an observable holding fn applied to src, recomputed on
// every change of src until s is disposed.
func Derive[T, U any](s *Scope, src Observable[T], fn func(T) U) Observable[U] {
	out := NewValue(fn(src.Get()))
	s.OnCleanup(src.Subscribe(func(t T) { out.Set(fn(t)) }))
	return out
}
