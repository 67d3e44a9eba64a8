package reactive

import (
	"encoding/json"

	"github.com/dairyisscary/syn/internal/crdt"
)

// SyncList mirrors the records of l. The exposed slice is rematerialized on
// every insertion, local or remote.
func SyncList(s *Scope, l *crdt.List) Observable[[]*crdt.Record] {
	v := NewValue(l.Records())
	s.OnCleanup(l.Observe(func(crdt.ListEvent) { v.Set(l.Records()) }))
	return v
}

// SyncMap mirrors the given fields of rec, one observable per field. A change
// only reaches the observables of the fields it names.
func SyncMap(s *Scope, rec *crdt.Record, keys ...string) map[string]Observable[json.RawMessage] {
	values := make(map[string]*Value[json.RawMessage], len(keys))
	out := make(map[string]Observable[json.RawMessage], len(keys))
	for _, k := range keys {
		cur, _ := rec.Get(k)
		values[k] = NewValue(cur)
		out[k] = values[k]
	}
	s.OnCleanup(rec.Observe(func(e crdt.MapEvent) {
		for _, k := range e.Keys {
			if v, ok := values[k]; ok {
				cur, _ := rec.Get(k)
				v.Set(cur)
			}
		}
	}))
	return out
}
