// Package presence is the ephemeral per-participant state channel: who is
// online and where their cursor is. Nothing here is persisted or merged into
// the document; a participant's entry disappears when it disconnects or stops
// renewing it.
package presence

import (
	"maps"
	"time"

	"github.com/dairyisscary/syn/internal/notify"
	"github.com/dairyisscary/syn/pkg/types"
)

// DefaultTimeout is how long a remote entry survives without an update.
const DefaultTimeout = 30 * time.Second

type Origin int

const (
	Local Origin = iota
	Remote
	// Timeout marks removals made by CheckOutdated.
	Timeout
)

func (o Origin) String() string {
	switch o {
	case Local:
		return "local"
	case Remote:
		return "remote"
	case Timeout:
		return "timeout"
	}
	return "unknown"
}

// Change lists the clients whose state changed in one step.
type Change struct {
	Added   []types.ClientID
	Updated []types.ClientID
	Removed []types.ClientID
	Origin  Origin
}

func (c Change) empty() bool { return len(c.Added)+len(c.Updated)+len(c.Removed) == 0 }

// All returns every client named by the change.
func (c Change) All() []types.ClientID {
	out := make([]types.ClientID, 0, len(c.Added)+len(c.Updated)+len(c.Removed))
	out = append(out, c.Added...)
	out = append(out, c.Updated...)
	return append(out, c.Removed...)
}

type meta struct {
	clock       uint64
	lastUpdated time.Time
}

type Option func(*Channel)

func WithTimeout(d time.Duration) Option { return func(c *Channel) { c.timeout = d } }

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option { return func(c *Channel) { c.now = now } }

// Channel holds the presence states known to one replica. Like the document
// it is driven from a single goroutine.
type Channel struct {
	client  types.ClientID
	timeout time.Duration
	now     func() time.Time

	states map[types.ClientID]State
	meta   map[types.ClientID]meta

	changes notify.List[Change]
	updates notify.List[Change]
}

// New creates a channel whose local state starts empty but online.
func New(client types.ClientID, opts ...Option) *Channel {
	c := &Channel{
		client:  client,
		timeout: DefaultTimeout,
		now:     time.Now,
		states:  make(map[types.ClientID]State),
		meta:    make(map[types.ClientID]meta),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.SetLocalState(&State{})
	return c
}

func (c *Channel) Client() types.ClientID { return c.client }
func (c *Channel) Timeout() time.Duration { return c.timeout }

// Observe registers fn for actual state changes.
func (c *Channel) Observe(fn func(Change)) (cancel func()) { return c.changes.Add(fn) }

func (c *Channel) ObserverCount() int { return c.changes.Len() }

// OnUpdate registers fn for every update worth broadcasting, including
// renewals that did not change any state.
func (c *Channel) OnUpdate(fn func(Change)) (cancel func()) { return c.updates.Add(fn) }

// LocalState returns a copy of the local state, nil when offline.
func (c *Channel) LocalState() *State {
	s, ok := c.states[c.client]
	if !ok {
		return nil
	}
	s = s.clone()
	return &s
}

// SetLocalState replaces the local state. nil marks this replica offline.
func (c *Channel) SetLocalState(s *State) {
	clock := uint64(0)
	if m, ok := c.meta[c.client]; ok {
		clock = m.clock + 1
	}
	prev, had := c.states[c.client]
	if s == nil {
		delete(c.states, c.client)
	} else {
		c.states[c.client] = s.clone()
	}
	c.meta[c.client] = meta{clock: clock, lastUpdated: c.now()}

	var change, update Change
	switch {
	case s == nil && had:
		change.Removed = []types.ClientID{c.client}
		update.Removed = change.Removed
	case s != nil && !had:
		change.Added = []types.ClientID{c.client}
		update.Added = change.Added
	case s != nil && had:
		update.Updated = []types.ClientID{c.client}
		if !prev.Equal(*s) {
			change.Updated = update.Updated
		}
	}
	c.emit(change, update, Local)
}

// SetLocalField updates one field of the local state and keeps the others.
// It does nothing while the local state is offline.
func (c *Channel) SetLocalField(field Field, value any) error {
	cur, ok := c.states[c.client]
	if !ok {
		return nil
	}
	next, err := cur.with(field, value)
	if err != nil {
		return err
	}
	c.SetLocalState(&next)
	return nil
}

// States returns every known state, the local one included.
func (c *Channel) States() map[types.ClientID]State {
	out := make(map[types.ClientID]State, len(c.states))
	for id, s := range c.states {
		out[id] = s.clone()
	}
	return out
}

// Remote returns the states of every other client.
func (c *Channel) Remote() map[types.ClientID]State {
	out := c.States()
	delete(out, c.client)
	return out
}

// EncodeUpdate builds the wire update for clients; with no arguments it
// covers every known client.
func (c *Channel) EncodeUpdate(clients ...types.ClientID) Update {
	if len(clients) == 0 {
		clients = make([]types.ClientID, 0, len(c.meta))
		for id := range c.meta {
			clients = append(clients, id)
		}
	}
	u := Update{Entries: make([]Entry, 0, len(clients))}
	for _, id := range clients {
		m, ok := c.meta[id]
		if !ok {
			continue
		}
		e := Entry{Client: id, Clock: m.clock}
		if s, ok := c.states[id]; ok {
			s = s.clone()
			e.State = &s
		}
		u.Entries = append(u.Entries, e)
	}
	return u
}

// ApplyUpdate merges a peer's update. Only entries with a newer clock win.
// A peer cannot take the local replica offline: such an entry bumps the
// local clock instead and the local state is announced again.
func (c *Channel) ApplyUpdate(u Update) {
	var change, update Change
	reassert := false
	now := c.now()
	for _, e := range u.Entries {
		m, known := c.meta[e.Client]
		prev, had := c.states[e.Client]
		clock := e.Clock
		if known && !(m.clock < clock || (m.clock == clock && e.State == nil && had)) {
			continue
		}
		if e.State == nil {
			if e.Client == c.client && had {
				clock++
				reassert = true
			} else {
				delete(c.states, e.Client)
			}
		} else {
			c.states[e.Client] = e.State.clone()
		}
		c.meta[e.Client] = meta{clock: clock, lastUpdated: now}

		switch {
		case e.Client == c.client && reassert:
		case e.State == nil && had:
			change.Removed = append(change.Removed, e.Client)
			update.Removed = append(update.Removed, e.Client)
		case e.State != nil && !had:
			change.Added = append(change.Added, e.Client)
			update.Added = append(update.Added, e.Client)
		case e.State != nil && had:
			update.Updated = append(update.Updated, e.Client)
			if !prev.Equal(*e.State) {
				change.Updated = append(change.Updated, e.Client)
			}
		}
	}
	c.emit(change, update, Remote)
	if reassert {
		c.updates.Emit(Change{Updated: []types.ClientID{c.client}, Origin: Local})
	}
}

// RemoveStates drops the given clients, e.g. after their connection closed.
// Their clocks are kept so stale updates cannot bring them back.
func (c *Channel) RemoveStates(clients []types.ClientID, origin Origin) {
	var removed []types.ClientID
	for _, id := range clients {
		if _, ok := c.states[id]; !ok {
			continue
		}
		delete(c.states, id)
		if id == c.client {
			m := c.meta[id]
			c.meta[id] = meta{clock: m.clock + 1, lastUpdated: c.now()}
		}
		removed = append(removed, id)
	}
	ch := Change{Removed: removed}
	c.emit(ch, ch, origin)
}

// CheckOutdated renews the local state once half the timeout has passed and
// drops remote states that were not updated within the timeout.
func (c *Channel) CheckOutdated(now time.Time) {
	if s, ok := c.states[c.client]; ok {
		if now.Sub(c.meta[c.client].lastUpdated) >= c.timeout/2 {
			c.SetLocalState(&s)
		}
	}
	var outdated []types.ClientID
	for id := range c.states {
		if id != c.client && now.Sub(c.meta[id].lastUpdated) >= c.timeout {
			outdated = append(outdated, id)
		}
	}
	if len(outdated) > 0 {
		c.RemoveStates(outdated, Timeout)
	}
}

func (c *Channel) emit(change, update Change, origin Origin) {
	change.Origin, update.Origin = origin, origin
	if !change.empty() {
		c.changes.Emit(change)
	}
	if !update.empty() {
		c.updates.Emit(update)
	}
}

// snapshotMeta is used by tests to inspect clocks.
func (c *Channel) snapshotMeta() map[types.ClientID]meta { return maps.Clone(c.meta) }
