// Package app holds the interaction state machine that turns pointer and
// login events into document and presence mutations.
package app

import (
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/dairyisscary/syn/internal/canvas"
	"github.com/dairyisscary/syn/internal/crdt"
	"github.com/dairyisscary/syn/internal/presence"
	"github.com/dairyisscary/syn/internal/reactive"
)

type DragState int

const (
	// DragNone: not logged in.
	DragNone DragState = iota
	// DragReady: logged in, not dragging.
	DragReady
	// DragDragging: a box is being moved.
	DragDragging
)

func (s DragState) String() string {
	switch s {
	case DragReady:
		return "ready"
	case DragDragging:
		return "dragging"
	}
	return "none"
}

func (s DragState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *DragState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "none":
		*s = DragNone
	case "ready":
		*s = DragReady
	case "dragging":
		*s = DragDragging
	default:
		return fmt.Errorf("unknown drag state %q", b)
	}
	return nil
}

// dragSession is replica-local and never replicated.
type dragSession struct {
	index int
	last  canvas.Position
}

type Option func(*Coordinator)

// WithRand sets the source used to pick new box colors.
func WithRand(r *rand.Rand) Option { return func(c *Coordinator) { c.rng = r } }

func WithNow(now func() time.Time) Option { return func(c *Coordinator) { c.now = now } }

// Coordinator is the application state: the box list, the participants and
// the drag state machine. It must be driven from the replica's goroutine.
type Coordinator struct {
	scope *reactive.Scope
	boxes *canvas.Boxes
	users *Users
	rng   *rand.Rand
	now   func() time.Time

	list  reactive.Observable[[]*crdt.Record]
	drag  *dragSession
	state *reactive.Value[DragState]
}

func NewCoordinator(doc *crdt.Doc, ch *presence.Channel, opts ...Option) *Coordinator {
	c := &Coordinator{
		scope: reactive.NewScope(),
		boxes: canvas.NewBoxes(doc),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.rng == nil {
		c.rng = rand.New(rand.NewSource(c.now().UnixNano()))
	}
	c.users = NewUsers(c.scope, ch, c.now)
	c.list = reactive.SyncList(c.scope, c.boxes.List())
	c.state = reactive.NewValue(DragNone)
	c.scope.OnCleanup(c.users.Local().Subscribe(func(*Identity) { c.updateState() }))
	c.updateState()
	return c
}

func (c *Coordinator) Boxes() reactive.Observable[[]*crdt.Record] { return c.list }
func (c *Coordinator) State() reactive.Observable[DragState]       { return c.state }
func (c *Coordinator) Users() *Users                               { return c.users }

// Scope is the coordinator's lifetime; views can hang child scopes off it.
func (c *Coordinator) Scope() *reactive.Scope { return c.scope }

func (c *Coordinator) loggedIn() bool { return c.users.Local().Get() != nil }

func (c *Coordinator) Login(name string) { c.users.Login(name) }

// BoxPointerDown starts dragging the box at list index from pointer
// position at. Frame reports that index as IndexedBox.Index.
func (c *Coordinator) BoxPointerDown(index int, at canvas.Position) {
	if !c.loggedIn() {
		return
	}
	if _, ok, err := c.boxes.Get(index); !ok || err != nil {
		if err != nil {
			log.Printf("app: press box %d: %v", index, err)
		}
		return
	}
	c.drag = &dragSession{index: index, last: at}
	c.updateState()
}

// MoveCursor publishes the cursor and, while dragging, moves the box by the
// pointer delta since the last move.
func (c *Coordinator) MoveCursor(at canvas.Position) {
	if !c.loggedIn() {
		return
	}
	c.users.MoveCursor(at)
	if c.drag == nil {
		return
	}
	box, ok, err := c.boxes.Get(c.drag.index)
	if !ok || err != nil {
		if err != nil {
			log.Printf("app: drag box %d: %v", c.drag.index, err)
		}
		return
	}
	dTop, dLeft := at.Sub(c.drag.last)
	if err := c.boxes.SetPosition(c.drag.index, box.Position.Add(dTop, dLeft)); err != nil {
		log.Printf("app: move box %d: %v", c.drag.index, err)
		return
	}
	c.drag.last = at
}

// ReleaseCursor ends a drag, or creates a box at the release position when
// nothing was being dragged.
func (c *Coordinator) ReleaseCursor(at canvas.Position) {
	if !c.loggedIn() {
		return
	}
	if c.drag != nil {
		c.drag = nil
		c.updateState()
		return
	}
	box := canvas.Box{Position: at, Size: canvas.DefaultSize, Color: canvas.RandomColor(c.rng)}
	if _, err := c.boxes.Append(box); err != nil {
		log.Printf("app: create box: %v", err)
	}
}

// LeaveCanvas withdraws the cursor when the pointer leaves the canvas.
func (c *Coordinator) LeaveCanvas() {
	if !c.loggedIn() {
		return
	}
	c.users.ClearCursor()
}

// Frame is everything a renderer needs for one frame.
type Frame struct {
	Boxes       []canvas.IndexedBox `json:"boxes"`
	RemoteUsers []RemoteUser        `json:"remoteUsers"`
	LocalUser   *Identity           `json:"localUser"`
	DragState   DragState           `json:"dragState"`
}

func (c *Coordinator) Frame() Frame {
	return Frame{
		Boxes:       canvas.DecodeAll(c.list.Get()),
		RemoteUsers: c.users.Remote().Get(),
		LocalUser:   c.users.Local().Get(),
		DragState:   c.state.Get(),
	}
}

// Close releases every subscription the coordinator holds.
func (c *Coordinator) Close() { c.scope.Dispose() }

func (c *Coordinator) updateState() {
	next := DragNone
	switch {
	case c.drag != nil:
		next = DragDragging
	case c.loggedIn():
		next = DragReady
	}
	if next != c.state.Get() {
		c.state.Set(next)
	}
}
