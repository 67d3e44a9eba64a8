// Package replica ties one participant together: the document, its presence
// channel, the coordinator driving them, persistence and the network. All of
// them are touched only from the replica's dispatcher goroutine; other
// goroutines go through Do.
package replica

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/dairyisscary/syn/internal/app"
	"github.com/dairyisscary/syn/internal/crdt"
	"github.com/dairyisscary/syn/internal/netx"
	"github.com/dairyisscary/syn/internal/presence"
	"github.com/dairyisscary/syn/internal/provider"
	"github.com/dairyisscary/syn/internal/store"
	"github.com/dairyisscary/syn/pkg/types"
)

// ErrClosed is returned by Do once the replica has stopped.
var ErrClosed = errors.New("replica closed")

const (
	defaultCompactAfter = 500
	flushTimeout        = time.Second
)

type Options struct {
	Room string
	// Namespace keys the persisted log; it defaults to Room.
	Namespace string
	Client    types.ClientID
	Network   netx.Network
	// Store is optional. Without one the document lives in memory only.
	Store            store.Store
	AwarenessTimeout time.Duration
	// CompactAfter is how many appended ops trigger a rewrite of the log on
	// stores that support it.
	CompactAfter int
	AppOptions   []app.Option
}

type Replica struct {
	opts  Options
	doc   *crdt.Doc
	aw    *presence.Channel
	coord *app.Coordinator
	prov  *provider.Provider

	tasks  chan func()
	writes chan writeJob

	cancel    context.CancelFunc
	unpersist func()
	loopDone  chan struct{}
	writeDone chan struct{}
	closeOnce sync.Once
	started   bool
}

type writeJob struct {
	ops     []crdt.Op
	compact bool
}

func New(opts Options) *Replica {
	if opts.Client == "" {
		opts.Client = types.NewClientID()
	}
	if opts.Namespace == "" {
		opts.Namespace = opts.Room
	}
	if opts.AwarenessTimeout <= 0 {
		opts.AwarenessTimeout = presence.DefaultTimeout
	}
	if opts.CompactAfter <= 0 {
		opts.CompactAfter = defaultCompactAfter
	}
	doc := crdt.NewDoc(opts.Client)
	aw := presence.New(opts.Client, presence.WithTimeout(opts.AwarenessTimeout))
	return &Replica{
		opts:      opts,
		doc:       doc,
		aw:        aw,
		coord:     app.NewCoordinator(doc, aw, opts.AppOptions...),
		tasks:     make(chan func()),
		writes:    make(chan writeJob, 256),
		loopDone:  make(chan struct{}),
		writeDone: make(chan struct{}),
	}
}

func (r *Replica) Client() types.ClientID { return r.opts.Client }
func (r *Replica) Room() string           { return r.opts.Room }

// Doc, Presence and Coordinator must only be used inside Do once the
// replica is started.
func (r *Replica) Doc() *crdt.Doc                { return r.doc }
func (r *Replica) Presence() *presence.Channel   { return r.aw }
func (r *Replica) Coordinator() *app.Coordinator { return r.coord }

// Start rehydrates the document, joins the network and starts the
// dispatcher.
func (r *Replica) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.restore(ctx)
	go r.writer()
	appended := 0
	r.unpersist = r.doc.OnUpdate(func(u crdt.Update) {
		if r.opts.Store == nil || u.Origin == crdt.Restore {
			return
		}
		r.writes <- writeJob{ops: []crdt.Op{u.Op}}
		appended++
		if _, ok := r.opts.Store.(store.Compacter); ok && appended >= r.opts.CompactAfter {
			appended = 0
			r.writes <- writeJob{ops: r.doc.OpsSince(nil), compact: true}
		}
	})

	if err := r.opts.Network.Start(ctx); err != nil {
		cancel()
		r.unpersist()
		close(r.writes)
		<-r.writeDone
		return err
	}
	r.prov = provider.New(ctx, r.opts.Room, r.doc, r.aw, r.opts.Network.Outbox())
	r.started = true
	go r.loop(ctx)
	return nil
}

func (r *Replica) restore(ctx context.Context) {
	if r.opts.Store == nil {
		return
	}
	ops, err := r.opts.Store.Load(ctx, r.opts.Namespace)
	if err != nil {
		log.Printf("replica: restore %s: %v", r.opts.Namespace, err)
		return
	}
	r.doc.Apply(crdt.Restore, ops...)
	log.Printf("replica: restored %d ops for %s (%d pending)", len(ops), r.opts.Namespace, r.doc.Pending())
}

func (r *Replica) loop(ctx context.Context) {
	defer close(r.loopDone)
	tick := time.NewTicker(r.opts.AwarenessTimeout / 10)
	defer tick.Stop()

	r.prov.Handshake()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-r.opts.Network.Inbox():
			r.prov.Handle(msg)
		case fn := <-r.tasks:
			fn()
		case now := <-tick.C:
			r.aw.CheckOutdated(now)
			r.prov.Resync()
		}
	}
}

func (r *Replica) writer() {
	defer close(r.writeDone)
	for job := range r.writes {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		var err error
		if job.compact {
			err = r.opts.Store.(store.Compacter).Compact(ctx, r.opts.Namespace, job.ops)
		} else {
			err = r.opts.Store.Append(ctx, r.opts.Namespace, job.ops...)
		}
		cancel()
		if err != nil {
			log.Printf("replica: persist: %v", err)
		}
	}
}

// Do runs fn on the dispatcher goroutine and waits for it to return. ctx
// bounds the wait for the dispatcher to pick fn up; once it has, Do always
// waits for fn to finish.
func (r *Replica) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	task := func() {
		defer close(done)
		fn()
	}
	select {
	case r.tasks <- task:
	case <-r.loopDone:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

// Frame snapshots what the canvas should show.
func (r *Replica) Frame(ctx context.Context) (app.Frame, error) {
	var f app.Frame
	err := r.Do(ctx, func() { f = r.coord.Frame() })
	return f, err
}

// Close announces that this participant left, flushes pending writes and
// releases the network and the store. It is safe to call more than once.
func (r *Replica) Close() error {
	var err error
	r.closeOnce.Do(func() {
		if !r.started {
			r.coord.Close()
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		// a stuck transport must not hold the goodbye forever
		stop := context.AfterFunc(ctx, r.cancel)
		_ = r.Do(ctx, func() {
			r.aw.SetLocalState(nil)
			r.prov.Leave()
		})
		r.flushOutbox(ctx)
		stop()
		cancel()

		r.cancel()
		<-r.loopDone
		r.unpersist()
		r.prov.Close()
		r.coord.Close()
		close(r.writes)
		<-r.writeDone

		err = r.opts.Network.Close()
		if r.opts.Store != nil {
			if serr := r.opts.Store.Close(); err == nil {
				err = serr
			}
		}
	})
	return err
}

// flushOutbox gives the transport a moment to send what is still queued.
func (r *Replica) flushOutbox(ctx context.Context) {
	out := r.opts.Network.Outbox()
	for len(out) > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
}
