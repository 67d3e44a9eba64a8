package replica

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dairyisscary/syn/internal/app"
	"github.com/dairyisscary/syn/internal/canvas"
	"github.com/dairyisscary/syn/internal/netx"
	"github.com/dairyisscary/syn/internal/store"
	"github.com/dairyisscary/syn/pkg/types"
)

func start(t *testing.T, bus *netx.Bus, id types.ClientID, st store.Store) *Replica {
	t.Helper()
	r := New(Options{Room: "room", Client: id, Network: bus.Join(id), Store: st})
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("start %s: %v", id, err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func frame(t *testing.T, r *Replica) app.Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	f, err := r.Frame(ctx)
	if err != nil {
		t.Fatalf("frame: %v", err)
	}
	return f
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func do(t *testing.T, r *Replica, fn func(c *app.Coordinator)) {
	t.Helper()
	if err := r.Do(context.Background(), func() { fn(r.Coordinator()) }); err != nil {
		t.Fatal(err)
	}
}

func TestBoxesConverge(t *testing.T) {
	bus := netx.NewBus()
	a := start(t, bus, "a", nil)
	b := start(t, bus, "b", nil)

	do(t, a, func(c *app.Coordinator) {
		c.Login("ada")
		c.ReleaseCursor(canvas.Position{Top: 10, Left: 20})
	})
	do(t, b, func(c *app.Coordinator) {
		c.Login("bob")
		c.ReleaseCursor(canvas.Position{Top: 30, Left: 40})
	})

	eventually(t, "both boxes on both replicas", func() bool {
		fa, fb := frame(t, a), frame(t, b)
		if len(fa.Boxes) != 2 || len(fb.Boxes) != 2 {
			return false
		}
		for i := range fa.Boxes {
			if fa.Boxes[i] != fb.Boxes[i] {
				return false
			}
		}
		return true
	})

	do(t, b, func(c *app.Coordinator) {
		c.BoxPointerDown(0, canvas.Position{})
		c.MoveCursor(canvas.Position{Top: 5, Left: 5})
		c.ReleaseCursor(canvas.Position{Top: 5, Left: 5})
	})
	want := frame(t, b).Boxes[0].Position
	eventually(t, "drag to reach a", func() bool { return frame(t, a).Boxes[0].Position == want })
}

func TestLateJoinerCatchesUp(t *testing.T) {
	bus := netx.NewBus()
	a := start(t, bus, "a", nil)
	do(t, a, func(c *app.Coordinator) {
		c.Login("ada")
		for i := 0; i < 3; i++ {
			c.ReleaseCursor(canvas.Position{Top: float64(i), Left: float64(i)})
		}
	})

	b := start(t, bus, "b", nil)
	eventually(t, "late joiner sync", func() bool { return len(frame(t, b).Boxes) == 3 })
}

func TestPresenceIsEphemeral(t *testing.T) {
	bus := netx.NewBus()
	a := start(t, bus, "a", nil)
	b := start(t, bus, "b", nil)

	do(t, a, func(c *app.Coordinator) {
		c.Login("ada")
		c.MoveCursor(canvas.Position{Top: 1, Left: 2})
	})
	eventually(t, "b to see ada", func() bool {
		users := frame(t, b).RemoteUsers
		return len(users) == 1 && users[0].Name == "ada" && users[0].Cursor != nil
	})

	do(t, a, func(c *app.Coordinator) { c.LeaveCanvas() })
	eventually(t, "cursor cleared on b", func() bool {
		users := frame(t, b).RemoteUsers
		return len(users) == 1 && users[0].Cursor == nil
	})

	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	eventually(t, "ada gone from b", func() bool { return len(frame(t, b).RemoteUsers) == 0 })

	if err := a.Do(context.Background(), func() {}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Do after Close = %v, want ErrClosed", err)
	}
}

func TestRestoreFromStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "syn.db")
	st, err := store.OpenBolt(path)
	if err != nil {
		t.Fatal(err)
	}
	a := start(t, netx.NewBus(), "a", st)
	do(t, a, func(c *app.Coordinator) {
		c.Login("ada")
		c.ReleaseCursor(canvas.Position{Top: 7, Left: 8})
	})
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	// edits after Close are no longer persisted
	if _, err := canvas.NewBoxes(a.Doc()).Append(canvas.Box{Size: canvas.DefaultSize, Color: canvas.Gold}); err != nil {
		t.Fatal(err)
	}

	st, err = store.OpenBolt(path)
	if err != nil {
		t.Fatal(err)
	}
	again := start(t, netx.NewBus(), "a2", st)
	boxes := frame(t, again).Boxes
	if len(boxes) != 1 || boxes[0].Position != (canvas.Position{Top: 7, Left: 8}) {
		t.Fatalf("restored boxes = %+v", boxes)
	}
	// presence is never persisted
	if f := frame(t, again); f.LocalUser != nil || len(f.RemoteUsers) != 0 {
		t.Fatalf("restored presence: %+v", f)
	}
}

func TestDoWaitsForRunningTask(t *testing.T) {
	a := start(t, netx.NewBus(), "a", nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	finished := false
	err := a.Do(ctx, func() {
		cancel()
		time.Sleep(20 * time.Millisecond)
		finished = true
	})
	if err != nil || !finished {
		t.Fatalf("Do returned %v before the task finished (finished=%v)", err, finished)
	}
}
