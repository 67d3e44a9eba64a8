package main

import (
	"context"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"

	"github.com/dairyisscary/syn/internal/app"
	"github.com/dairyisscary/syn/internal/canvas"
	"github.com/dairyisscary/syn/internal/netx"
	"github.com/dairyisscary/syn/internal/protocol"
	"github.com/dairyisscary/syn/internal/replica"
	"github.com/dairyisscary/syn/internal/store"
	"github.com/dairyisscary/syn/pkg/types"
)

func newRelay(t *testing.T, archive bool) (*httptest.Server, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	var arc *Archive
	if archive {
		arc = NewArchive(context.Background(), rdb, store.NewRedisWithClient(rdb))
		t.Cleanup(arc.Close)
	}
	r := mux.NewRouter()
	NewRelay(rdb, arc).Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, rdb
}

func roomURL(srv *httptest.Server, room string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + room
}

func wait(t *testing.T, inbox <-chan protocol.Message, want protocol.MsgType) protocol.Message {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case msg := <-inbox:
			if msg.Type == want {
				return msg
			}
		case <-timeout:
			t.Fatalf("no %s message", want)
			return protocol.Message{}
		}
	}
}

func TestRelayForwardsAndAnnouncesLeave(t *testing.T) {
	srv, _ := newRelay(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := netx.NewWS("a", "lobby")
	b := netx.NewWS("b", "lobby")
	aCtx, stopA := context.WithCancel(ctx)
	a.Start(aCtx)
	b.Start(ctx)
	a.Dial(aCtx, roomURL(srv, "lobby"))
	b.Dial(ctx, roomURL(srv, "lobby"))
	wait(t, a.Inbox(), protocol.MsgConnected)
	wait(t, b.Inbox(), protocol.MsgConnected)

	a.Outbox() <- protocol.Message{From: "a", Type: protocol.MsgUpdate}
	if msg := wait(t, b.Inbox(), protocol.MsgUpdate); msg.From != "a" {
		t.Fatalf("b got %+v", msg)
	}

	stopA()
	leave := wait(t, b.Inbox(), protocol.MsgLeave)
	if !reflect.DeepEqual(leave.Clients, []types.ClientID{"a"}) {
		t.Fatalf("leave = %+v", leave)
	}
}

func TestArchiveOutlivesAgents(t *testing.T) {
	srv, rdb := newRelay(t, true)

	join := func(id types.ClientID) *replica.Replica {
		ws := netx.NewWS(id, "lobby")
		rep := replica.New(replica.Options{Room: "lobby", Client: id, Network: ws})
		if err := rep.Start(context.Background()); err != nil {
			t.Fatal(err)
		}
		ws.Dial(context.Background(), roomURL(srv, "lobby"))
		return rep
	}
	frame := func(rep *replica.Replica) app.Frame {
		f, err := rep.Frame(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		return f
	}

	a := join("a")
	err := a.Do(context.Background(), func() {
		a.Coordinator().Login("ada")
		a.Coordinator().ReleaseCursor(canvas.Position{Top: 4, Left: 2})
	})
	if err != nil {
		t.Fatal(err)
	}
	// wait until the archive has stored it
	archived := store.NewRedisWithClient(rdb)
	deadline := time.Now().Add(3 * time.Second)
	for {
		ops, err := archived.Load(context.Background(), "lobby")
		if err != nil {
			t.Fatal(err)
		}
		if len(ops) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("archive never stored the box")
		}
		time.Sleep(20 * time.Millisecond)
	}
	a.Close()

	b := join("b")
	defer b.Close()
	deadline = time.Now().Add(3 * time.Second)
	for len(frame(b).Boxes) != 1 {
		if time.Now().After(deadline) {
			t.Fatal("late joiner never received the archived box")
		}
		time.Sleep(20 * time.Millisecond)
	}
	if got := frame(b).Boxes[0].Position; got != (canvas.Position{Top: 4, Left: 2}) {
		t.Fatalf("position = %+v", got)
	}
}
