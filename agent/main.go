package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/dairyisscary/syn/internal/app"
	"github.com/dairyisscary/syn/internal/canvas"
	"github.com/dairyisscary/syn/internal/config"
	"github.com/dairyisscary/syn/internal/netx"
	"github.com/dairyisscary/syn/internal/replica"
	"github.com/dairyisscary/syn/internal/store"
	"github.com/dairyisscary/syn/pkg/types"
)

func main() {
	cfg := config.Load()
	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address for peers and the UI")
	flag.StringVar(&cfg.Room, "room", cfg.Room, "room to join")
	flag.StringVar(&cfg.DataDir, "data", cfg.DataDir, "directory of the local store")
	flag.StringVar(&cfg.RelayURL, "relay", cfg.RelayURL, "relay websocket base url, e.g. ws://host:8081/ws")
	flag.BoolVar(&cfg.Discovery, "mdns", cfg.Discovery, "find peers of the room on the local network")
	peers := flag.String("peers", strings.Join(cfg.Peers, ","), "comma separated peer websocket urls")
	name := flag.String("name", "", "log in with this name right away")
	flag.Parse()
	if os.Getenv("SYN_NAMESPACE") == "" {
		cfg.Namespace = cfg.Room
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	self := types.NewClientID()
	st, err := store.OpenBolt(filepath.Join(cfg.DataDir, "syn.db"))
	if err != nil {
		log.Fatalf("open store: %v", err)
	}

	ws := netx.NewWS(self, cfg.Room)
	rep := replica.New(replica.Options{
		Room:             cfg.Room,
		Namespace:        cfg.Namespace,
		Client:           self,
		Network:          ws,
		Store:            st,
		AwarenessTimeout: cfg.AwarenessTimeout,
	})
	if err := rep.Start(ctx); err != nil {
		log.Fatalf("start replica: %v", err)
	}
	log.Printf("syn agent %s joined room %q", self, cfg.Room)

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		log.Fatalf("listen %s: %v", cfg.Addr, err)
	}
	srv := &http.Server{
		Handler:           newRouter(rep, ws),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()
	log.Printf("listening on %s", ln.Addr())

	for _, url := range strings.Split(*peers, ",") {
		if url = strings.TrimSpace(url); url != "" {
			ws.Dial(ctx, url)
		}
	}
	if cfg.RelayURL != "" {
		ws.Dial(ctx, strings.TrimRight(cfg.RelayURL, "/")+"/"+cfg.Room)
	}
	if cfg.Discovery {
		go startDiscovery(ctx, ws, cfg.Service, cfg.Room, self, ln.Addr().(*net.TCPAddr).Port)
	}

	if *name != "" {
		_ = rep.Do(ctx, func() { rep.Coordinator().Login(*name) })
	}
	go repl(ctx, rep, os.Stdin, os.Stdout, stop)

	<-ctx.Done()
	log.Println("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rep.Close(); err != nil {
		log.Printf("close replica: %v", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

func newRouter(rep *replica.Replica, ws *netx.WS) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/ws", ws)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "room": rep.Room(), "client": rep.Client(), "peers": ws.Peers()})
	}).Methods(http.MethodGet)
	r.HandleFunc("/frame", func(w http.ResponseWriter, req *http.Request) {
		f, err := rep.Frame(req.Context())
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, f)
	}).Methods(http.MethodGet)
	r.HandleFunc("/events", func(w http.ResponseWriter, req *http.Request) {
		var ev pointerEvent
		if err := json.NewDecoder(req.Body).Decode(&ev); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid event"})
			return
		}
		var f app.Frame
		err := rep.Do(req.Context(), func() {
			ev.apply(rep.Coordinator())
			f = rep.Coordinator().Frame()
		})
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, f)
	}).Methods(http.MethodPost)
	return r
}

// pointerEvent is what a UI posts to /events.
type pointerEvent struct {
	Type  string  `json:"type"`
	Name  string  `json:"name,omitempty"`
	Index int     `json:"index,omitempty"`
	Top   float64 `json:"top"`
	Left  float64 `json:"left"`
}

func (ev pointerEvent) apply(c *app.Coordinator) {
	at := canvas.Position{Top: ev.Top, Left: ev.Left}
	switch ev.Type {
	case "login":
		c.Login(ev.Name)
	case "down":
		c.BoxPointerDown(ev.Index, at)
	case "move":
		c.MoveCursor(at)
	case "up":
		c.ReleaseCursor(at)
	case "leave":
		c.LeaveCanvas()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "write response: %v\n", err)
	}
}
