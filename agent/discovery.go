package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/dairyisscary/syn/internal/netx"
	"github.com/dairyisscary/syn/pkg/types"
)

const browseEvery = 15 * time.Second

// startDiscovery announces this agent over mDNS and dials every agent of the
// same room it finds. Only the side with the smaller id dials, so each pair
// ends up with one connection.
func startDiscovery(ctx context.Context, ws *netx.WS, service, room string, self types.ClientID, port int) {
	server, err := zeroconf.Register(
		"syn-"+self.String(),
		service,
		"local.",
		port,
		[]string{"room=" + room, "id=" + self.String()},
		nil,
	)
	if err != nil {
		log.Printf("mdns: register: %v", err)
		return
	}
	defer server.Shutdown()
	log.Printf("mdns: registered %s on port %d", service, port)

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		log.Printf("mdns: resolver: %v", err)
		return
	}
	dialed := make(map[types.ClientID]bool)
	for {
		browse(ctx, resolver, service, func(entry *zeroconf.ServiceEntry) {
			id, ok := peerOf(entry, room)
			if !ok || id == self || dialed[id] || !shouldDial(self, id) || len(entry.AddrIPv4) == 0 {
				return
			}
			dialed[id] = true
			url := fmt.Sprintf("ws://%s:%d/ws", entry.AddrIPv4[0], entry.Port)
			log.Printf("mdns: found %s at %s", id, url)
			ws.Dial(ctx, url)
		})
		select {
		case <-ctx.Done():
			return
		case <-time.After(browseEvery):
		}
	}
}

func browse(ctx context.Context, resolver *zeroconf.Resolver, service string, found func(*zeroconf.ServiceEntry)) {
	ctx, cancel := context.WithTimeout(ctx, browseEvery/2)
	defer cancel()
	entries := make(chan *zeroconf.ServiceEntry)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				found(entry)
			case <-ctx.Done():
				return
			}
		}
	}()
	if err := resolver.Browse(ctx, service, "local.", entries); err != nil {
		log.Printf("mdns: browse: %v", err)
		cancel()
	}
	<-ctx.Done()
	<-done
}

// peerOf reads the id of an announced agent if it is in room.
func peerOf(entry *zeroconf.ServiceEntry, room string) (types.ClientID, bool) {
	var id types.ClientID
	inRoom := false
	for _, txt := range entry.Text {
		k, v, ok := strings.Cut(txt, "=")
		if !ok {
			continue
		}
		switch k {
		case "room":
			inRoom = v == room
		case "id":
			id = types.ClientID(v)
		}
	}
	return id, inRoom && id != ""
}

func shouldDial(self, peer types.ClientID) bool { return self < peer }
