// Package discovery advertises this instance via mDNS so that other
// independently-run annexd processes forming a federation (per
// SPEC_FULL.md's federated storage instances model) can find each
// other's HTTP endpoints without an admin hand-wiring every peer's
// URL, and lets an instance browse the network for such peers.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
)

// serviceType is the mDNS service this module both advertises and
// browses for.
const serviceType = "_annex._tcp"

// Server wraps an mDNS responder advertising this instance.
type Server struct {
	server *mdns.Server
}

// Start begins advertising this instance on the local network via
// mDNS, registered as "_annex._tcp" with a TXT record carrying the
// protocol version and the instance's own advertised name, so a
// peer that only captures the TXT record (and not the PTR/SRV chain)
// still has enough to identify who it found.
func Start(port int, instanceName string) (*Server, error) {
	if instanceName == "" {
		h, err := os.Hostname()
		if err != nil {
			h = "annex"
		}
		instanceName = h
	}

	service, err := mdns.NewMDNSService(
		instanceName,
		serviceType,
		"",
		"",
		port,
		nil,
		[]string{
			"protocol_version=1",
			"name=" + instanceName,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("discovery: build mdns service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("discovery: start mdns server: %w", err)
	}

	slog.Info("mdns advertising", "name", instanceName, "service", serviceType, "port", port)
	return &Server{server: server}, nil
}

// Shutdown stops the mDNS responder.
func (s *Server) Shutdown() {
	if s.server == nil {
		return
	}
	if err := s.server.Shutdown(); err != nil {
		slog.Warn("mdns shutdown", "err", err)
	}
	slog.Info("mdns stopped")
}

// Peer is another annexd instance found on the local network.
type Peer struct {
	Name            string
	Addr            string
	Port            int
	ProtocolVersion string
}

// Discover browses the local network for other annexd instances for
// up to timeout, returning whichever peers answered in time. It never
// returns this process's own advertisement filtered out — callers
// compare against their own instance name if that matters to them.
func Discover(ctx context.Context, timeout time.Duration) ([]Peer, error) {
	entries := make(chan *mdns.ServiceEntry, 16)
	var peers []Peer
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range entries {
			peers = append(peers, entryToPeer(e))
		}
	}()

	err := mdns.Query(&mdns.QueryParam{
		Service: serviceType,
		Timeout: timeout,
		Entries: entries,
	})
	close(entries)
	<-done
	if err != nil {
		return nil, fmt.Errorf("discovery: query %s: %w", serviceType, err)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return peers, nil
}

func entryToPeer(e *mdns.ServiceEntry) Peer {
	p := Peer{Name: e.Name, Port: e.Port}
	if e.AddrV4 != nil {
		p.Addr = e.AddrV4.String()
	} else if e.AddrV6 != nil {
		p.Addr = e.AddrV6.String()
	}
	for _, field := range e.InfoFields {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch key {
		case "protocol_version":
			p.ProtocolVersion = value
		case "name":
			p.Name = value
		}
	}
	return p
}

// String renders a peer as "name@addr:port" for log lines.
func (p Peer) String() string {
	return p.Name + "@" + p.Addr + ":" + strconv.Itoa(p.Port)
}
