// Package discovery implements the Discovery Hub (§4.F): a single UDP
// receive socket with sequential port fallback, fanning every
// successfully-parsed JSON datagram out to the Peer Fabric and the
// Network Discovery Manager.
//
// Grounded on original_source/src-tauri/src/{internal_p2p,
// network_discovery}.rs: two independent datagram shapes share one
// wire (the plain `discovery`/`discovery-response` family the Peer
// Fabric owns, and the versioned "EDULINKER_DISCOVERY" family the
// Network Discovery Manager owns), so the Hub does not filter by
// type — it is each consumer's job to ignore what it doesn't care
// about.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net"

	"github.com/neohum/edulinker-messenger-tauri/pkg/appctx"
)

// Datagram is one received, JSON-decoded UDP packet.
type Datagram struct {
	Raw  json.RawMessage
	From *net.UDPAddr
}

// Hub owns the single UDP receive socket.
type Hub struct {
	conn *net.UDPConn
	port int

	peerCh chan Datagram
	netCh  chan Datagram
}

// NewHub binds a UDP socket on basePort, trying up to fallbackAttempts
// sequential ports on EADDRINUSE, and enables SO_BROADCAST.
func NewHub(basePort, fallbackAttempts int) (*Hub, error) {
	var conn *net.UDPConn
	var lastErr error
	port := basePort
	for attempt := 0; attempt <= fallbackAttempts; attempt++ {
		candidate := basePort + attempt
		addr := &net.UDPAddr{IP: net.IPv4zero, Port: candidate}
		c, err := net.ListenUDP("udp4", addr)
		if err == nil {
			conn = c
			port = candidate
			lastErr = nil
			break
		}
		lastErr = err
	}
	if conn == nil {
		return nil, fmt.Errorf("discovery: could not bind any port in [%d, %d]: %w", basePort, basePort+fallbackAttempts, lastErr)
	}

	return &Hub{
		conn:   conn,
		port:   port,
		peerCh: make(chan Datagram, 64),
		netCh:  make(chan Datagram, 64),
	}, nil
}

// Port returns the port actually bound (after fallback).
func (h *Hub) Port() int { return h.port }

// Conn exposes the receive socket so consumers can unicast replies
// from it (the discovery-response target per SUPPLEMENTED FEATURES
// item 5 uses a fresh ephemeral socket instead, kept independent here).
func (h *Hub) Conn() *net.UDPConn { return h.conn }

// PeerMessages is the channel the Peer Fabric consumes.
func (h *Hub) PeerMessages() <-chan Datagram { return h.peerCh }

// NetworkMessages is the channel the Network Discovery Manager consumes.
func (h *Hub) NetworkMessages() <-chan Datagram { return h.netCh }

// Run owns recv_from; it exits when ctx is cancelled, releasing the
// port (§4.F "The Hub owns cancellation").
func (h *Hub) Run(ctx context.Context) {
	log := appctx.GetLogger(ctx)
	go func() {
		<-ctx.Done()
		h.conn.Close()
	}()

	buf := make([]byte, 64*1024)
	for {
		n, from, err := h.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				log.Debug().Err(err).Msg("discovery: read error")
				return
			}
		}

		var probe json.RawMessage
		if err := json.Unmarshal(buf[:n], &probe); err != nil {
			continue // silently dropped per §7 "any parse failure is dropped silently"
		}

		dg := Datagram{Raw: probe, From: from}
		dispatch(h.peerCh, dg)
		dispatch(h.netCh, dg)
	}
}

func dispatch(ch chan Datagram, dg Datagram) {
	select {
	case ch <- dg:
	default:
	}
}
