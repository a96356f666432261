package peerfabric

import "time"

// Peer is the local table entry describing a known peer's addresses
// and presence (§3 Data Model). TCPPort/UDPPort default to the local
// configured ports (SUPPLEMENTED FEATURES item 3) — the wire format
// never carries a peer's ports.
type Peer struct {
	PeerID   string
	UserID   string
	UserName string
	SchoolID string
	Hostname string
	Platform string
	IPAddress string
	TCPPort  int
	UDPPort  int
	LastSeen time.Time
	IsOnline bool
}

// OfflineAfter is the presence timeout (§3 Peer lifecycle, §4.G cleanup).
const OfflineAfter = 5 * time.Minute

// DiscoveryMessage is the wire shape of §4.G's discovery/discovery-response
// datagrams (SPEC_FULL.md WIRE PAYLOAD SCHEMAS). No port field: per
// SUPPLEMENTED FEATURES item 3, peer messaging ports are always the
// receiver's own local configuration, never advertised.
type DiscoveryMessage struct {
	Type      string `json:"type"`
	PeerID    string `json:"peerId"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName,omitempty"`
	SchoolID  string `json:"schoolId"`
	Hostname  string `json:"hostname,omitempty"`
	Platform  string `json:"platform,omitempty"`
	Timestamp string `json:"timestamp"`
}
