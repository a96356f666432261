package discovery

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// discoveryMessageType and discoveryVersion match the original
// source's legacy `EDULINKER_DISCOVERY` wire family — kept distinct
// from the Peer Fabric's `discovery`/`discovery-response` family (see
// Hub's doc comment).
const (
	discoveryMessageType = "EDULINKER_DISCOVERY"
	discoveryVersion     = "1.0"
)

// DiscoveredDevice mirrors original_source/src-tauri/src/
// network_discovery.rs's DiscoveredDevice, field-for-field.
type DiscoveredDevice struct {
	DeviceID         string `json:"deviceId"`
	Hostname         string `json:"hostname"`
	IPAddress        string `json:"ipAddress"`
	MACAddress       string `json:"macAddress"`
	OS               string `json:"os"`
	Platform         string `json:"platform"`
	UserID           string `json:"userId,omitempty"`
	LastSeen         string `json:"lastSeen"`
	DiscoveryVersion string `json:"discoveryVersion"`
}

type wireMessage struct {
	Type       string `json:"type"`
	Version    string `json:"version"`
	DeviceID   string `json:"deviceId"`
	Hostname   string `json:"hostname"`
	IPAddress  string `json:"ipAddress"`
	MACAddress string `json:"macAddress"`
	OS         string `json:"os"`
	Platform   string `json:"platform"`
	UserID     string `json:"userId,omitempty"`
}

// Manager is a lightweight read side of the legacy network-discovery
// protocol: it maintains a flat device table from whatever
// EDULINKER_DISCOVERY datagrams cross the Hub, without itself
// broadcasting (that role now belongs to peerfabric.Fabric's own
// discovery family; see DESIGN.md's internal/discovery entry).
type Manager struct {
	hub     *Hub
	localID string
	mu      sync.RWMutex
	devices map[string]*DiscoveredDevice
}

// NewManager constructs a Manager bound to hub, ignoring any datagram
// whose deviceId equals localID (self-origin).
func NewManager(hub *Hub, localID string) *Manager {
	return &Manager{
		hub:     hub,
		localID: localID,
		devices: map[string]*DiscoveredDevice{},
	}
}

// Devices returns a snapshot of every known device.
func (m *Manager) Devices() []*DiscoveredDevice {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*DiscoveredDevice, 0, len(m.devices))
	for _, d := range m.devices {
		cp := *d
		out = append(out, &cp)
	}
	return out
}

// Run consumes the Hub's NetworkMessages channel until ctx is done or
// the channel closes.
func (m *Manager) Run(ctx context.Context) {
	if m.hub == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case dg, open := <-m.hub.NetworkMessages():
			if !open {
				return
			}
			m.handle(dg.Raw)
		}
	}
}

func (m *Manager) handle(raw json.RawMessage) {
	var msg wireMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if msg.Type != discoveryMessageType || msg.Version != discoveryVersion {
		return
	}
	if msg.DeviceID == "" || msg.DeviceID == m.localID {
		return
	}

	device := &DiscoveredDevice{
		DeviceID:         msg.DeviceID,
		Hostname:         msg.Hostname,
		IPAddress:        msg.IPAddress,
		MACAddress:       msg.MACAddress,
		OS:               msg.OS,
		Platform:         msg.Platform,
		UserID:           msg.UserID,
		LastSeen:         time.Now().UTC().Format(time.RFC3339),
		DiscoveryVersion: msg.Version,
	}

	m.mu.Lock()
	m.devices[msg.DeviceID] = device
	m.mu.Unlock()
}
