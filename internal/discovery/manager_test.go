package discovery

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestManagerHandleRegistersKnownVersionDevice(t *testing.T) {
	m := NewManager(nil, "local-device")

	raw, _ := json.Marshal(wireMessage{
		Type:      discoveryMessageType,
		Version:   discoveryVersion,
		DeviceID:  "device-1",
		Hostname:  "kids-tablet",
		IPAddress: "192.168.1.20",
	})
	m.handle(raw)

	devices := m.Devices()
	require.Len(t, devices, 1)
	require.Equal(t, "device-1", devices[0].DeviceID)
	require.Equal(t, "kids-tablet", devices[0].Hostname)
}

func TestManagerHandleIgnoresWrongTypeAndVersion(t *testing.T) {
	m := NewManager(nil, "local-device")

	raw, _ := json.Marshal(wireMessage{Type: "discovery", Version: discoveryVersion, DeviceID: "device-1"})
	m.handle(raw)
	require.Empty(t, m.Devices())

	raw, _ = json.Marshal(wireMessage{Type: discoveryMessageType, Version: "2.0", DeviceID: "device-1"})
	m.handle(raw)
	require.Empty(t, m.Devices())
}

func TestManagerHandleIgnoresSelf(t *testing.T) {
	m := NewManager(nil, "local-device")

	raw, _ := json.Marshal(wireMessage{Type: discoveryMessageType, Version: discoveryVersion, DeviceID: "local-device"})
	m.handle(raw)

	require.Empty(t, m.Devices())
}
