package peerfabric

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestFabric(t *testing.T, schoolID string) *Fabric {
	t.Helper()
	return New(Config{
		UDPPort:      0,
		TCPPort:      0,
		SchoolID:     schoolID,
		OfflineAfter: 50 * time.Millisecond,
	}, nil, nil)
}

func discoveryDatagram(t *testing.T, msg DiscoveryMessage) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	return data
}

func TestHandleDiscoveryDatagramRegistersNewPeer(t *testing.T) {
	f := newTestFabric(t, "school-a")
	from := &net.UDPAddr{IP: net.ParseIP("192.168.1.50"), Port: 41235}

	raw := discoveryDatagram(t, DiscoveryMessage{
		Type:      "discovery",
		PeerID:    "peer-123",
		UserID:    "user-1",
		UserName:  "Ada",
		SchoolID:  "school-a",
		Hostname:  "adas-laptop",
		Timestamp: timestampRFC3339(),
	})

	f.handleDiscoveryDatagram(context.Background(), raw, from)

	peers := f.Peers()
	require.Len(t, peers, 1)
	require.Equal(t, "peer-123", peers[0].PeerID)
	require.Equal(t, "user-1", peers[0].UserID)
	require.True(t, peers[0].IsOnline)
	require.Equal(t, "192.168.1.50", peers[0].IPAddress)
}

func TestHandleDiscoveryDatagramIgnoresMismatchedSchool(t *testing.T) {
	f := newTestFabric(t, "school-a")
	from := &net.UDPAddr{IP: net.ParseIP("192.168.1.50"), Port: 41235}

	raw := discoveryDatagram(t, DiscoveryMessage{
		Type:     "discovery",
		PeerID:   "peer-123",
		SchoolID: "school-b",
	})

	f.handleDiscoveryDatagram(context.Background(), raw, from)

	require.Empty(t, f.Peers())
}

func TestHandleDiscoveryDatagramIgnoresSelf(t *testing.T) {
	f := newTestFabric(t, "school-a")
	from := &net.UDPAddr{IP: net.ParseIP("192.168.1.50"), Port: 41235}

	raw := discoveryDatagram(t, DiscoveryMessage{
		Type:     "discovery",
		PeerID:   f.localID,
		SchoolID: "school-a",
	})

	f.handleDiscoveryDatagram(context.Background(), raw, from)

	require.Empty(t, f.Peers())
}

func TestHandleDiscoveryDatagramIgnoresMalformedPayload(t *testing.T) {
	f := newTestFabric(t, "school-a")
	from := &net.UDPAddr{IP: net.ParseIP("192.168.1.50"), Port: 41235}

	f.handleDiscoveryDatagram(context.Background(), json.RawMessage(`{not json`), from)

	require.Empty(t, f.Peers())
}

func TestSweepOfflineTransitionsStalePeers(t *testing.T) {
	f := newTestFabric(t, "school-a")
	from := &net.UDPAddr{IP: net.ParseIP("192.168.1.50"), Port: 41235}

	raw := discoveryDatagram(t, DiscoveryMessage{
		Type:     "discovery",
		PeerID:   "peer-123",
		UserID:   "user-1",
		SchoolID: "school-a",
	})
	f.handleDiscoveryDatagram(context.Background(), raw, from)
	require.True(t, f.Peers()[0].IsOnline)

	time.Sleep(60 * time.Millisecond)
	f.sweepOffline()

	require.False(t, f.Peers()[0].IsOnline)
}

func TestResolveByUserFindsRegisteredPeer(t *testing.T) {
	f := newTestFabric(t, "school-a")
	from := &net.UDPAddr{IP: net.ParseIP("192.168.1.50"), Port: 41235}

	raw := discoveryDatagram(t, DiscoveryMessage{
		Type:     "discovery",
		PeerID:   "peer-123",
		UserID:   "user-1",
		SchoolID: "school-a",
	})
	f.handleDiscoveryDatagram(context.Background(), raw, from)

	p, ok := f.ResolveByUser("user-1")
	require.True(t, ok)
	require.Equal(t, "peer-123", p.PeerID)

	_, ok = f.ResolveByUser("nobody")
	require.False(t, ok)
}

type recordingMessaging struct {
	drained []string
	pinged  []string
}

func (r *recordingMessaging) HandleIncoming(ctx context.Context, raw []byte, from net.Addr, transport string) {
}

func (r *recordingMessaging) DrainQueueForUser(ctx context.Context, userID string) {
	r.drained = append(r.drained, userID)
}

func (r *recordingMessaging) SendPing(ctx context.Context, peer *Peer) error {
	r.pinged = append(r.pinged, peer.PeerID)
	return nil
}

func TestHandleDiscoveryDatagramDrainsQueueOnKnownUser(t *testing.T) {
	f := newTestFabric(t, "school-a")
	rm := &recordingMessaging{}
	f.SetMessaging(rm)
	from := &net.UDPAddr{IP: net.ParseIP("192.168.1.50"), Port: 41235}

	raw := discoveryDatagram(t, DiscoveryMessage{
		Type:     "discovery",
		PeerID:   "peer-123",
		UserID:   "user-1",
		SchoolID: "school-a",
	})
	f.handleDiscoveryDatagram(context.Background(), raw, from)

	require.Equal(t, []string{"user-1"}, rm.drained)
}

func TestHeartbeatPingsOnlinePeersOnly(t *testing.T) {
	f := newTestFabric(t, "school-a")
	rm := &recordingMessaging{}
	f.SetMessaging(rm)
	from := &net.UDPAddr{IP: net.ParseIP("192.168.1.50"), Port: 41235}

	stale := discoveryDatagram(t, DiscoveryMessage{
		Type:     "discovery",
		PeerID:   "peer-456",
		UserID:   "user-2",
		SchoolID: "school-a",
	})
	f.handleDiscoveryDatagram(context.Background(), stale, from)
	time.Sleep(60 * time.Millisecond)
	f.sweepOffline()

	raw := discoveryDatagram(t, DiscoveryMessage{
		Type:     "discovery",
		PeerID:   "peer-123",
		UserID:   "user-1",
		SchoolID: "school-a",
	})
	f.handleDiscoveryDatagram(context.Background(), raw, from)

	for _, p := range f.onlinePeers() {
		_ = rm.SendPing(context.Background(), p)
	}

	require.Equal(t, []string{"peer-123"}, rm.pinged)
}
