package peermessaging

import (
	"context"
	"encoding/json"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/neohum/edulinker-messenger-tauri/internal/peerfabric"
	"github.com/neohum/edulinker-messenger-tauri/internal/streamstore"
)

type fakeResolver struct {
	peers      map[string]*peerfabric.Peer
	localUser  string
	markOnline []string
}

func (f *fakeResolver) ResolveByUser(userID string) (*peerfabric.Peer, bool) {
	p, ok := f.peers[userID]
	return p, ok
}
func (f *fakeResolver) LocalUserID() string { return f.localUser }
func (f *fakeResolver) MarkOnline(userID string) { f.markOnline = append(f.markOnline, userID) }

type fakeAppender struct {
	appended []streamstore.StreamMessage
}

func (a *fakeAppender) Append(streamPath string, msg streamstore.StreamMessage) (*streamstore.StreamMessage, error) {
	a.appended = append(a.appended, msg)
	return &msg, nil
}

func newTestMessaging() (*Messaging, *fakeResolver, *fakeAppender) {
	resolver := &fakeResolver{peers: map[string]*peerfabric.Peer{}, localUser: "local-user"}
	appender := &fakeAppender{}
	m := New(Config{TCPPort: 41237, UDPPort: 41236}, resolver, appender, nil)
	return m, resolver, appender
}

func TestSendQueuesWhenPeerUnknown(t *testing.T) {
	m, _, _ := newTestMessaging()
	err := m.Send(context.Background(), "ghost-user", PeerMessage{Type: "chat", ID: "m1"})
	require.NoError(t, err)

	drained := m.queue.Drain("ghost-user")
	require.Len(t, drained, 1)
	require.Equal(t, "m1", drained[0].ID)
}

func TestDrainQueueForUserRequeuesWhilePeerUnresolvable(t *testing.T) {
	m, resolver, _ := newTestMessaging()
	m.queue.Enqueue("user-2", PeerMessage{Type: "chat", ID: "queued-1"})

	// peer still unresolvable: message should be re-queued, not lost.
	m.DrainQueueForUser(context.Background(), "user-2")
	require.Len(t, m.queue.Drain("user-2"), 1)

	_ = resolver
}

func TestHandleIncomingDropsMismatchedReceiver(t *testing.T) {
	m, _, appender := newTestMessaging()
	raw, _ := json.Marshal(PeerMessage{Type: "chat", ID: "m1", SenderID: "u1", ReceiverID: "someone-else"})
	m.HandleIncoming(context.Background(), raw, &net.UDPAddr{}, "udp")

	require.Empty(t, appender.appended)
}

func TestHandleIncomingChatPersistsToDefaultStream(t *testing.T) {
	m, _, appender := newTestMessaging()
	raw, _ := json.Marshal(PeerMessage{Type: "chat", ID: "m1", SenderID: "u1", ReceiverID: "local-user", Payload: json.RawMessage(`"hi"`)})
	m.HandleIncoming(context.Background(), raw, &net.UDPAddr{}, "udp")

	require.Len(t, appender.appended, 1)
	require.Equal(t, "m1", appender.appended[0].ID)
	require.Equal(t, "text", appender.appended[0].MsgType)
}

func TestHandleIncomingFileOfferInsertsPendingTransfer(t *testing.T) {
	m, _, _ := newTestMessaging()
	payload, _ := json.Marshal(map[string]interface{}{"fileName": "notes.pdf", "fileSize": 130000})
	raw, _ := json.Marshal(PeerMessage{Type: "file_offer", ID: "ft1", SenderID: "u1", Payload: payload})
	m.HandleIncoming(context.Background(), raw, &net.UDPAddr{}, "udp")

	ft, ok := m.files.get("ft1")
	require.True(t, ok)
	require.Equal(t, FileStatusPending, ft.Status)
	require.Equal(t, "notes.pdf", ft.FileName)
	require.Equal(t, 2, ft.TotalChunks)
}

func TestHandleIncomingFileRejectRemovesTransfer(t *testing.T) {
	m, _, _ := newTestMessaging()
	m.files.insert(&FileTransfer{ID: "ft1", Status: FileStatusPending})

	raw, _ := json.Marshal(PeerMessage{Type: "file_reject", ID: "ft1", SenderID: "u1"})
	m.HandleIncoming(context.Background(), raw, &net.UDPAddr{}, "udp")

	_, ok := m.files.get("ft1")
	require.False(t, ok)
}

func TestHandleIncomingPongMarksOnline(t *testing.T) {
	m, resolver, _ := newTestMessaging()
	raw, _ := json.Marshal(PeerMessage{Type: "pong", ID: "p1", SenderID: "u1"})
	m.HandleIncoming(context.Background(), raw, &net.UDPAddr{}, "udp")

	require.Equal(t, []string{"u1"}, resolver.markOnline)
}

func TestGroupTableTracksMembership(t *testing.T) {
	g := NewGroupTable()
	g.Join("g1", "u1")
	g.Join("g1", "u2")
	require.ElementsMatch(t, []string{"u1", "u2"}, g.Members("g1"))

	g.Leave("g1", "u1")
	require.ElementsMatch(t, []string{"u2"}, g.Members("g1"))
}
