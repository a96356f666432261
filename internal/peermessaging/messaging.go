package peermessaging

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	gmevents "go-micro.dev/v4/events"

	"github.com/neohum/edulinker-messenger-tauri/internal/hostevents"
	"github.com/neohum/edulinker-messenger-tauri/internal/peerfabric"
	"github.com/neohum/edulinker-messenger-tauri/internal/streamstore"
	"github.com/neohum/edulinker-messenger-tauri/pkg/events"
)

const (
	tcpSendTimeout = 5 * time.Second
	udpSendTimeout = 3 * time.Second
)

// PeerResolver is the subset of internal/peerfabric.Fabric that Peer
// Messaging needs; implemented directly by *peerfabric.Fabric (no
// import cycle — peerfabric never imports this package).
type PeerResolver interface {
	ResolveByUser(userID string) (*peerfabric.Peer, bool)
	LocalUserID() string
	MarkOnline(userID string)
}

// StreamAppender is the subset of internal/streamstore.Store needed
// to persist inbound chat onto the default stream (§4.H "persist").
type StreamAppender interface {
	Append(streamPath string, msg streamstore.StreamMessage) (*streamstore.StreamMessage, error)
}

// Config carries the locally configured ports used when a resolved
// peer record somehow omits them (defensive fallback; in practice
// internal/peerfabric always fills Peer.TCPPort/UDPPort from local
// config on upsert, per SPEC_FULL.md SUPPLEMENTED FEATURES item 3).
type Config struct {
	TCPPort int
	UDPPort int
}

// Messaging is the Peer Messaging subsystem of §4.H.
type Messaging struct {
	cfg     Config
	fabric  PeerResolver
	streams StreamAppender
	stream  gmevents.Stream

	queue  *OfflineQueue
	groups *GroupTable
	files  *fileTransferTable
}

// New constructs a Messaging bound to a peer resolver and (optionally)
// a default-stream appender and host event bus.
func New(cfg Config, fabric PeerResolver, streams StreamAppender, hostStream gmevents.Stream) *Messaging {
	return &Messaging{
		cfg:     cfg,
		fabric:  fabric,
		streams: streams,
		stream:  hostStream,
		queue:   NewOfflineQueue(),
		groups:  NewGroupTable(),
		files:   newFileTransferTable(),
	}
}

// Send implements §4.H's per-message send policy: TCP, then UDP, then
// the offline queue. Peer-layer failures never surface to callers
// (§7) — a fully-failed send degrades to queueing, not an error.
func (m *Messaging) Send(ctx context.Context, recipientUserID string, msg PeerMessage) error {
	peer, ok := m.fabric.ResolveByUser(recipientUserID)
	if ok {
		if err := m.sendTCP(peer, msg); err == nil {
			return nil
		}
		if err := m.sendUDP(peer, msg); err == nil {
			return nil
		}
	}
	m.queue.Enqueue(recipientUserID, msg)
	return nil
}

func (m *Messaging) sendTCP(peer *peerfabric.Peer, msg PeerMessage) error {
	port := peer.TCPPort
	if port == 0 {
		port = m.cfg.TCPPort
	}
	conn, err := net.DialTimeout("tcp4", net.JoinHostPort(peer.IPAddress, strconv.Itoa(port)), tcpSendTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := conn.SetWriteDeadline(time.Now().Add(tcpSendTimeout)); err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = conn.Write(append(data, '\n'))
	return err
}

func (m *Messaging) sendUDP(peer *peerfabric.Peer, msg PeerMessage) error {
	port := peer.UDPPort
	if port == 0 {
		port = m.cfg.UDPPort
	}
	conn, err := net.DialTimeout("udp4", net.JoinHostPort(peer.IPAddress, strconv.Itoa(port)), udpSendTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := conn.SetWriteDeadline(time.Now().Add(udpSendTimeout)); err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = conn.Write(data)
	return err
}

// SendPing implements peerfabric.MessagingBridge: task 5 of §4.G pings
// every online peer over UDP.
func (m *Messaging) SendPing(ctx context.Context, peer *peerfabric.Peer) error {
	return m.sendUDP(peer, PeerMessage{
		Type:      "ping",
		ID:        generateMessageID(),
		SenderID:  m.fabric.LocalUserID(),
		Timestamp: timestampRFC3339(),
	})
}

// DrainQueueForUser implements peerfabric.MessagingBridge: replays a
// user's offline backlog in order once they reappear via discovery.
func (m *Messaging) DrainQueueForUser(ctx context.Context, userID string) {
	for _, msg := range m.queue.Drain(userID) {
		_ = m.Send(ctx, userID, msg)
	}
}

// HandleIncoming implements peerfabric.MessagingBridge: the one
// dispatch point shared by the UDP and TCP listeners (§4.H).
func (m *Messaging) HandleIncoming(ctx context.Context, raw []byte, from net.Addr, transport string) {
	var msg PeerMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return // malformed: dropped silently per §7
	}

	isGroup := msg.GroupID != ""
	if !isGroup && msg.ReceiverID != "" && msg.ReceiverID != m.fabric.LocalUserID() {
		return // §4.H "dropped if receiver_id is set and does not match the local user"
	}

	switch msg.Type {
	case "chat":
		m.handleChat(ctx, msg)
	case "delivery_receipt":
		m.publish(hostevents.MessagingDeliveryReceipt{MessageID: payloadMessageID(msg), PeerID: msg.SenderID})
	case "read_receipt":
		m.publish(hostevents.MessagingReadReceipt{MessageID: payloadMessageID(msg), PeerID: msg.SenderID})
	case "typing":
		m.publish(hostevents.MessagingTyping{PeerID: msg.SenderID})
	case "group_chat":
		m.handleGroupChat(ctx, msg)
	case "group_create":
		m.groups.Join(msg.GroupID, msg.SenderID)
		m.publish(hostevents.GroupEvent{Kind: "create", GroupID: msg.GroupID, PeerID: msg.SenderID})
	case "group_join":
		m.groups.Join(msg.GroupID, msg.SenderID)
		m.publish(hostevents.GroupEvent{Kind: "join", GroupID: msg.GroupID, PeerID: msg.SenderID})
	case "group_leave":
		m.groups.Leave(msg.GroupID, msg.SenderID)
		m.publish(hostevents.GroupEvent{Kind: "leave", GroupID: msg.GroupID, PeerID: msg.SenderID})
	case "group_read_receipt", "group_delivery_receipt", "group_typing":
		m.publish(hostevents.GroupEvent{Kind: msg.Type, GroupID: msg.GroupID, PeerID: msg.SenderID, Payload: msg.Payload})
	case "file_offer":
		m.handleFileOffer(msg)
	case "file_accept":
		m.handleFileResponse(msg, FileStatusAccepted)
	case "file_reject":
		m.handleFileResponse(msg, FileStatusRejected)
	case "ping":
		m.handlePing(msg, from)
	case "pong":
		m.fabric.MarkOnline(msg.SenderID)
	}
}

func (m *Messaging) handleChat(ctx context.Context, msg PeerMessage) {
	if m.streams != nil {
		_, _ = m.streams.Append(streamstore.DefaultStreamPath, streamstore.StreamMessage{
			ID:          msg.ID,
			MsgType:     "text",
			Payload:     msg.Payload,
			SenderID:    msg.SenderID,
			RecipientID: msg.ReceiverID,
		})
	}
	m.publish(hostevents.MessagingReceived{MessageID: msg.ID, SenderID: msg.SenderID, MsgType: "chat", Payload: msg.Payload})
	m.sendDirect(msg.SenderID, PeerMessage{
		Type:      "delivery_receipt",
		ID:        generateMessageID(),
		SenderID:  m.fabric.LocalUserID(),
		Timestamp: timestampRFC3339(),
		Payload:   mustMarshal(map[string]string{"messageId": msg.ID}),
	})
}

func (m *Messaging) handleGroupChat(ctx context.Context, msg PeerMessage) {
	m.publish(hostevents.MessagingReceived{MessageID: msg.ID, SenderID: msg.SenderID, GroupID: msg.GroupID, MsgType: "group_chat", Payload: msg.Payload})
	m.sendDirect(msg.SenderID, PeerMessage{
		Type:      "group_delivery_receipt",
		ID:        generateMessageID(),
		SenderID:  m.fabric.LocalUserID(),
		GroupID:   msg.GroupID,
		Timestamp: timestampRFC3339(),
		Payload:   mustMarshal(map[string]string{"messageId": msg.ID}),
	})
}

func (m *Messaging) handleFileOffer(msg PeerMessage) {
	var offer struct {
		FileName string `json:"fileName"`
		FileSize int64  `json:"fileSize"`
	}
	_ = json.Unmarshal(msg.Payload, &offer)

	m.files.insert(&FileTransfer{
		ID:          msg.ID,
		PeerID:      msg.SenderID,
		FileName:    offer.FileName,
		FileSize:    offer.FileSize,
		Status:      FileStatusPending,
		Direction:   DirectionReceive,
		TotalChunks: totalChunks(offer.FileSize),
		CreatedAt:   time.Now().UTC(),
	})
	m.publish(hostevents.FileOffer{TransferID: msg.ID, PeerID: msg.SenderID, FileName: offer.FileName, FileSize: offer.FileSize})
}

func (m *Messaging) handleFileResponse(msg PeerMessage, status string) {
	if status == FileStatusRejected {
		m.files.remove(msg.ID)
	} else {
		m.files.update(msg.ID, func(ft *FileTransfer) { ft.Status = status })
	}
	m.publish(hostevents.FileStatusChanged{TransferID: msg.ID, PeerID: msg.SenderID, Status: status})
}

func (m *Messaging) handlePing(msg PeerMessage, from net.Addr) {
	reply := PeerMessage{
		Type:      "pong",
		ID:        generateMessageID(),
		SenderID:  m.fabric.LocalUserID(),
		Timestamp: timestampRFC3339(),
	}
	data, err := json.Marshal(reply)
	if err != nil {
		return
	}
	if udpAddr, ok := from.(*net.UDPAddr); ok {
		if conn, err := net.DialUDP("udp4", nil, udpAddr); err == nil {
			defer conn.Close()
			_ = conn.SetWriteDeadline(time.Now().Add(udpSendTimeout))
			_, _ = conn.Write(data)
			return
		}
	}
	m.sendDirect(msg.SenderID, reply)
}

// sendDirect is for best-effort replies (delivery/group-delivery
// receipts, pong) that go out over UDP only — §4.H specifies these by
// transport directly, not through the TCP-then-UDP-then-queue policy,
// and they are dropped rather than queued if the peer is unresolvable.
func (m *Messaging) sendDirect(recipientUserID string, msg PeerMessage) {
	peer, ok := m.fabric.ResolveByUser(recipientUserID)
	if !ok {
		return
	}
	_ = m.sendUDP(peer, msg)
}

func (m *Messaging) publish(ev interface{}) {
	if m.stream == nil {
		return
	}
	_ = events.Publish(ev, m.stream)
}

func payloadMessageID(msg PeerMessage) string {
	var body struct {
		MessageID string `json:"messageId"`
	}
	_ = json.Unmarshal(msg.Payload, &body)
	if body.MessageID != "" {
		return body.MessageID
	}
	return msg.ID
}

func mustMarshal(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

var messageIDCounter uint64

func generateMessageID() string {
	n := atomic.AddUint64(&messageIDCounter, 1)
	return fmt.Sprintf("pm-%d-%d", time.Now().UnixNano(), n)
}
