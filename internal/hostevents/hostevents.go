// Package hostevents defines the typed events the core publishes for
// the host application to subscribe to (§6 "Events to host"). Each
// type implements pkg/events.Unmarshaller and registers itself so
// pkg/events.Consume can dispatch on the wire without a shared schema.
package hostevents

import (
	"encoding/json"

	"github.com/neohum/edulinker-messenger-tauri/pkg/events"
)

func init() {
	registerAll()
}

func registerType(zero events.Unmarshaller) {
	events.RegisterType(zero)
}

func registerAll() {
	for _, zero := range []events.Unmarshaller{
		UploadCreated{},
		UploadProgress{},
		UploadCompleted{},
		UploadTerminated{},
		StreamMessageAppended{},
		PeerDiscovered{},
		PeerOnline{},
		PeerOffline{},
		FileOffer{},
		FileProgress{},
		FileComplete{},
		FileStatusChanged{},
		MessagingReceived{},
		MessagingDeliveryReceipt{},
		MessagingReadReceipt{},
		MessagingTyping{},
		GroupEvent{},
	} {
		registerType(zero)
	}
}

// UploadCreated mirrors the Rust original's TusEvent::Created.
type UploadCreated struct {
	UploadID string            `json:"uploadId"`
	Length   int64             `json:"length"`
	Metadata map[string]string `json:"metadata"`
}

func (UploadCreated) Unmarshal(v []byte) (interface{}, error) {
	var e UploadCreated
	if err := json.Unmarshal(v, &e); err != nil {
		return nil, err
	}
	return e, nil
}

// UploadProgress is emitted on every successful PATCH.
type UploadProgress struct {
	UploadID string `json:"uploadId"`
	Offset   int64  `json:"offset"`
	Length   int64  `json:"length"`
}

func (UploadProgress) Unmarshal(v []byte) (interface{}, error) {
	var e UploadProgress
	if err := json.Unmarshal(v, &e); err != nil {
		return nil, err
	}
	return e, nil
}

// UploadCompleted carries the finalized file's path (§4.B).
type UploadCompleted struct {
	UploadID  string `json:"uploadId"`
	FinalPath string `json:"finalPath"`
}

func (UploadCompleted) Unmarshal(v []byte) (interface{}, error) {
	var e UploadCompleted
	if err := json.Unmarshal(v, &e); err != nil {
		return nil, err
	}
	return e, nil
}

// UploadTerminated is emitted on DELETE /files/{id} and on expiration sweep.
type UploadTerminated struct {
	UploadID string `json:"uploadId"`
	Reason   string `json:"reason"`
}

func (UploadTerminated) Unmarshal(v []byte) (interface{}, error) {
	var e UploadTerminated
	if err := json.Unmarshal(v, &e); err != nil {
		return nil, err
	}
	return e, nil
}

// StreamMessageAppended mirrors a StreamMessage row for host-side caches.
type StreamMessageAppended struct {
	StreamPath string          `json:"streamPath"`
	Offset     uint64          `json:"offset"`
	MsgType    string          `json:"msgType"`
	SenderID   string          `json:"senderId"`
	RecipientID string         `json:"recipientId,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	Timestamp  string          `json:"timestamp"`
}

func (StreamMessageAppended) Unmarshal(v []byte) (interface{}, error) {
	var e StreamMessageAppended
	if err := json.Unmarshal(v, &e); err != nil {
		return nil, err
	}
	return e, nil
}

// PeerDiscovered fires on first sight of a peer (§4.G).
type PeerDiscovered struct {
	PeerID   string `json:"peerId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
}

func (PeerDiscovered) Unmarshal(v []byte) (interface{}, error) {
	var e PeerDiscovered
	if err := json.Unmarshal(v, &e); err != nil {
		return nil, err
	}
	return e, nil
}

// PeerOnline fires when a previously-offline peer reappears.
type PeerOnline struct {
	PeerID string `json:"peerId"`
	UserID string `json:"userId"`
}

func (PeerOnline) Unmarshal(v []byte) (interface{}, error) {
	var e PeerOnline
	if err := json.Unmarshal(v, &e); err != nil {
		return nil, err
	}
	return e, nil
}

// PeerOffline fires exactly once per online-to-offline transition.
type PeerOffline struct {
	PeerID string `json:"peerId"`
	UserID string `json:"userId"`
}

func (PeerOffline) Unmarshal(v []byte) (interface{}, error) {
	var e PeerOffline
	if err := json.Unmarshal(v, &e); err != nil {
		return nil, err
	}
	return e, nil
}

// FileOffer mirrors an inbound file_offer message (§4.H).
type FileOffer struct {
	TransferID string `json:"transferId"`
	PeerID     string `json:"peerId"`
	FileName   string `json:"fileName"`
	FileSize   int64  `json:"fileSize"`
}

func (FileOffer) Unmarshal(v []byte) (interface{}, error) {
	var e FileOffer
	if err := json.Unmarshal(v, &e); err != nil {
		return nil, err
	}
	return e, nil
}

// FileProgress reports transfer progress (0-100, §3 FileTransfer).
type FileProgress struct {
	TransferID string `json:"transferId"`
	Progress   uint8  `json:"progress"`
}

func (FileProgress) Unmarshal(v []byte) (interface{}, error) {
	var e FileProgress
	if err := json.Unmarshal(v, &e); err != nil {
		return nil, err
	}
	return e, nil
}

// FileComplete fires when a FileTransfer reaches status "complete".
type FileComplete struct {
	TransferID string `json:"transferId"`
}

func (FileComplete) Unmarshal(v []byte) (interface{}, error) {
	var e FileComplete
	if err := json.Unmarshal(v, &e); err != nil {
		return nil, err
	}
	return e, nil
}

// FileStatusChanged fires on file_accept/file_reject (§4.H).
type FileStatusChanged struct {
	TransferID string `json:"transferId"`
	PeerID     string `json:"peerId"`
	Status     string `json:"status"`
}

func (FileStatusChanged) Unmarshal(v []byte) (interface{}, error) {
	var e FileStatusChanged
	if err := json.Unmarshal(v, &e); err != nil {
		return nil, err
	}
	return e, nil
}

// MessagingReceived mirrors an inbound chat/group_chat dispatch.
type MessagingReceived struct {
	MessageID  string          `json:"messageId"`
	SenderID   string          `json:"senderId"`
	GroupID    string          `json:"groupId,omitempty"`
	MsgType    string          `json:"msgType"`
	Payload    json.RawMessage `json:"payload"`
}

func (MessagingReceived) Unmarshal(v []byte) (interface{}, error) {
	var e MessagingReceived
	if err := json.Unmarshal(v, &e); err != nil {
		return nil, err
	}
	return e, nil
}

// MessagingDeliveryReceipt mirrors an inbound delivery_receipt.
type MessagingDeliveryReceipt struct {
	MessageID string `json:"messageId"`
	PeerID    string `json:"peerId"`
}

func (MessagingDeliveryReceipt) Unmarshal(v []byte) (interface{}, error) {
	var e MessagingDeliveryReceipt
	if err := json.Unmarshal(v, &e); err != nil {
		return nil, err
	}
	return e, nil
}

// MessagingReadReceipt mirrors an inbound read_receipt.
type MessagingReadReceipt struct {
	MessageID string `json:"messageId"`
	PeerID    string `json:"peerId"`
}

func (MessagingReadReceipt) Unmarshal(v []byte) (interface{}, error) {
	var e MessagingReadReceipt
	if err := json.Unmarshal(v, &e); err != nil {
		return nil, err
	}
	return e, nil
}

// MessagingTyping mirrors an inbound typing notification (never persisted).
type MessagingTyping struct {
	PeerID string `json:"peerId"`
}

func (MessagingTyping) Unmarshal(v []byte) (interface{}, error) {
	var e MessagingTyping
	if err := json.Unmarshal(v, &e); err != nil {
		return nil, err
	}
	return e, nil
}

// GroupEvent mirrors the group:* family (create/join/leave/receipts/typing) —
// emit-only per §4.H, so one shape covers all of them tagged by Kind.
type GroupEvent struct {
	Kind    string          `json:"kind"`
	GroupID string          `json:"groupId"`
	PeerID  string          `json:"peerId"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (GroupEvent) Unmarshal(v []byte) (interface{}, error) {
	var e GroupEvent
	if err := json.Unmarshal(v, &e); err != nil {
		return nil, err
	}
	return e, nil
}
