package streamstore

import (
	"encoding/json"
	"time"
)

// DefaultStreamPath is the implicit, unnamed append log backing the
// peer-messaging history (§3 Stream, GLOSSARY "Default stream").
const DefaultStreamPath = "/default"

// Stream mode values (§3).
const (
	ModeJSON  = "json"
	ModeBytes = "bytes"
)

// Stream is a named, append-only container (§3 Data Model).
type Stream struct {
	Path          string            `json:"path"`
	Mode          string            `json:"mode"`
	CurrentOffset uint64            `json:"currentOffset"`
	TotalBytes    uint64            `json:"totalBytes"`
	MessageCount  uint64            `json:"messageCount"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
	Metadata      map[string]string `json:"metadata"`
	ETag          string            `json:"etag"`
}

// StreamMessage is one appended record (§3 Data Model).
type StreamMessage struct {
	ID          string          `json:"id"`
	Offset      uint64          `json:"offset"`
	MsgType     string          `json:"msgType"`
	Payload     json.RawMessage `json:"payload"`
	SenderID    string          `json:"senderId"`
	RecipientID string          `json:"recipientId,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	ByteSize    int             `json:"byteSize"`
}

// ReadResponse is the shape returned by GetRange (§4.C get_range).
type ReadResponse struct {
	Messages    []StreamMessage `json:"messages"`
	StartOffset uint64          `json:"startOffset"`
	EndOffset   uint64          `json:"endOffset"`
	TotalOffset uint64          `json:"totalOffset"`
	HasMore     bool            `json:"hasMore"`
}

// ConditionalResult is the outcome of a conditional-request check
// (§4.C check_etag).
type ConditionalResult int

const (
	Proceed ConditionalResult = iota
	NotModified
	PreconditionFailed
)

// Envelope is what a subscriber receives: either a newly appended
// message, or a Lagged notice telling it to resubscribe from its last
// known offset (§4.C Subscription, §5 Back-pressure).
type Envelope struct {
	Message *StreamMessage
	Lagged  bool
}
