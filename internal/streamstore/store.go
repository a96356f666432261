// Package streamstore implements the append-only, offset-addressed
// message log described in §4.C: an embedded SQL store (mattn/go-sqlite3)
// plus in-memory counters and a per-stream broadcast fan-out.
//
// Grounded on original_source/src-tauri/src/streams/storage.rs for the
// exact ETag formula ("offset:bytes", quoted) and conditional-request
// semantics. Unlike the original, which takes three separate lock
// acquisitions per append (offset counter, DB insert, total_bytes+etag),
// this store holds one mutex for the whole critical section, per
// DESIGN.md's internal/streamstore decision and §9's invariant that
// current_offset/total_bytes/etag "must be updated together under one
// critical section, or the ETag invariant breaks."
package streamstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

type streamState struct {
	mode         string
	currentOffset uint64
	totalBytes   uint64
	messageCount uint64
	metadata     map[string]string
	createdAt    time.Time
	updatedAt    time.Time
	etag         string
}

func etagFor(offset, bytes uint64) string {
	return fmt.Sprintf("%q", fmt.Sprintf("%d:%d", offset, bytes))
}

// Store is the Stream Store of §4.C.
type Store struct {
	db *sql.DB

	mu      sync.RWMutex
	streams map[string]*streamState

	subMu        sync.Mutex
	subs         map[string][]chan Envelope
	broadcastCap int

	retention time.Duration
}

// Open opens (creating if needed) the SQLite database at path,
// ensures schema, rebuilds in-memory counters from it, and ensures the
// default stream exists.
func Open(path string, broadcastCap int, retention time.Duration) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		// best effort; the caller's data dir is expected to already exist.
		_ = dir
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, IOError(err.Error())
	}
	if err := db.Ping(); err != nil {
		return nil, IOError(err.Error())
	}

	s := &Store{
		db:           db,
		streams:      map[string]*streamState{},
		subs:         map[string][]chan Envelope{},
		broadcastCap: broadcastCap,
		retention:    retention,
	}

	if err := s.migrate(); err != nil {
		return nil, err
	}
	if err := s.rebuildCounters(); err != nil {
		return nil, err
	}
	if _, err := s.GetStream(DefaultStreamPath); err != nil {
		if _, cerr := s.CreateStream(DefaultStreamPath, ModeJSON, nil); cerr != nil {
			return nil, cerr
		}
	}
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS streams (
			path TEXT PRIMARY KEY,
			mode TEXT NOT NULL,
			current_offset INTEGER NOT NULL DEFAULT 0,
			total_bytes INTEGER NOT NULL DEFAULT 0,
			message_count INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			etag TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT NOT NULL,
			stream_path TEXT NOT NULL,
			offset INTEGER NOT NULL,
			msg_type TEXT NOT NULL,
			payload TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			recipient_id TEXT,
			timestamp TEXT NOT NULL,
			byte_size INTEGER NOT NULL,
			PRIMARY KEY (stream_path, id)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_stream_offset ON messages(stream_path, offset)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(stream_path, sender_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_recipient ON messages(stream_path, recipient_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(stream_path, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(stream_path, sender_id, recipient_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return StorageError(errors.Wrap(err, "migrate").Error())
		}
	}
	return nil
}

func (s *Store) rebuildCounters() error {
	rows, err := s.db.Query(`SELECT path, mode, current_offset, total_bytes, message_count, created_at, updated_at, metadata, etag FROM streams`)
	if err != nil {
		return StorageError(err.Error())
	}
	defer rows.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	for rows.Next() {
		var path, mode, createdAt, updatedAt, metaRaw, etag string
		var offset, bytes, count uint64
		if err := rows.Scan(&path, &mode, &offset, &bytes, &count, &createdAt, &updatedAt, &metaRaw, &etag); err != nil {
			return StorageError(err.Error())
		}
		var meta map[string]string
		_ = json.Unmarshal([]byte(metaRaw), &meta)
		ct, _ := time.Parse(time.RFC3339Nano, createdAt)
		ut, _ := time.Parse(time.RFC3339Nano, updatedAt)
		s.streams[path] = &streamState{
			mode: mode, currentOffset: offset, totalBytes: bytes, messageCount: count,
			metadata: meta, createdAt: ct, updatedAt: ut, etag: etag,
		}
	}
	return rows.Err()
}

// CreateStream registers a new named stream (§4.C Stream CRUD).
func (s *Store) CreateStream(path, mode string, metadata map[string]string) (*Stream, error) {
	s.mu.Lock()
	if _, exists := s.streams[path]; exists {
		s.mu.Unlock()
		return nil, AlreadyExists(path)
	}
	now := time.Now().UTC()
	etag := etagFor(0, 0)
	st := &streamState{mode: mode, metadata: metadata, createdAt: now, updatedAt: now, etag: etag}
	s.streams[path] = st
	s.mu.Unlock()

	metaRaw, _ := json.Marshal(metadata)
	_, err := s.db.Exec(`INSERT INTO streams(path, mode, current_offset, total_bytes, message_count, created_at, updated_at, metadata, etag)
		VALUES (?, ?, 0, 0, 0, ?, ?, ?, ?)`,
		path, mode, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano), string(metaRaw), etag)
	if err != nil {
		s.mu.Lock()
		delete(s.streams, path)
		s.mu.Unlock()
		return nil, StorageError(err.Error())
	}

	return s.snapshot(path, st), nil
}

// GetStream returns stream info or NotFound.
func (s *Store) GetStream(path string) (*Stream, error) {
	s.mu.RLock()
	st, ok := s.streams[path]
	s.mu.RUnlock()
	if !ok {
		return nil, NotFound(path)
	}
	return s.snapshot(path, st), nil
}

// ListStreams returns every known stream.
func (s *Store) ListStreams() []*Stream {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Stream, 0, len(s.streams))
	for path, st := range s.streams {
		out = append(out, s.snapshot(path, st))
	}
	return out
}

// DeleteStream removes a stream and its messages.
func (s *Store) DeleteStream(path string) error {
	s.mu.Lock()
	if _, ok := s.streams[path]; !ok {
		s.mu.Unlock()
		return NotFound(path)
	}
	delete(s.streams, path)
	s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM messages WHERE stream_path = ?`, path); err != nil {
		return StorageError(err.Error())
	}
	if _, err := s.db.Exec(`DELETE FROM streams WHERE path = ?`, path); err != nil {
		return StorageError(err.Error())
	}
	return nil
}

// UpdateStreamMetadata replaces a stream's metadata map.
func (s *Store) UpdateStreamMetadata(path string, metadata map[string]string) (*Stream, error) {
	s.mu.Lock()
	st, ok := s.streams[path]
	if !ok {
		s.mu.Unlock()
		return nil, NotFound(path)
	}
	st.metadata = metadata
	st.updatedAt = time.Now().UTC()
	snap := s.snapshot(path, st)
	s.mu.Unlock()

	metaRaw, _ := json.Marshal(metadata)
	_, err := s.db.Exec(`UPDATE streams SET metadata = ?, updated_at = ? WHERE path = ?`,
		string(metaRaw), snap.UpdatedAt.Format(time.RFC3339Nano), path)
	if err != nil {
		return nil, StorageError(err.Error())
	}
	return snap, nil
}

// Append assigns message.Offset = ++current_offset under the store
// lock, persists the row, updates total_bytes and etag, and publishes
// to subscribers — all inside one critical section (§4.C append, §9).
func (s *Store) Append(path string, msg StreamMessage) (*StreamMessage, error) {
	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		return nil, SerializationError(err.Error())
	}
	byteSize := len(raw)
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[path]
	if !ok {
		return nil, NotFound(path)
	}
	st.currentOffset++
	msg.Offset = st.currentOffset
	msg.ByteSize = byteSize
	st.totalBytes += uint64(byteSize)
	st.messageCount++
	st.updatedAt = msg.Timestamp
	st.etag = etagFor(st.currentOffset, st.totalBytes)
	snapEtag := st.etag
	snapOffset := st.currentOffset

	_, err = s.db.Exec(`INSERT INTO messages(id, stream_path, offset, msg_type, payload, sender_id, recipient_id, timestamp, byte_size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, path, msg.Offset, msg.MsgType, string(msg.Payload), msg.SenderID, msg.RecipientID,
		msg.Timestamp.Format(time.RFC3339Nano), byteSize)
	if err != nil {
		return nil, StorageError(err.Error())
	}
	if _, err := s.db.Exec(`UPDATE streams SET current_offset = ?, total_bytes = total_bytes + ?, message_count = message_count + 1, updated_at = ?, etag = ? WHERE path = ?`,
		snapOffset, byteSize, msg.Timestamp.Format(time.RFC3339Nano), snapEtag, path); err != nil {
		return nil, StorageError(err.Error())
	}

	s.publish(path, msg)
	return &msg, nil
}

// GetFromOffset returns messages with offset > given, ascending, up to limit.
func (s *Store) GetFromOffset(path string, offset uint64, limit int) ([]StreamMessage, error) {
	return s.query(`SELECT id, offset, msg_type, payload, sender_id, recipient_id, timestamp, byte_size
		FROM messages WHERE stream_path = ? AND offset > ? ORDER BY offset ASC LIMIT ?`,
		path, offset, limit)
}

// GetConversation restricts to (sender=a,recipient=b) or (sender=b,recipient=a).
func (s *Store) GetConversation(path, a, b string, fromOffset uint64, limit int) ([]StreamMessage, error) {
	return s.query(`SELECT id, offset, msg_type, payload, sender_id, recipient_id, timestamp, byte_size
		FROM messages WHERE stream_path = ? AND offset > ?
		AND ((sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?))
		ORDER BY offset ASC LIMIT ?`,
		path, fromOffset, a, b, b, a, limit)
}

// GetUserMessages restricts to sender=u or recipient=u.
func (s *Store) GetUserMessages(path, u string, fromOffset uint64, limit int) ([]StreamMessage, error) {
	return s.query(`SELECT id, offset, msg_type, payload, sender_id, recipient_id, timestamp, byte_size
		FROM messages WHERE stream_path = ? AND offset > ? AND (sender_id = ? OR recipient_id = ?)
		ORDER BY offset ASC LIMIT ?`,
		path, fromOffset, u, u, limit)
}

// GetByID returns a single message or NotFound.
func (s *Store) GetByID(path, id string) (*StreamMessage, error) {
	msgs, err := s.query(`SELECT id, offset, msg_type, payload, sender_id, recipient_id, timestamp, byte_size
		FROM messages WHERE stream_path = ? AND id = ? LIMIT 1`, path, id)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, NotFound(id)
	}
	return &msgs[0], nil
}

// GetRange honors an explicit offset range (§4.C get_range).
func (s *Store) GetRange(path string, start, end uint64, limit int) (*ReadResponse, error) {
	s.mu.RLock()
	st, ok := s.streams[path]
	var total uint64
	if ok {
		total = st.currentOffset
	}
	s.mu.RUnlock()
	if !ok {
		return nil, NotFound(path)
	}

	query := `SELECT id, offset, msg_type, payload, sender_id, recipient_id, timestamp, byte_size
		FROM messages WHERE stream_path = ? AND offset > ?`
	args := []interface{}{path, start}
	if end > start {
		query += ` AND offset <= ?`
		args = append(args, end)
	}
	query += ` ORDER BY offset ASC LIMIT ?`
	args = append(args, limit)

	msgs, err := s.query(query, args...)
	if err != nil {
		return nil, err
	}

	var endOffset uint64 = start
	if len(msgs) > 0 {
		endOffset = msgs[len(msgs)-1].Offset
	}
	requestedEnd := end
	if requestedEnd == 0 || requestedEnd > total {
		requestedEnd = total
	}
	hasMore := endOffset < requestedEnd

	return &ReadResponse{
		Messages:    msgs,
		StartOffset: start,
		EndOffset:   endOffset,
		TotalOffset: total,
		HasMore:     hasMore,
	}, nil
}

// DeleteMessage removes a row and decrements total_bytes (not
// current_offset — see SUPPLEMENTED FEATURES item 1).
func (s *Store) DeleteMessage(path, id string) error {
	msg, err := s.GetByID(path, id)
	if err != nil {
		return err
	}

	if _, err := s.db.Exec(`DELETE FROM messages WHERE stream_path = ? AND id = ?`, path, id); err != nil {
		return StorageError(err.Error())
	}

	s.mu.Lock()
	st, ok := s.streams[path]
	if ok {
		if uint64(msg.ByteSize) > st.totalBytes {
			st.totalBytes = 0
		} else {
			st.totalBytes -= uint64(msg.ByteSize)
		}
		if st.messageCount > 0 {
			st.messageCount--
		}
		st.etag = etagFor(st.currentOffset, st.totalBytes)
		snapEtag := st.etag
		snapBytes := st.totalBytes
		s.mu.Unlock()
		_, _ = s.db.Exec(`UPDATE streams SET total_bytes = ?, message_count = message_count - 1, etag = ? WHERE path = ?`,
			snapBytes, snapEtag, path)
	} else {
		s.mu.Unlock()
	}
	return nil
}

// CleanupOldMessages deletes messages older than the configured
// retention window.
func (s *Store) CleanupOldMessages(path string) (int, error) {
	if s.retention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-s.retention).Format(time.RFC3339Nano)
	res, err := s.db.Exec(`DELETE FROM messages WHERE stream_path = ? AND timestamp < ?`, path, cutoff)
	if err != nil {
		return 0, StorageError(err.Error())
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.mu.Lock()
		if st, ok := s.streams[path]; ok && st.messageCount >= uint64(n) {
			st.messageCount -= uint64(n)
		}
		s.mu.Unlock()
		_, _ = s.db.Exec(`UPDATE streams SET message_count = MAX(message_count - ?, 0) WHERE path = ?`, n, path)
	}
	return int(n), nil
}

// CheckETag implements standard HTTP conditional-request semantics,
// with "*" matching any value (§4.C check_etag).
func (s *Store) CheckETag(path, ifMatch, ifNoneMatch string) (ConditionalResult, error) {
	st, err := s.GetStream(path)
	if err != nil {
		return Proceed, err
	}
	if ifNoneMatch != "" {
		if ifNoneMatch == "*" || ifNoneMatch == st.ETag {
			return NotModified, nil
		}
	}
	if ifMatch != "" {
		if ifMatch != "*" && ifMatch != st.ETag {
			return PreconditionFailed, nil
		}
	}
	return Proceed, nil
}

// Subscribe returns a channel receiving every subsequently appended
// message on path, and a function to unsubscribe (§4.C Subscription).
func (s *Store) Subscribe(path string) (<-chan Envelope, func()) {
	ch := make(chan Envelope, s.broadcastCap)
	s.subMu.Lock()
	s.subs[path] = append(s.subs[path], ch)
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		subs := s.subs[path]
		for i, c := range subs {
			if c == ch {
				s.subs[path] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
	return ch, cancel
}

func (s *Store) publish(path string, msg StreamMessage) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs[path] {
		select {
		case ch <- Envelope{Message: &msg}:
		default:
			// Full: drop the oldest queued envelope so the lag notice fits.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- Envelope{Lagged: true}:
			default:
			}
		}
	}
}

func (s *Store) snapshot(path string, st *streamState) *Stream {
	meta := make(map[string]string, len(st.metadata))
	for k, v := range st.metadata {
		meta[k] = v
	}
	return &Stream{
		Path:          path,
		Mode:          st.mode,
		CurrentOffset: st.currentOffset,
		TotalBytes:    st.totalBytes,
		MessageCount:  st.messageCount,
		CreatedAt:     st.createdAt,
		UpdatedAt:     st.updatedAt,
		Metadata:      meta,
		ETag:          st.etag,
	}
}

func (s *Store) query(q string, args ...interface{}) ([]StreamMessage, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, StorageError(err.Error())
	}
	defer rows.Close()

	var out []StreamMessage
	for rows.Next() {
		var m StreamMessage
		var payload, timestamp string
		var recipient sql.NullString
		if err := rows.Scan(&m.ID, &m.Offset, &m.MsgType, &payload, &m.SenderID, &recipient, &timestamp, &m.ByteSize); err != nil {
			return nil, StorageError(err.Error())
		}
		m.Payload = json.RawMessage(payload)
		if recipient.Valid {
			m.RecipientID = recipient.String
		}
		m.Timestamp, _ = time.Parse(time.RFC3339Nano, timestamp)
		out = append(out, m)
	}
	return out, rows.Err()
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
