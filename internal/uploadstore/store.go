// Package uploadstore persists tus uploads on a local directory tree:
// <base>/partial/ holds in-flight bytes and JSON metadata sidecars,
// <base>/complete/ holds finalized files under sanitized names (§4.A).
//
// Grounded on original_source/src-tauri/src/tus/{storage,types}.rs for
// exact semantics (checksum validated before any seek/write, metadata
// sidecar removed on finalize, expiration sweep as a background task)
// and on the teacher's pkg/datatx/persistency/driver/json for the
// mutex-guarded in-memory-table-plus-sidecar persistence shape.
package uploadstore

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gmevents "go-micro.dev/v4/events"

	"github.com/neohum/edulinker-messenger-tauri/internal/config"
	"github.com/neohum/edulinker-messenger-tauri/internal/hostevents"
	"github.com/neohum/edulinker-messenger-tauri/pkg/events"
)

// Store is the in-memory table of uploads backed by the partial/complete
// directory tree. One mutex guards the table; file I/O for a given
// upload only ever happens for the id whose record is being mutated,
// so the lock is held only around the bookkeeping, not the write
// syscall itself, following the teacher's "clone small fields, drop
// the lock, then do I/O" discipline (§5).
type Store struct {
	mu      sync.Mutex
	uploads map[string]*Upload

	baseDir     string
	partialDir  string
	completeDir string

	maxSize         int64
	expiration      time.Duration
	cleanupInterval time.Duration

	stream gmevents.Stream
}

// New constructs a Store rooted at cfg.DataDir, creating the directory
// tree if needed, and recovers every incomplete upload from its
// sidecar (§4.A Recovery).
func New(cfg config.UploadConfig, stream gmevents.Stream) (*Store, error) {
	s := &Store{
		uploads:         map[string]*Upload{},
		baseDir:         cfg.DataDir,
		partialDir:      filepath.Join(cfg.DataDir, "partial"),
		completeDir:     filepath.Join(cfg.DataDir, "complete"),
		maxSize:         cfg.MaxSizeBytes,
		expiration:      time.Duration(cfg.ExpirationSecs) * time.Second,
		cleanupInterval: time.Duration(cfg.CleanupInterval) * time.Second,
		stream:          stream,
	}

	for _, d := range []string{s.partialDir, s.completeDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, IOError(err.Error())
		}
	}

	if err := s.recover(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) recover() error {
	entries, err := os.ReadDir(s.partialDir)
	if err != nil {
		return IOError(err.Error())
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.partialDir, e.Name()))
		if err != nil {
			continue
		}
		var u Upload
		if err := json.Unmarshal(raw, &u); err != nil {
			continue
		}
		if !u.IsComplete {
			s.uploads[u.ID] = &u
		}
	}
	return nil
}

// Create registers a new upload (§4.A create).
func (s *Store) Create(length int64, metadata map[string]string) (*Upload, error) {
	if length > s.maxSize {
		return nil, FileTooLarge{Size: length, Max: s.maxSize}
	}

	now := time.Now().UTC()
	u := &Upload{
		ID:        uuid.NewString(),
		Length:    length,
		Offset:    0,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := os.WriteFile(s.partialPath(u.ID), nil, 0o644); err != nil {
		return nil, IOError(err.Error())
	}
	if err := s.saveSidecar(u); err != nil {
		os.Remove(s.partialPath(u.ID))
		return nil, err
	}

	s.mu.Lock()
	s.uploads[u.ID] = u
	s.mu.Unlock()

	s.publish(hostevents.UploadCreated{UploadID: u.ID, Length: u.Length, Metadata: u.Metadata})
	return cloneUpload(u), nil
}

// Get returns the record for id, or NotFound.
func (s *Store) Get(id string) (*Upload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.uploads[id]
	if !ok {
		return nil, NotFound(id)
	}
	return cloneUpload(u), nil
}

// Write appends bytes at offset, validating any supplied checksum
// before touching the file offset or handle (SPEC_FULL.md supplemented
// feature 2; §8 Checksum correctness / Upload offset monotonicity).
// checksum is the raw Upload-Checksum header value ("sha256 <base64>"),
// or empty if absent.
func (s *Store) Write(id string, offset int64, data []byte, checksum string) (*Upload, error) {
	s.mu.Lock()
	u, ok := s.uploads[id]
	if !ok {
		s.mu.Unlock()
		return nil, NotFound(id)
	}
	if offset != u.Offset {
		expected, actual := u.Offset, offset
		s.mu.Unlock()
		return nil, InvalidOffset{Expected: expected, Actual: actual}
	}
	s.mu.Unlock()

	if checksum != "" {
		if err := verifyChecksum(checksum, data); err != nil {
			return nil, err
		}
	}

	f, err := os.OpenFile(s.partialPath(id), os.O_WRONLY, 0o644)
	if err != nil {
		return nil, IOError(err.Error())
	}
	defer f.Close()

	if _, err := f.Seek(offset, 0); err != nil {
		return nil, IOError(err.Error())
	}
	if _, err := f.Write(data); err != nil {
		return nil, IOError(err.Error())
	}
	if err := f.Sync(); err != nil {
		return nil, IOError(err.Error())
	}

	s.mu.Lock()
	u.Offset += int64(len(data))
	u.UpdatedAt = time.Now().UTC()
	newOffset, length := u.Offset, u.Length
	complete := newOffset == length
	s.mu.Unlock()

	if err := s.saveSidecar(u); err != nil {
		return nil, err
	}

	s.publish(hostevents.UploadProgress{UploadID: id, Offset: newOffset, Length: length})

	if complete {
		if err := s.finalize(id); err != nil {
			return nil, err
		}
	}

	return s.Get(id)
}

// finalize renames the partial file to complete/<sanitized filename>
// and removes the sidecar (§4.A finalize; §8 Atomic finalization).
func (s *Store) finalize(id string) error {
	s.mu.Lock()
	u, ok := s.uploads[id]
	if !ok {
		s.mu.Unlock()
		return NotFound(id)
	}
	filename := sanitizeFilename(u.Metadata[MetaFilename])
	if filename == "upload" {
		filename = id + ".bin"
	}
	finalPath := filepath.Join(s.completeDir, filename)
	s.mu.Unlock()

	if err := os.Rename(s.partialPath(id), finalPath); err != nil {
		return IOError(err.Error())
	}
	os.Remove(s.sidecarPath(id))

	s.mu.Lock()
	u.IsComplete = true
	u.FinalPath = finalPath
	u.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()

	s.publish(hostevents.UploadCompleted{UploadID: id, FinalPath: finalPath})
	return nil
}

// Delete removes the partial file, sidecar, and in-memory record.
// Idempotent.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	_, existed := s.uploads[id]
	delete(s.uploads, id)
	s.mu.Unlock()

	os.Remove(s.partialPath(id))
	os.Remove(s.sidecarPath(id))

	if existed {
		s.publish(hostevents.UploadTerminated{UploadID: id, Reason: "deleted"})
	}
	return nil
}

// CleanupExpired deletes every incomplete upload whose UpdatedAt
// predates the expiration window, returning how many were removed.
// Completed uploads are not removed.
func (s *Store) CleanupExpired() int {
	cutoff := time.Now().UTC().Add(-s.expiration)

	s.mu.Lock()
	var expired []string
	for id, u := range s.uploads {
		if !u.IsComplete && u.UpdatedAt.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	s.mu.Unlock()

	for _, id := range expired {
		s.Delete(id)
		s.publish(hostevents.UploadTerminated{UploadID: id, Reason: "expired"})
	}
	return len(expired)
}

// RunCleanupSweep runs CleanupExpired on a timer until ctx is
// cancelled (SUPPLEMENTED FEATURES item 6).
func (s *Store) RunCleanupSweep(ctx context.Context) {
	if s.cleanupInterval <= 0 {
		return
	}
	t := time.NewTicker(s.cleanupInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.CleanupExpired()
		}
	}
}

func (s *Store) partialPath(id string) string {
	return filepath.Join(s.partialDir, id+".part")
}

func (s *Store) sidecarPath(id string) string {
	return filepath.Join(s.partialDir, id+".json")
}

func (s *Store) saveSidecar(u *Upload) error {
	s.mu.Lock()
	raw, err := json.Marshal(u)
	s.mu.Unlock()
	if err != nil {
		return StorageError(err.Error())
	}
	if err := os.WriteFile(s.sidecarPath(u.ID), raw, 0o644); err != nil {
		return StorageError(err.Error())
	}
	return nil
}

func (s *Store) publish(ev interface{}) {
	if s.stream == nil {
		return
	}
	_ = events.Publish(ev, s.stream)
}

func cloneUpload(u *Upload) *Upload {
	cp := *u
	if u.Metadata != nil {
		cp.Metadata = make(map[string]string, len(u.Metadata))
		for k, v := range u.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// verifyChecksum checks header (format "sha256 <base64 digest>")
// against the SHA-256 of data.
func verifyChecksum(header string, data []byte) error {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "sha256") {
		return ChecksumMismatch("unsupported checksum algorithm")
	}
	want, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return ChecksumMismatch("malformed checksum encoding")
	}
	got := sha256.Sum256(data)
	if string(want) != string(got[:]) {
		return ChecksumMismatch("sha256 mismatch")
	}
	return nil
}
