package uploadstore

import (
	"crypto/sha256"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/neohum/edulinker-messenger-tauri/internal/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	cfg := config.UploadConfig{
		DataDir:        dir,
		MaxSizeBytes:   1024,
		ExpirationSecs: 3600,
	}
	s, err := New(cfg, nil)
	require.NoError(t, err)
	return s
}

func TestCreateRejectsOversizedUpload(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create(2048, nil)
	require.Error(t, err)
	_, ok := err.(FileTooLarge)
	require.True(t, ok)
}

func TestWritePatchesOffsetAndFinalizes(t *testing.T) {
	s := newTestStore(t)
	u, err := s.Create(10, map[string]string{MetaFilename: "a.bin"})
	require.NoError(t, err)
	require.Equal(t, int64(0), u.Offset)

	u, err = s.Write(u.ID, 0, []byte("hello"), "")
	require.NoError(t, err)
	require.Equal(t, int64(5), u.Offset)
	require.False(t, u.IsComplete)

	u, err = s.Write(u.ID, 5, []byte("world"), "")
	require.NoError(t, err)
	require.Equal(t, int64(10), u.Offset)
	require.True(t, u.IsComplete)
	require.FileExists(t, u.FinalPath)
	require.Equal(t, filepath.Join(s.completeDir, "a.bin"), u.FinalPath)

	_, err = os.Stat(s.sidecarPath(u.ID))
	require.True(t, os.IsNotExist(err))
}

func TestWriteRejectsWrongOffset(t *testing.T) {
	s := newTestStore(t)
	u, err := s.Create(10, nil)
	require.NoError(t, err)

	_, err = s.Write(u.ID, 5, []byte("xx"), "")
	require.Error(t, err)
	var invOffset InvalidOffset
	require.ErrorAs(t, err, &invOffset)
	require.Equal(t, int64(0), invOffset.Expected)

	got, err := s.Get(u.ID)
	require.NoError(t, err)
	require.Equal(t, int64(0), got.Offset)
}

func TestWriteValidatesChecksumBeforeSeek(t *testing.T) {
	s := newTestStore(t)
	u, err := s.Create(10, nil)
	require.NoError(t, err)

	_, err = s.Write(u.ID, 0, []byte("hello"), "sha256 "+base64.StdEncoding.EncodeToString([]byte("wrong")))
	require.Error(t, err)
	_, ok := err.(ChecksumMismatch)
	require.True(t, ok)

	got, err := s.Get(u.ID)
	require.NoError(t, err)
	require.Equal(t, int64(0), got.Offset, "offset must be unchanged on checksum failure")

	sum := sha256.Sum256([]byte("hello"))
	_, err = s.Write(u.ID, 0, []byte("hello"), "sha256 "+base64.StdEncoding.EncodeToString(sum[:]))
	require.NoError(t, err)
}

func TestRecoverReloadsIncompleteUploads(t *testing.T) {
	dir := t.TempDir()
	cfg := config.UploadConfig{DataDir: dir, MaxSizeBytes: 1024, ExpirationSecs: 3600}
	s1, err := New(cfg, nil)
	require.NoError(t, err)
	u, err := s1.Create(10, nil)
	require.NoError(t, err)
	_, err = s1.Write(u.ID, 0, []byte("hello"), "")
	require.NoError(t, err)

	s2, err := New(cfg, nil)
	require.NoError(t, err)
	got, err := s2.Get(u.ID)
	require.NoError(t, err)
	require.Equal(t, int64(5), got.Offset)
}

func TestCleanupExpiredRemovesStaleUploads(t *testing.T) {
	dir := t.TempDir()
	cfg := config.UploadConfig{DataDir: dir, MaxSizeBytes: 1024, ExpirationSecs: 0}
	s, err := New(cfg, nil)
	require.NoError(t, err)
	u, err := s.Create(10, nil)
	require.NoError(t, err)

	n := s.CleanupExpired()
	require.Equal(t, 1, n)
	_, err = s.Get(u.ID)
	require.Error(t, err)
}
