package streamstore

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "messages.db"), 16, 0)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func rawPayload(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestAppendAssignsStrictlyIncreasingOffsets(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 3; i++ {
		msg, err := s.Append(DefaultStreamPath, StreamMessage{
			ID: "m" + string(rune('0'+i)), MsgType: "text", SenderID: "u1",
			Payload: rawPayload(t, map[string]string{"n": "x"}),
		})
		require.NoError(t, err)
		require.Equal(t, uint64(i+1), msg.Offset)
	}

	st, err := s.GetStream(DefaultStreamPath)
	require.NoError(t, err)
	require.Equal(t, uint64(3), st.CurrentOffset)
}

func TestETagDeterministicOnOffsetAndBytes(t *testing.T) {
	s := newTestStore(t)
	st, err := s.GetStream(DefaultStreamPath)
	require.NoError(t, err)
	etag1 := st.ETag

	_, err = s.Append(DefaultStreamPath, StreamMessage{ID: "m1", MsgType: "text", SenderID: "u1", Payload: rawPayload(t, "hi")})
	require.NoError(t, err)

	st2, err := s.GetStream(DefaultStreamPath)
	require.NoError(t, err)
	require.NotEqual(t, etag1, st2.ETag)
}

func TestDeleteMessageDecrementsBytesNotOffset(t *testing.T) {
	s := newTestStore(t)
	msg, err := s.Append(DefaultStreamPath, StreamMessage{ID: "m1", MsgType: "text", SenderID: "u1", Payload: rawPayload(t, "hi")})
	require.NoError(t, err)

	require.NoError(t, s.DeleteMessage(DefaultStreamPath, msg.ID))

	st, err := s.GetStream(DefaultStreamPath)
	require.NoError(t, err)
	require.Equal(t, uint64(1), st.CurrentOffset, "current_offset is a version vector, not a count")
	require.Equal(t, uint64(0), st.TotalBytes)
}

func TestCheckETagConditionalSemantics(t *testing.T) {
	s := newTestStore(t)
	st, err := s.GetStream(DefaultStreamPath)
	require.NoError(t, err)

	result, err := s.CheckETag(DefaultStreamPath, "", st.ETag)
	require.NoError(t, err)
	require.Equal(t, NotModified, result)

	result, err = s.CheckETag(DefaultStreamPath, "\"stale\"", "")
	require.NoError(t, err)
	require.Equal(t, PreconditionFailed, result)

	result, err = s.CheckETag(DefaultStreamPath, "*", "")
	require.NoError(t, err)
	require.Equal(t, Proceed, result)
}

func TestGetRangeReportsHasMore(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 5; i++ {
		_, err := s.Append(DefaultStreamPath, StreamMessage{ID: string(rune('a' + i)), MsgType: "text", SenderID: "u1", Payload: rawPayload(t, "x")})
		require.NoError(t, err)
	}

	resp, err := s.GetRange(DefaultStreamPath, 0, 5, 3)
	require.NoError(t, err)
	require.Len(t, resp.Messages, 3)
	require.True(t, resp.HasMore)
	require.Equal(t, uint64(5), resp.TotalOffset)
}

func TestSubscribeReceivesAppendedMessages(t *testing.T) {
	s := newTestStore(t)
	ch, cancel := s.Subscribe(DefaultStreamPath)
	defer cancel()

	_, err := s.Append(DefaultStreamPath, StreamMessage{ID: "m1", MsgType: "text", SenderID: "u1", Payload: rawPayload(t, "hi")})
	require.NoError(t, err)

	env := <-ch
	require.NotNil(t, env.Message)
	require.Equal(t, "m1", env.Message.ID)
}

func TestCreateStreamRejectsDuplicatePath(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateStream("/foo", ModeJSON, nil)
	require.NoError(t, err)

	_, err = s.CreateStream("/foo", ModeJSON, nil)
	require.Error(t, err)
	_, ok := err.(AlreadyExists)
	require.True(t, ok)
}
