package streamhttp

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/neohum/edulinker-messenger-tauri/internal/streamstore"
)

func newTestServer(t *testing.T) (*httptest.Server, *streamstore.Store) {
	t.Helper()
	store, err := streamstore.Open(filepath.Join(t.TempDir(), "messages.db"), 16, 0)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	r := chi.NewRouter()
	New(store, 100).Mount(r)
	return httptest.NewServer(r), store
}

func TestAppendThenRangeReadReportsPartialContent(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	for i := 0; i < 3; i++ {
		req, _ := http.NewRequest(http.MethodPost, srv.URL+"/messages", strings.NewReader(`{"msgType":"text","payload":"hi"}`))
		req.Header.Set("X-Sender-Id", "u1")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp.Body.Close()
	}

	resp, err := http.Get(srv.URL + "/messages?offset=0&limit=2")
	require.NoError(t, err)
	require.Equal(t, http.StatusPartialContent, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Range"), "offsets=0-2/3")
	resp.Body.Close()
}

func TestConditionalGetReturns304(t *testing.T) {
	srv, store := newTestServer(t)
	defer srv.Close()

	st, err := store.GetStream(streamstore.DefaultStreamPath)
	require.NoError(t, err)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/streams/default", nil)
	req.Header.Set("If-None-Match", st.ETag)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusNotModified, resp.StatusCode)
	resp.Body.Close()
}

func TestSSEEmitsConnectedThenMessages(t *testing.T) {
	srv, store := newTestServer(t)
	defer srv.Close()

	_, err := store.Append(streamstore.DefaultStreamPath, streamstore.StreamMessage{ID: "m1", MsgType: "text", SenderID: "u1", Payload: []byte(`"hi"`)})
	require.NoError(t, err)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/stream?offset=0", nil)
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	var lines []string
	for i := 0; i < 4 && scanner.Scan(); i++ {
		lines = append(lines, scanner.Text())
	}
	joined := strings.Join(lines, "\n")
	require.Contains(t, joined, "event: connected")
	require.Contains(t, joined, "event: message")
}

func TestPollWithoutUserScopeExcludesOtherUsersMessages(t *testing.T) {
	srv, store := newTestServer(t)
	defer srv.Close()

	_, err := store.Append(streamstore.DefaultStreamPath, streamstore.StreamMessage{
		ID: "m1", MsgType: "text", SenderID: "alice", RecipientID: "bob", Payload: []byte(`"private"`),
	})
	require.NoError(t, err)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/poll?offset=0&timeout_secs=1", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body longPollResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Empty(t, body.Messages, "poll with no X-User-Id must not leak another user's private message")
}

func TestPollWithUserScopeIsTwoPartyConversation(t *testing.T) {
	srv, store := newTestServer(t)
	defer srv.Close()

	_, err := store.Append(streamstore.DefaultStreamPath, streamstore.StreamMessage{
		ID: "m1", MsgType: "text", SenderID: "alice", RecipientID: "bob", Payload: []byte(`"to bob"`),
	})
	require.NoError(t, err)
	_, err = store.Append(streamstore.DefaultStreamPath, streamstore.StreamMessage{
		ID: "m2", MsgType: "text", SenderID: "alice", RecipientID: "carol", Payload: []byte(`"to carol"`),
	})
	require.NoError(t, err)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/poll?offset=0&with_user=alice&timeout_secs=1", nil)
	req.Header.Set("X-User-Id", "bob")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body longPollResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Messages, 1)
	require.Equal(t, "m1", body.Messages[0].ID)
}
