package streamhttp

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/neohum/edulinker-messenger-tauri/internal/streamstore"
)

// handleSSE implements §4.D's SSE semantics: a connected event with
// the current offset, optional catch-up replay, then live messages
// and periodic heartbeats, switching to a reset event on subscriber
// lag (SPEC_FULL.md wire shapes ground this on
// original_source/src-tauri/src/streams/types.rs's SseEvent).
func (h *Handler) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	st, err := h.store.GetStream(streamstore.DefaultStreamPath)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	writeSSE(w, "connected", "", map[string]uint64{"currentOffset": st.CurrentOffset})
	flusher.Flush()

	catchupFrom, wantCatchup := catchupOffset(r)
	if wantCatchup {
		msgs, err := h.store.GetFromOffset(streamstore.DefaultStreamPath, catchupFrom, h.sseCatchupLimit)
		if err == nil {
			for _, m := range msgs {
				writeSSE(w, "message", strconv.FormatUint(m.Offset, 10), m)
			}
			flusher.Flush()
		}
	}

	ch, cancel := h.store.Subscribe(streamstore.DefaultStreamPath)
	defer cancel()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case env, open := <-ch:
			if !open {
				return
			}
			if env.Lagged {
				writeSSE(w, "reset", "", map[string]string{"reason": "lagged"})
				flusher.Flush()
				continue
			}
			writeSSE(w, "message", strconv.FormatUint(env.Message.Offset, 10), env.Message)
			flusher.Flush()
		case <-ticker.C:
			writeSSE(w, "heartbeat", "", map[string]string{"timestamp": time.Now().UTC().Format(time.RFC3339)})
			flusher.Flush()
		}
	}
}

func catchupOffset(r *http.Request) (uint64, bool) {
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n, true
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

func writeSSE(w http.ResponseWriter, event, id string, data interface{}) {
	raw, _ := json.Marshal(data)
	fmt.Fprintf(w, "event: %s\n", event)
	if id != "" {
		fmt.Fprintf(w, "id: %s\n", id)
	}
	fmt.Fprintf(w, "data: %s\n\n", raw)
}

const (
	defaultLongPollTimeout = 30 * time.Second
	maxLongPollTimeout     = 60 * time.Second
)

// longPollResponse mirrors the Rust original's LongPollResponse shape.
type longPollResponse struct {
	Messages   []streamstore.StreamMessage `json:"messages"`
	NextOffset uint64                      `json:"nextOffset"`
}

// handleLongPoll implements §4.D's long-poll semantics.
func (h *Handler) handleLongPoll(w http.ResponseWriter, r *http.Request) {
	caller := r.Header.Get("X-User-Id")

	q := r.URL.Query()
	var offset uint64
	if v := q.Get("offset"); v != "" {
		offset, _ = strconv.ParseUint(v, 10, 64)
	}
	withUser := q.Get("with_user")

	timeout := defaultLongPollTimeout
	if v := q.Get("timeout_secs"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			timeout = time.Duration(secs) * time.Second
			if timeout > maxLongPollTimeout {
				timeout = maxLongPollTimeout
			}
		}
	}

	existing, err := h.pollMessages(offset, caller, withUser, 100)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(existing) > 0 {
		writeJSONPoll(w, existing)
		return
	}

	ch, cancel := h.store.Subscribe(streamstore.DefaultStreamPath)
	defer cancel()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-deadline.C:
			json.NewEncoder(w).Encode(longPollResponse{Messages: nil, NextOffset: offset})
			return
		case env, open := <-ch:
			if !open {
				json.NewEncoder(w).Encode(longPollResponse{Messages: nil, NextOffset: offset})
				return
			}
			if env.Lagged {
				continue
			}
			if !messageMatchesUser(*env.Message, caller, withUser) {
				continue
			}
			writeJSONPoll(w, []streamstore.StreamMessage{*env.Message})
			return
		}
	}
}

// pollMessages is always scoped to the caller (X-User-Id), matching
// handleConversation's GetConversation usage and the original's
// sender_id == user_id || recipient_id == user_id filter
// (original_source/src-tauri/src/streams/server.rs) — never the
// unfiltered catch-up GetFromOffset SSE uses for the no-header case.
func (h *Handler) pollMessages(offset uint64, caller, withUser string, limit int) ([]streamstore.StreamMessage, error) {
	if withUser == "" {
		return h.store.GetUserMessages(streamstore.DefaultStreamPath, caller, offset, limit)
	}
	return h.store.GetConversation(streamstore.DefaultStreamPath, caller, withUser, offset, limit)
}

func messageMatchesUser(m streamstore.StreamMessage, caller, withUser string) bool {
	if withUser != "" {
		return (m.SenderID == caller && m.RecipientID == withUser) || (m.SenderID == withUser && m.RecipientID == caller)
	}
	return m.SenderID == caller || m.RecipientID == caller
}

func writeJSONPoll(w http.ResponseWriter, msgs []streamstore.StreamMessage) {
	next := uint64(0)
	if len(msgs) > 0 {
		next = msgs[len(msgs)-1].Offset
	}
	json.NewEncoder(w).Encode(longPollResponse{Messages: msgs, NextOffset: next})
}
