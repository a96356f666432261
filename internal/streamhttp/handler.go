// Package streamhttp is the HTTP surface for the Stream Store (§4.D):
// stream CRUD, conditional range reads, SSE subscription, and
// long-poll fallback. Routed with go-chi/chi/v5, following the
// teacher's router usage elsewhere in the corpus.
package streamhttp

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/neohum/edulinker-messenger-tauri/internal/streamstore"
)

// Handler serves /api/streams over a *streamstore.Store.
type Handler struct {
	store           *streamstore.Store
	sseCatchupLimit int
	heartbeat       time.Duration
}

// New returns a Handler.
func New(store *streamstore.Store, sseCatchupLimit int) *Handler {
	return &Handler{store: store, sseCatchupLimit: sseCatchupLimit, heartbeat: 30 * time.Second}
}

// Mount registers every route of §4.D on r.
func (h *Handler) Mount(r chi.Router) {
	r.Put("/streams/*", h.handleCreateStream)
	r.Get("/streams/*", h.handleGetStream)
	r.Delete("/streams/*", h.handleDeleteStream)
	r.Get("/streams", h.handleListStreams)
	r.Get("/info", h.handleDefaultInfo)
	r.Post("/messages", h.handleAppend)
	r.Get("/messages", h.handleRangeRead)
	r.Get("/messages/{id}", h.handleGetByID)
	r.Delete("/messages/{id}", h.handleDeleteMessage)
	r.Get("/stream", h.handleSSE)
	r.Get("/poll", h.handleLongPoll)
	r.Get("/conversations/{other}", h.handleConversation)
	r.Get("/offset", h.handleOffset)
	r.Get("/health", h.handleHealth)
}

func wildcardPath(r *http.Request) string {
	p := "/" + chi.URLParam(r, "*")
	if p == "/" {
		return "/"
	}
	return p
}

func (h *Handler) handleCreateStream(w http.ResponseWriter, r *http.Request) {
	path := wildcardPath(r)
	if r.Header.Get("If-None-Match") == "*" {
		if _, err := h.store.GetStream(path); err == nil {
			w.WriteHeader(http.StatusPreconditionFailed)
			return
		}
	}

	var body struct {
		Mode     string            `json:"mode"`
		Metadata map[string]string `json:"metadata"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.Mode == "" {
		body.Mode = streamstore.ModeJSON
	}

	st, err := h.store.CreateStream(path, body.Mode, body.Metadata)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("ETag", st.ETag)
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(st)
}

func (h *Handler) handleGetStream(w http.ResponseWriter, r *http.Request) {
	path := wildcardPath(r)
	st, err := h.store.GetStream(path)
	if err != nil {
		writeError(w, err)
		return
	}

	if r.Header.Get("If-None-Match") == st.ETag && st.ETag != "" {
		w.Header().Set("ETag", st.ETag)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("ETag", st.ETag)
	json.NewEncoder(w).Encode(st)
}

func (h *Handler) handleDeleteStream(w http.ResponseWriter, r *http.Request) {
	path := wildcardPath(r)
	st, err := h.store.GetStream(path)
	if err != nil {
		writeError(w, err)
		return
	}
	if ifMatch := r.Header.Get("If-Match"); ifMatch != "" && ifMatch != "*" && ifMatch != st.ETag {
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}
	if err := h.store.DeleteStream(path); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListStreams(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(h.store.ListStreams())
}

func (h *Handler) handleDefaultInfo(w http.ResponseWriter, r *http.Request) {
	st, err := h.store.GetStream(streamstore.DefaultStreamPath)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("ETag", st.ETag)
	json.NewEncoder(w).Encode(st)
}

func (h *Handler) handleAppend(w http.ResponseWriter, r *http.Request) {
	senderID := r.Header.Get("X-Sender-Id")
	if senderID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var body struct {
		MsgType     string          `json:"msgType"`
		RecipientID string          `json:"recipientId"`
		Payload     json.RawMessage `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	msg, err := h.store.Append(streamstore.DefaultStreamPath, streamstore.StreamMessage{
		ID:          generateMessageID(),
		MsgType:     body.MsgType,
		SenderID:    senderID,
		RecipientID: body.RecipientID,
		Payload:     body.Payload,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(msg)
}

// parseOffsetsRange parses "offsets=start-end" (end may be empty).
func parseOffsetsRange(header string) (start, end uint64, ok bool) {
	const prefix = "offsets="
	if !strings.HasPrefix(header, prefix) {
		return 0, 0, false
	}
	spec := strings.TrimPrefix(header, prefix)
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	s, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	var e uint64
	if parts[1] != "" {
		e, err = strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			return 0, 0, false
		}
	}
	return s, e, true
}

func (h *Handler) handleRangeRead(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var start uint64
	var limit = 100
	if v := q.Get("offset"); v != "" {
		start, _ = strconv.ParseUint(v, 10, 64)
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	var end uint64
	if rangeHeader := r.Header.Get("Range"); rangeHeader != "" {
		if s, e, ok := parseOffsetsRange(rangeHeader); ok {
			start = s
			end = e
		}
	}

	resp, err := h.store.GetRange(streamstore.DefaultStreamPath, start, end, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Range", fmt.Sprintf("offsets=%d-%d/%d", resp.StartOffset, resp.EndOffset, resp.TotalOffset))
	if resp.HasMore {
		w.WriteHeader(http.StatusPartialContent)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) handleGetByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	msg, err := h.store.GetByID(streamstore.DefaultStreamPath, id)
	if err != nil {
		writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(msg)
}

func (h *Handler) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.DeleteMessage(streamstore.DefaultStreamPath, id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleConversation(w http.ResponseWriter, r *http.Request) {
	user := r.Header.Get("X-User-Id")
	if user == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	other := chi.URLParam(r, "other")

	var from uint64
	limit := 100
	if v := r.URL.Query().Get("offset"); v != "" {
		from, _ = strconv.ParseUint(v, 10, 64)
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	msgs, err := h.store.GetConversation(streamstore.DefaultStreamPath, user, other, from, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(msgs)
}

func (h *Handler) handleOffset(w http.ResponseWriter, r *http.Request) {
	st, err := h.store.GetStream(streamstore.DefaultStreamPath)
	if err != nil {
		writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]uint64{"currentOffset": st.CurrentOffset, "messageCount": st.MessageCount})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	st, err := h.store.GetStream(streamstore.DefaultStreamPath)
	if err != nil {
		writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":        "ok",
		"currentOffset": st.CurrentOffset,
		"messageCount":  st.MessageCount,
	})
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case isNotFound(err):
		w.WriteHeader(http.StatusNotFound)
	case isAlreadyExists(err):
		w.WriteHeader(http.StatusPreconditionFailed)
	case isInvalidOffset(err):
		w.WriteHeader(http.StatusBadRequest)
	default:
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func isNotFound(err error) bool {
	_, ok := err.(streamstore.IsNotFound)
	return ok
}
func isAlreadyExists(err error) bool {
	_, ok := err.(streamstore.IsAlreadyExists)
	return ok
}
func isInvalidOffset(err error) bool {
	_, ok := err.(streamstore.IsInvalidOffset)
	return ok
}

var messageIDCounter uint64

func generateMessageID() string {
	n := atomic.AddUint64(&messageIDCounter, 1)
	return fmt.Sprintf("msg-%d-%d", time.Now().UnixNano(), n)
}
