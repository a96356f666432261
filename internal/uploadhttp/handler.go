// Package uploadhttp implements the tus 1.0.0 HTTP surface over an
// *uploadstore.Store (§4.B). Generalized from the teacher's
// internal/http/services/owncloud/ocdav/tus.go — the same header
// contract and tusd metadata helpers, rewired from a gRPC-backed
// storage provider to uploadstore.Store directly.
package uploadhttp

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	tusd "github.com/tus/tusd/v2/pkg/handler"

	"github.com/neohum/edulinker-messenger-tauri/internal/uploadstore"
	"github.com/neohum/edulinker-messenger-tauri/pkg/appctx"
)

const (
	tusVersion    = "1.0.0"
	tusExtensions = "creation,creation-with-upload,termination,checksum,expiration"
)

// Handler serves the tus protocol over a Store.
type Handler struct {
	store   *uploadstore.Store
	prefix  string
	maxSize int64
}

// New returns a Handler. prefix is the mount point (e.g. "/tus") used
// to build the Location header for created uploads.
func New(store *uploadstore.Store, prefix string, maxSize int64) *Handler {
	return &Handler{store: store, prefix: prefix, maxSize: maxSize}
}

// Mount registers the /files routes on r (§4.B endpoint layout).
func (h *Handler) Mount(r chi.Router) {
	r.Route("/files", func(r chi.Router) {
		r.Options("/", h.handleOptions)
		r.Post("/", h.handleCreate)
		r.Route("/{id}", func(r chi.Router) {
			r.Head("/", h.handleHead)
			r.Patch("/", h.handlePatch)
			r.Delete("/", h.handleDelete)
		})
	})
}

func (h *Handler) setCommonHeaders(w http.ResponseWriter) {
	w.Header().Set("Tus-Resumable", tusVersion)
	w.Header().Add("Access-Control-Allow-Headers",
		"Tus-Resumable, Upload-Length, Upload-Metadata, Upload-Offset, Upload-Checksum, If-Match")
	w.Header().Add("Access-Control-Expose-Headers",
		"Tus-Resumable, Tus-Version, Tus-Extension, Tus-Max-Size, Location, Upload-Offset, ETag")
}

func (h *Handler) handleOptions(w http.ResponseWriter, r *http.Request) {
	h.setCommonHeaders(w)
	w.Header().Set("Tus-Version", tusVersion)
	w.Header().Set("Tus-Extension", tusExtensions)
	w.Header().Set("Tus-Max-Size", strconv.FormatInt(h.maxSize, 10))
	w.Header().Set("Tus-Checksum-Algorithm", "sha256")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	h.setCommonHeaders(w)

	if r.Header.Get("Tus-Resumable") != tusVersion {
		writeError(w, uploadstore.InvalidContentType("unsupported Tus-Resumable version"))
		return
	}
	lengthHeader := r.Header.Get("Upload-Length")
	if lengthHeader == "" {
		writeError(w, uploadstore.MissingHeader("Upload-Length"))
		return
	}
	length, err := strconv.ParseInt(lengthHeader, 10, 64)
	if err != nil {
		writeError(w, uploadstore.MissingHeader("Upload-Length"))
		return
	}

	meta := tusd.ParseMetadataHeader(r.Header.Get("Upload-Metadata"))

	u, err := h.store.Create(length, meta)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Location", h.prefix+"/files/"+u.ID)
	w.Header().Set("Upload-Offset", strconv.FormatInt(u.Offset, 10))

	// creation-with-upload extension: a body may accompany the POST.
	if r.Header.Get("Content-Type") == "application/offset+octet-stream" {
		body, err := io.ReadAll(io.LimitReader(r.Body, length))
		if err != nil {
			appctx.GetLogger(r.Context()).Error().Err(err).Msg("uploadhttp: reading creation-with-upload body")
			writeError(w, uploadstore.IOError(err.Error()))
			return
		}
		if len(body) > 0 {
			u, err = h.store.Write(u.ID, 0, body, r.Header.Get("Upload-Checksum"))
			if err != nil {
				writeError(w, err)
				return
			}
			w.Header().Set("Upload-Offset", strconv.FormatInt(u.Offset, 10))
		}
	}

	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) handleHead(w http.ResponseWriter, r *http.Request) {
	h.setCommonHeaders(w)
	id := chi.URLParam(r, "id")

	u, err := h.store.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Upload-Offset", strconv.FormatInt(u.Offset, 10))
	w.Header().Set("Upload-Length", strconv.FormatInt(u.Length, 10))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handlePatch(w http.ResponseWriter, r *http.Request) {
	h.setCommonHeaders(w)
	id := chi.URLParam(r, "id")

	if r.Header.Get("Tus-Resumable") != tusVersion {
		writeError(w, uploadstore.InvalidContentType("unsupported Tus-Resumable version"))
		return
	}
	if r.Header.Get("Content-Type") != "application/offset+octet-stream" {
		writeError(w, uploadstore.InvalidContentType(r.Header.Get("Content-Type")))
		return
	}
	offsetHeader := r.Header.Get("Upload-Offset")
	if offsetHeader == "" {
		writeError(w, uploadstore.MissingHeader("Upload-Offset"))
		return
	}
	offset, err := strconv.ParseInt(offsetHeader, 10, 64)
	if err != nil {
		writeError(w, uploadstore.MissingHeader("Upload-Offset"))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, uploadstore.IOError(err.Error()))
		return
	}

	u, err := h.store.Write(id, offset, body, r.Header.Get("Upload-Checksum"))
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Upload-Offset", strconv.FormatInt(u.Offset, 10))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	h.setCommonHeaders(w)
	id := chi.URLParam(r, "id")

	if _, err := h.store.Get(id); err != nil {
		writeError(w, err)
		return
	}
	if err := h.store.Delete(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeError maps a uploadstore error kind to its HTTP status (§4.B).
func writeError(w http.ResponseWriter, err error) {
	switch {
	case implementsIsNotFound(err):
		w.WriteHeader(http.StatusNotFound)
	case implementsIsInvalidOffset(err):
		w.WriteHeader(http.StatusConflict)
	case implementsIsFileTooLarge(err):
		w.WriteHeader(http.StatusRequestEntityTooLarge)
	case implementsIsInvalidContentType(err):
		w.WriteHeader(http.StatusUnsupportedMediaType)
	case implementsIsMissingHeader(err):
		w.WriteHeader(http.StatusBadRequest)
	case implementsIsChecksumMismatch(err):
		w.WriteHeader(http.StatusExpectationFailed)
	default:
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func implementsIsNotFound(err error) bool {
	_, ok := err.(uploadstore.IsNotFound)
	return ok
}

func implementsIsInvalidOffset(err error) bool {
	_, ok := err.(uploadstore.IsInvalidOffset)
	return ok
}

func implementsIsFileTooLarge(err error) bool {
	_, ok := err.(uploadstore.IsFileTooLarge)
	return ok
}

func implementsIsInvalidContentType(err error) bool {
	_, ok := err.(uploadstore.IsInvalidContentType)
	return ok
}

func implementsIsMissingHeader(err error) bool {
	_, ok := err.(uploadstore.IsMissingHeader)
	return ok
}

func implementsIsChecksumMismatch(err error) bool {
	_, ok := err.(uploadstore.IsChecksumMismatch)
	return ok
}
