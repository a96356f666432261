// Package httphost mounts the Upload Server and Stream Server on one
// localhost HTTP listener with CORS (§4.E, §6). Grounded on the
// teacher's cmd/revad/svcs/httpsvcs/handlers/cors/cors.go for the
// rs/cors wiring, generalized from its mapstructure-configured
// middleware-registry pattern to a single fixed CORS policy matching
// §6's contract.
package httphost

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"

	"github.com/neohum/edulinker-messenger-tauri/internal/streamhttp"
	"github.com/neohum/edulinker-messenger-tauri/internal/uploadhttp"
)

// ExposedHeaders is the CORS exposed-header list required by §6.
var ExposedHeaders = []string{
	"Upload-Offset", "Upload-Length", "Tus-Resumable", "Tus-Version",
	"Tus-Max-Size", "Tus-Extension", "Location", "ETag", "Content-Range",
}

// AllowedMethods is the CORS method list required by §6.
var AllowedMethods = []string{
	http.MethodGet, http.MethodPost, http.MethodPut,
	http.MethodPatch, http.MethodDelete, http.MethodHead, http.MethodOptions,
}

// New builds the combined mux: tusPrefix mounts the Upload Server,
// streamPrefix mounts the Stream Server, both behind one CORS policy
// permitting any origin.
func New(upload *uploadhttp.Handler, stream *streamhttp.Handler, tusPrefix, streamPrefix string) http.Handler {
	r := chi.NewRouter()

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   AllowedMethods,
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   ExposedHeaders,
		AllowCredentials: false,
	})
	r.Use(corsMiddleware.Handler)

	r.Route(tusPrefix, func(r chi.Router) {
		upload.Mount(r)
	})
	r.Route(streamPrefix, func(r chi.Router) {
		stream.Mount(r)
	})

	return r
}
