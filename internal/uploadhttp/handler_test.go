package uploadhttp

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/neohum/edulinker-messenger-tauri/internal/config"
	"github.com/neohum/edulinker-messenger-tauri/internal/uploadstore"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store, err := uploadstore.New(config.UploadConfig{
		DataDir:        t.TempDir(),
		MaxSizeBytes:   1 << 20,
		ExpirationSecs: 3600,
	}, nil)
	require.NoError(t, err)

	r := chi.NewRouter()
	New(store, "/tus", 1<<20).Mount(r)
	return httptest.NewServer(r)
}

func TestResumableUploadLifecycle(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/files/", nil)
	req.Header.Set("Tus-Resumable", "1.0.0")
	req.Header.Set("Upload-Length", "10")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	loc := resp.Header.Get("Location")
	require.Contains(t, loc, "/tus/files/")
	resp.Body.Close()

	id := loc[strings.LastIndex(loc, "/")+1:]

	patchReq, _ := http.NewRequest(http.MethodPatch, srv.URL+"/files/"+id+"/", strings.NewReader("helloworld"))
	patchReq.Header.Set("Tus-Resumable", "1.0.0")
	patchReq.Header.Set("Upload-Offset", "0")
	patchReq.Header.Set("Content-Type", "application/offset+octet-stream")
	patchResp, err := http.DefaultClient.Do(patchReq)
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, patchResp.StatusCode)
	require.Equal(t, "10", patchResp.Header.Get("Upload-Offset"))
	patchResp.Body.Close()

	headReq, _ := http.NewRequest(http.MethodHead, srv.URL+"/files/"+id+"/", nil)
	headReq.Header.Set("Tus-Resumable", "1.0.0")
	headResp, err := http.DefaultClient.Do(headReq)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, headResp.StatusCode)
	require.Equal(t, "10", headResp.Header.Get("Upload-Offset"))
	headResp.Body.Close()
}

func TestPatchWrongOffsetReturns409(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/files/", nil)
	req.Header.Set("Tus-Resumable", "1.0.0")
	req.Header.Set("Upload-Length", "10")
	resp, _ := http.DefaultClient.Do(req)
	loc := resp.Header.Get("Location")
	resp.Body.Close()
	id := loc[strings.LastIndex(loc, "/")+1:]

	patchReq, _ := http.NewRequest(http.MethodPatch, srv.URL+"/files/"+id+"/", strings.NewReader("xx"))
	patchReq.Header.Set("Tus-Resumable", "1.0.0")
	patchReq.Header.Set("Upload-Offset", "5")
	patchReq.Header.Set("Content-Type", "application/offset+octet-stream")
	patchResp, err := http.DefaultClient.Do(patchReq)
	require.NoError(t, err)
	require.Equal(t, http.StatusConflict, patchResp.StatusCode)
	patchResp.Body.Close()
}
