package console

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mullenkamp/ebooklet/internal/ebooklet"
)

// newTestRouter builds the same route table New does, without binding a
// real listener, so handlers can be exercised with httptest.
func newTestRouter(db *ebooklet.Database) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", healthHandler)
	r.HandleFunc("/keys", keysHandler(db))
	r.HandleFunc("/changes", changesHandler(db))
	return r
}

func TestHealthzHandler(t *testing.T) {
	r := newTestRouter(nil)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/healthz", nil)
	r.ServeHTTP(rr, req)

	assert.Equal(t, 200, rr.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestKeysHandlerListsLocalKeys(t *testing.T) {
	ctx := context.Background()
	db, err := ebooklet.Open(ctx, ebooklet.Options{Path: filepath.Join(t.TempDir(), "store")})
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Set("a", []byte("1")))

	r := newTestRouter(db)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/keys", nil)
	r.ServeHTTP(rr, req)

	assert.Equal(t, 200, rr.Code)
	var keys []string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &keys))
	assert.Contains(t, keys, "a")
}

func TestChangesHandlerWithoutRemoteReturnsEmpty(t *testing.T) {
	ctx := context.Background()
	db, err := ebooklet.Open(ctx, ebooklet.Options{Path: filepath.Join(t.TempDir(), "store")})
	require.NoError(t, err)
	defer db.Close()

	r := newTestRouter(db)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/changes", nil)
	r.ServeHTTP(rr, req)

	assert.Equal(t, 200, rr.Code)
	var keys []string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &keys))
	assert.Empty(t, keys)
}

func TestNewWrapsWithLoggingHandler(t *testing.T) {
	ctx := context.Background()
	db, err := ebooklet.Open(ctx, ebooklet.Options{Path: filepath.Join(t.TempDir(), "store")})
	require.NoError(t, err)
	defer db.Close()

	srv := New("127.0.0.1:0", db, nil)
	assert.NotNil(t, srv.httpSrv.Handler)
	assert.Equal(t, "127.0.0.1:0", srv.httpSrv.Addr)
}
