package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPTransportGetObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/db/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("X-Amz-Meta-Timestamp", "4242")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL+"/db", 0)
	obj, err := tr.GetObject(context.Background(), "present")
	require.NoError(t, err)
	assert.True(t, obj.Exists)
	assert.Equal(t, []byte("hello"), obj.Data)
	assert.Equal(t, uint64(4242), obj.Timestamp)

	missing, err := tr.GetObject(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, missing.Exists)
}

func TestHTTPTransportIsNeverWritable(t *testing.T) {
	tr := NewHTTPTransport("http://example.invalid/db", 0)
	w, err := tr.Writable(context.Background())
	require.NoError(t, err)
	assert.False(t, w)

	err = tr.PutObject(context.Background(), "k", []byte("v"), 1)
	assert.ErrorIs(t, err, ErrNotWritable)
}
