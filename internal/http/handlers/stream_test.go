package handlers

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/preroll/internal/prefetch"
)

func TestStreamHandler_ServeStream(t *testing.T) {
	engine := newStubEngine()
	payload := []byte("buffered media payload bytes")
	engine.serve("http://example.com/a.ts", payload)

	cache := newTestCache(engine)
	defer cache.ClearAll()

	require.NoError(t, cache.Start("http://example.com/a.ts", prefetch.Options{}))
	require.True(t, waitForStatus(cache, "http://example.com/a.ts", prefetch.StatusCached))

	router := chi.NewRouter()
	NewStreamHandler(cache, nil).Register(router)

	req := httptest.NewRequest(http.MethodGet, "/stream?url=http%3A%2F%2Fexample.com%2Fa.ts", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, body)

	// The entry left the cache with the handoff.
	_, err = cache.Info("http://example.com/a.ts")
	assert.ErrorIs(t, err, prefetch.ErrNotFound)
}

func TestStreamHandler_MissingURL(t *testing.T) {
	cache := newTestCache(newStubEngine())
	router := chi.NewRouter()
	NewStreamHandler(cache, nil).Register(router)

	req := httptest.NewRequest(http.MethodGet, "/stream", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamHandler_NotFound(t *testing.T) {
	cache := newTestCache(newStubEngine())
	router := chi.NewRouter()
	NewStreamHandler(cache, nil).Register(router)

	req := httptest.NewRequest(http.MethodGet, "/stream?url=http%3A%2F%2Fexample.com%2Fnone.ts", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
