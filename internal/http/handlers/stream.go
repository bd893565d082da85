package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/jmylchreest/preroll/internal/prefetch"
	"github.com/jmylchreest/preroll/internal/urlutil"
)

// StreamHandler serves buffered media out of the cache. It is a raw chi
// handler rather than a huma operation: the response is an unbounded byte
// stream, not a JSON document.
type StreamHandler struct {
	cache  *prefetch.Cache
	logger *slog.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(cache *prefetch.Cache, logger *slog.Logger) *StreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{cache: cache, logger: logger}
}

// Register registers the stream route with the router.
func (h *StreamHandler) Register(r chi.Router) {
	r.Get("/stream", h.ServeStream)
}

// ServeStream takes ownership of a cache entry and streams its bytes to the
// client. The buffered head is served immediately; the download continues
// feeding the remainder. The entry leaves the cache as soon as the handoff
// succeeds.
func (h *StreamHandler) ServeStream(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		http.Error(w, "missing url parameter", http.StatusBadRequest)
		return
	}

	res, err := h.cache.Take(url)
	if err != nil {
		if errors.Is(err, prefetch.ErrNotFound) {
			http.Error(w, "no usable prefetch entry for url", http.StatusNotFound)
			return
		}
		http.Error(w, "taking entry", http.StatusInternalServerError)
		return
	}
	defer res.Close()

	reader, ok := res.(io.Reader)
	if !ok {
		h.logger.Error("resource does not expose a byte stream",
			slog.String("url", urlutil.Obfuscate(url)),
		)
		http.Error(w, "entry is not streamable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	if total := res.TotalSize(); total > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(total, 10))
	}
	w.WriteHeader(http.StatusOK)

	n, err := io.Copy(&flushWriter{w: w}, reader)
	if err != nil {
		// Client disconnects land here; log and move on.
		h.logger.Debug("stream ended",
			slog.String("url", urlutil.Obfuscate(url)),
			slog.Int64("bytes", n),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("stream completed",
		slog.String("url", urlutil.Obfuscate(url)),
		slog.Int64("bytes", n),
	)
}

// flushWriter flushes after every write so buffered media reaches the client
// without waiting for the response buffer to fill.
type flushWriter struct {
	w http.ResponseWriter
}

func (fw *flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if f, ok := fw.w.(http.Flusher); ok {
		f.Flush()
	}
	return n, err
}
