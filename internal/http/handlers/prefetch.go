// Package handlers provides HTTP API handlers for preroll.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/preroll/internal/prefetch"
)

// PrefetchHandler handles prefetch cache endpoints.
type PrefetchHandler struct {
	cache  *prefetch.Cache
	logger *slog.Logger
}

// NewPrefetchHandler creates a new prefetch handler.
func NewPrefetchHandler(cache *prefetch.Cache, logger *slog.Logger) *PrefetchHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PrefetchHandler{cache: cache, logger: logger}
}

// PrefetchEntry is one cache entry with its URL key.
type PrefetchEntry struct {
	URL string `json:"url" doc:"Media URL"`
	prefetch.Info
}

// StartPrefetchInput is the input for starting a prefetch.
type StartPrefetchInput struct {
	Body struct {
		URL              string  `json:"url" minLength:"1" doc:"Media URL to prefetch"`
		MaxBytes         int64   `json:"max_bytes,omitempty" minimum:"0" doc:"Forward buffer target in bytes (0 uses the server default)"`
		ReadaheadSeconds float64 `json:"readahead_seconds,omitempty" minimum:"0" doc:"Duration-based readahead limit in seconds (0 uses the server default)"`
	}
}

// StartPrefetchOutput is the output for starting a prefetch.
type StartPrefetchOutput struct {
	Body PrefetchEntry
}

// ListPrefetchOutput is the output for listing cache entries.
type ListPrefetchOutput struct {
	Body struct {
		Entries []PrefetchEntry `json:"entries"`
		Count   int             `json:"count"`
	}
}

// StatusInput identifies a cache entry by URL.
type StatusInput struct {
	URL string `query:"url" required:"true" doc:"Media URL of the cache entry"`
}

// StatusOutput is the output for a single entry status.
type StatusOutput struct {
	Body PrefetchEntry
}

// Register registers the prefetch routes with the API.
func (h *PrefetchHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "startPrefetch",
		Method:        "POST",
		Path:          "/api/v1/prefetch",
		Summary:       "Start prefetching a URL",
		Description:   "Begins buffering the URL in the background. Starting an already-tracked URL is a no-op. When the cache is full the oldest entry is evicted.",
		Tags:          []string{"Prefetch"},
		DefaultStatus: 202,
	}, h.StartPrefetch)

	huma.Register(api, huma.Operation{
		OperationID: "listPrefetch",
		Method:      "GET",
		Path:        "/api/v1/prefetch",
		Summary:     "List cache entries",
		Tags:        []string{"Prefetch"},
	}, h.ListPrefetch)

	huma.Register(api, huma.Operation{
		OperationID: "getPrefetchStatus",
		Method:      "GET",
		Path:        "/api/v1/prefetch/status",
		Summary:     "Get entry status",
		Tags:        []string{"Prefetch"},
	}, h.GetStatus)

	huma.Register(api, huma.Operation{
		OperationID:   "cancelPrefetch",
		Method:        "DELETE",
		Path:          "/api/v1/prefetch",
		Summary:       "Cancel a cache entry",
		Description:   "Aborts the download and discards buffered data for the URL.",
		Tags:          []string{"Prefetch"},
		DefaultStatus: 204,
	}, h.CancelPrefetch)

	huma.Register(api, huma.Operation{
		OperationID:   "clearPrefetch",
		Method:        "DELETE",
		Path:          "/api/v1/prefetch/all",
		Summary:       "Clear the cache",
		Description:   "Aborts and discards every cache entry.",
		Tags:          []string{"Prefetch"},
		DefaultStatus: 204,
	}, h.ClearPrefetch)
}

// StartPrefetch begins prefetching a URL.
func (h *PrefetchHandler) StartPrefetch(ctx context.Context, input *StartPrefetchInput) (*StartPrefetchOutput, error) {
	opts := prefetch.Options{
		MaxBytes:      input.Body.MaxBytes,
		ReadaheadSecs: input.Body.ReadaheadSeconds,
	}
	if err := h.cache.Start(input.Body.URL, opts); err != nil {
		if errors.Is(err, prefetch.ErrInvalidURL) {
			return nil, huma.Error400BadRequest("invalid url")
		}
		return nil, huma.Error500InternalServerError("starting prefetch", err)
	}

	entry := PrefetchEntry{URL: input.Body.URL}
	if info, err := h.cache.Info(input.Body.URL); err == nil {
		entry.Info = info
	}
	return &StartPrefetchOutput{Body: entry}, nil
}

// ListPrefetch returns every cache entry.
func (h *PrefetchHandler) ListPrefetch(ctx context.Context, _ *struct{}) (*ListPrefetchOutput, error) {
	entries := h.cache.Entries()

	out := &ListPrefetchOutput{}
	out.Body.Entries = make([]PrefetchEntry, 0, len(entries))
	for url, info := range entries {
		out.Body.Entries = append(out.Body.Entries, PrefetchEntry{URL: url, Info: info})
	}
	sort.Slice(out.Body.Entries, func(i, j int) bool {
		return out.Body.Entries[i].URL < out.Body.Entries[j].URL
	})
	out.Body.Count = len(out.Body.Entries)
	return out, nil
}

// GetStatus returns the state of one cache entry.
func (h *PrefetchHandler) GetStatus(ctx context.Context, input *StatusInput) (*StatusOutput, error) {
	info, err := h.cache.Info(input.URL)
	if err != nil {
		if errors.Is(err, prefetch.ErrNotFound) {
			return nil, huma.Error404NotFound("no prefetch entry for url")
		}
		return nil, huma.Error500InternalServerError("reading entry status", err)
	}
	return &StatusOutput{Body: PrefetchEntry{URL: input.URL, Info: info}}, nil
}

// CancelPrefetch aborts and removes one cache entry.
func (h *PrefetchHandler) CancelPrefetch(ctx context.Context, input *StatusInput) (*struct{}, error) {
	if err := h.cache.Cancel(input.URL); err != nil {
		if errors.Is(err, prefetch.ErrNotFound) {
			return nil, huma.Error404NotFound("no prefetch entry for url")
		}
		return nil, huma.Error500InternalServerError("canceling entry", err)
	}
	return nil, nil
}

// ClearPrefetch aborts every cache entry.
func (h *PrefetchHandler) ClearPrefetch(ctx context.Context, _ *struct{}) (*struct{}, error) {
	h.cache.ClearAll()
	return nil, nil
}
