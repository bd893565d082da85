// Package httpmedia implements the default prefetch engine: it opens media
// over HTTP(S), classifies the payload (HLS playlist, raw MPEG-TS, or
// opaque bytes), and buffers it through a bounded forward window. HLS
// sources are collapsed to a single segment-concatenated byte stream.
package httpmedia

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmylchreest/preroll/internal/httpclient"
	"github.com/jmylchreest/preroll/internal/prefetch"
	"github.com/jmylchreest/preroll/internal/urlutil"
)

// DefaultPlaylistTimeout bounds individual playlist fetches during open.
const DefaultPlaylistTimeout = 10 * time.Second

// Config configures the engine.
type Config struct {
	// Client performs all upstream requests. If nil, a streaming-tuned
	// default client is created.
	Client *httpclient.Client

	// Logger is the structured logger.
	Logger *slog.Logger

	// PlaylistTimeout bounds playlist fetches. Segment and media-body
	// reads are unbounded and rely on cancellation.
	PlaylistTimeout time.Duration
}

// Engine opens HTTP(S) media sources for the prefetch cache.
type Engine struct {
	client          *httpclient.Client
	logger          *slog.Logger
	playlistTimeout time.Duration
}

// New creates an Engine.
func New(cfg Config) *Engine {
	if cfg.Client == nil {
		cfg.Client = httpclient.New(httpclient.StreamingConfig())
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PlaylistTimeout <= 0 {
		cfg.PlaylistTimeout = DefaultPlaylistTimeout
	}
	return &Engine{
		client:          cfg.Client,
		logger:          cfg.Logger.With(slog.String("component", "httpmedia")),
		playlistTimeout: cfg.PlaylistTimeout,
	}
}

// readCloser pairs a buffered reader with the closer that owns the
// underlying connection.
type readCloser struct {
	io.Reader
	io.Closer
}

// Open connects to the URL, classifies the payload, and returns a resource
// ready for StartReadahead. The context covers only this open phase; once
// Open returns, ongoing I/O is bound to the token.
func (e *Engine) Open(ctx context.Context, rawURL string, opts prefetch.Options, tok *prefetch.Token) (prefetch.Resource, error) {
	if err := urlutil.Validate(rawURL); err != nil {
		return nil, fmt.Errorf("validating url: %w", err)
	}

	resp, err := e.client.Get(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("opening source: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		return nil, fmt.Errorf("source status: %d", resp.StatusCode)
	}

	win := newWindow(opts.MaxBytes, opts.ReadaheadSecs)
	br := bufio.NewReaderSize(resp.Body, probeWindowSize)
	kind := classify(br)

	e.logger.Debug("classified source",
		slog.String("url", urlutil.Obfuscate(rawURL)),
		slog.String("kind", kind.String()),
	)

	switch kind {
	case kindHLS:
		defer resp.Body.Close()
		return e.openHLS(ctx, rawURL, br, win, tok)

	case kindMPEGTS:
		head, _ := br.Peek(probeWindowSize)
		streams := probeTSTracks(head)
		if streams == nil {
			streams = opaqueStreams()
		}
		if resp.ContentLength > 0 {
			win.SetTotal(resp.ContentLength)
		}
		src := readCloser{Reader: br, Closer: resp.Body}
		return newResource(e.logger, rawURL, kind, streams, win, src, tok), nil

	default:
		if resp.ContentLength > 0 {
			win.SetTotal(resp.ContentLength)
		}
		src := readCloser{Reader: br, Closer: resp.Body}
		return newResource(e.logger, rawURL, kind, opaqueStreams(), win, src, tok), nil
	}
}

// openHLS collapses a playlist into a segment-concatenated source. The first
// segment's head is probed for elementary stream descriptors.
func (e *Engine) openHLS(ctx context.Context, rawURL string, playlistBody io.Reader, win *window, tok *prefetch.Token) (prefetch.Resource, error) {
	data, err := io.ReadAll(io.LimitReader(playlistBody, maxPlaylistBytes))
	if err != nil {
		return nil, fmt.Errorf("reading playlist: %w", err)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, e.playlistTimeout)
	defer cancel()
	media, mediaURL, err := collapseToMedia(fetchCtx, e.client, e.logger, rawURL, data)
	if err != nil {
		return nil, err
	}
	if len(media.Segments) == 0 {
		return nil, fmt.Errorf("media playlist has no segments")
	}

	seq := newSegmentSequencer(e.client, e.logger, mediaURL, media)
	seq.onSegment = win.AddDuration

	// The peek triggers the first segment fetch; cancellation during this
	// phase flows through the sequencer's token-independent context only
	// via Close, so watch the token explicitly.
	stopWatch := make(chan struct{})
	go func() {
		select {
		case <-tok.Done():
			seq.Close()
		case <-ctx.Done():
			seq.Close()
		case <-stopWatch:
		}
	}()

	sbr := bufio.NewReaderSize(seq, probeWindowSize)
	head, peekErr := sbr.Peek(probeWindowSize)
	close(stopWatch)
	if len(head) == 0 && peekErr != nil && peekErr != io.EOF {
		seq.Close()
		return nil, fmt.Errorf("opening first segment: %w", peekErr)
	}

	streams := probeTSTracks(head)
	if streams == nil {
		streams = opaqueStreams()
	}

	src := readCloser{Reader: sbr, Closer: seq}
	return newResource(e.logger, rawURL, kindHLS, streams, win, src, tok), nil
}

var _ prefetch.Engine = (*Engine)(nil)
