package httpmedia

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"

	"github.com/jmylchreest/preroll/internal/httpclient"
	"github.com/jmylchreest/preroll/internal/urlutil"
)

const maxPlaylistBytes = 256 * 1024

// fetchPlaylist downloads a playlist with a size cap.
func fetchPlaylist(ctx context.Context, client *httpclient.Client, playlistURL string) ([]byte, error) {
	resp, err := client.Get(ctx, playlistURL)
	if err != nil {
		return nil, fmt.Errorf("fetching playlist: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("playlist fetch status: %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxPlaylistBytes))
}

// collapseToMedia resolves already-fetched playlist bytes to a media
// playlist. Multivariant playlists are collapsed to their highest-bandwidth
// variant, which requires one more fetch.
func collapseToMedia(ctx context.Context, client *httpclient.Client, logger *slog.Logger, playlistURL string, data []byte) (*playlist.Media, string, error) {
	pl, err := playlist.Unmarshal(data)
	if err != nil {
		return nil, "", fmt.Errorf("parsing playlist: %w", err)
	}

	switch p := pl.(type) {
	case *playlist.Media:
		return p, playlistURL, nil

	case *playlist.Multivariant:
		if len(p.Variants) == 0 {
			return nil, "", fmt.Errorf("multivariant playlist has no variants")
		}
		variants := make([]*playlist.MultivariantVariant, len(p.Variants))
		copy(variants, p.Variants)
		sort.Slice(variants, func(i, j int) bool {
			return variants[i].Bandwidth > variants[j].Bandwidth
		})
		variantURL := absolutizeURL(playlistURL, variants[0].URI)
		logger.Debug("following variant playlist",
			slog.String("url", urlutil.Obfuscate(variantURL)),
			slog.Int("bandwidth", variants[0].Bandwidth),
		)

		variantData, err := fetchPlaylist(ctx, client, variantURL)
		if err != nil {
			return nil, "", err
		}
		variantPL, err := playlist.Unmarshal(variantData)
		if err != nil {
			return nil, "", fmt.Errorf("parsing variant playlist: %w", err)
		}
		media, ok := variantPL.(*playlist.Media)
		if !ok {
			return nil, "", fmt.Errorf("variant is not a media playlist")
		}
		return media, variantURL, nil

	default:
		return nil, "", fmt.Errorf("unsupported playlist type %T", pl)
	}
}

// absolutizeURL converts a relative URL to absolute based on the playlist URL.
func absolutizeURL(playlistURL, segmentURL string) string {
	if strings.HasPrefix(segmentURL, "http://") || strings.HasPrefix(segmentURL, "https://") {
		return segmentURL
	}

	base, err := url.Parse(playlistURL)
	if err != nil {
		if idx := strings.LastIndex(playlistURL, "/"); idx >= 0 {
			return playlistURL[:idx+1] + segmentURL
		}
		return segmentURL
	}

	ref, err := url.Parse(segmentURL)
	if err != nil {
		return segmentURL
	}
	return base.ResolveReference(ref).String()
}

type segmentRef struct {
	url      string
	duration float64
	sequence uint64
}

// segmentSequencer exposes an HLS media playlist as one continuous byte
// stream: segments are fetched in order and concatenated, and for live
// playlists the sequencer re-polls the playlist as it drains. Segments are
// deduplicated by media sequence number.
type segmentSequencer struct {
	client *httpclient.Client
	logger *slog.Logger

	playlistURL string
	ctx         context.Context
	cancel      context.CancelFunc

	// onSegment reports each fetched segment's duration, for readahead
	// duration accounting.
	onSegment func(seconds float64)

	mu             sync.Mutex
	queue          []segmentRef
	nextSeq        uint64
	haveSeq        bool
	live           bool
	targetDuration time.Duration
	lastRefresh    time.Time

	cur    io.ReadCloser
	curDur float64
	closed bool
}

func newSegmentSequencer(client *httpclient.Client, logger *slog.Logger, playlistURL string, media *playlist.Media) *segmentSequencer {
	ctx, cancel := context.WithCancel(context.Background())
	s := &segmentSequencer{
		client:      client,
		logger:      logger,
		playlistURL: playlistURL,
		ctx:         ctx,
		cancel:      cancel,
	}
	s.ingest(media)
	return s
}

// ingest merges a parsed media playlist into the pending queue, skipping
// sequence numbers already seen.
func (s *segmentSequencer) ingest(media *playlist.Media) {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := uint64(media.MediaSequence)
	for i, seg := range media.Segments {
		if seg == nil {
			continue
		}
		seq := base + uint64(i)
		if s.haveSeq && seq < s.nextSeq {
			continue
		}
		s.queue = append(s.queue, segmentRef{
			url:      absolutizeURL(s.playlistURL, seg.URI),
			duration: seg.Duration.Seconds(),
			sequence: seq,
		})
		s.nextSeq = seq + 1
		s.haveSeq = true
	}
	s.live = !media.Endlist
	s.targetDuration = time.Duration(media.TargetDuration) * time.Second
	s.lastRefresh = time.Now()

	s.logger.Debug("ingested media playlist",
		slog.Int("pending", len(s.queue)),
		slog.Bool("live", s.live),
	)
}

// refresh re-fetches the media playlist. Live playlists are conventionally
// polled no faster than half the target duration.
func (s *segmentSequencer) refresh() error {
	s.mu.Lock()
	wait := s.targetDuration / 2
	if wait <= 0 {
		wait = time.Second
	}
	elapsed := time.Since(s.lastRefresh)
	s.mu.Unlock()

	if elapsed < wait {
		t := time.NewTimer(wait - elapsed)
		defer t.Stop()
		select {
		case <-s.ctx.Done():
			return s.ctx.Err()
		case <-t.C:
		}
	}

	data, err := fetchPlaylist(s.ctx, s.client, s.playlistURL)
	if err != nil {
		return err
	}
	pl, err := playlist.Unmarshal(data)
	if err != nil {
		return fmt.Errorf("parsing playlist: %w", err)
	}
	media, ok := pl.(*playlist.Media)
	if !ok {
		return fmt.Errorf("refreshed playlist is not a media playlist")
	}
	s.ingest(media)
	return nil
}

// openNext pops the next pending segment and opens its body.
func (s *segmentSequencer) openNext() error {
	s.mu.Lock()
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return io.EOF
	}
	seg := s.queue[0]
	s.queue = s.queue[1:]
	s.mu.Unlock()

	resp, err := s.client.Get(s.ctx, seg.url)
	if err != nil {
		return fmt.Errorf("fetching segment %s: %w", urlutil.Obfuscate(seg.url), err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("segment fetch status: %d", resp.StatusCode)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		resp.Body.Close()
		return ErrWindowClosed
	}
	s.cur = resp.Body
	s.curDur = seg.duration
	s.mu.Unlock()
	return nil
}

// Read returns bytes from the current segment, advancing across segment
// boundaries transparently. io.EOF is returned only once a VOD playlist is
// fully drained.
func (s *segmentSequencer) Read(p []byte) (int, error) {
	for {
		s.mu.Lock()
		cur := s.cur
		s.mu.Unlock()

		if cur != nil {
			n, err := cur.Read(p)
			if err == nil || n > 0 {
				if err == io.EOF {
					s.finishSegment()
				}
				return n, nil
			}
			if err == io.EOF {
				s.finishSegment()
				continue
			}
			return 0, err
		}

		if err := s.ctx.Err(); err != nil {
			return 0, err
		}

		if err := s.openNext(); err == nil {
			continue
		} else if err != io.EOF {
			return 0, err
		}

		// Queue empty: done for VOD, re-poll for live.
		s.mu.Lock()
		live := s.live
		s.mu.Unlock()
		if !live {
			return 0, io.EOF
		}
		if err := s.refresh(); err != nil {
			return 0, err
		}
	}
}

// finishSegment closes the drained segment body and credits its duration.
func (s *segmentSequencer) finishSegment() {
	s.mu.Lock()
	cur := s.cur
	dur := s.curDur
	s.cur = nil
	s.curDur = 0
	s.mu.Unlock()

	if cur != nil {
		cur.Close()
	}
	if dur > 0 && s.onSegment != nil {
		s.onSegment(dur)
	}
}

// Close aborts in-flight fetches and releases the current segment body.
func (s *segmentSequencer) Close() error {
	s.cancel()

	s.mu.Lock()
	cur := s.cur
	s.cur = nil
	s.closed = true
	s.mu.Unlock()

	if cur != nil {
		cur.Close()
	}
	return nil
}
