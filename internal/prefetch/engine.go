package prefetch

import (
	"context"
	"time"
)

// StreamType identifies the elementary stream category of a source.
type StreamType int

const (
	StreamTypeUnknown StreamType = iota
	StreamTypeVideo
	StreamTypeAudio
)

// String returns the lowercase name of the stream type.
func (t StreamType) String() string {
	switch t {
	case StreamTypeVideo:
		return "video"
	case StreamTypeAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// StreamDescriptor describes one elementary stream discovered at open time.
type StreamDescriptor struct {
	Index int
	Type  StreamType
	Codec string
}

// ReaderState is a snapshot of a resource's buffering progress.
type ReaderState struct {
	// ForwardBytes is the number of bytes buffered ahead of the current
	// read position.
	ForwardBytes int64
	// TotalBytes is the total number of bytes buffered.
	TotalBytes int64
	// EOFCached reports whether the source has been read to its end and
	// everything is buffered.
	EOFCached bool
	// BufferedDuration estimates how much playback time the buffered data
	// covers. Zero when no estimate is available.
	BufferedDuration time.Duration
}

// Engine opens remote media sources. It is the collaborator the cache
// drives; implementations live outside this package.
type Engine interface {
	// Open establishes the source for url, honoring ctx during the open
	// phase. The context covers only the open call itself; long-lived
	// readahead I/O must instead be tied to tok, whose trigger aborts
	// in-flight reads. Open is attempted exactly once per entry.
	Open(ctx context.Context, url string, opts Options, tok *Token) (Resource, error)
}

// Resource is an open, cancellable media source with queryable buffering
// state. A Resource is exclusively owned: by its entry's worker while
// attached to the cache, and by the consumer after a Take.
type Resource interface {
	// Streams returns the elementary streams discovered at open time.
	Streams() []StreamDescriptor

	// Select marks a stream for prefetching from the current position
	// (no seek target).
	Select(StreamDescriptor)

	// StartReadahead begins asynchronous background buffering.
	StartReadahead()

	// ReaderState returns a buffering snapshot. Implementations must make
	// this cheap and non-blocking: it is called under the cache table lock.
	ReaderState() ReaderState

	// TotalSize returns the total source size in bytes, or -1 when unknown.
	TotalSize() int64

	// Close releases all I/O resources. It must be safe to call after the
	// resource's token has triggered, and must be idempotent.
	Close() error
}
