package httpmedia

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/jmylchreest/preroll/internal/prefetch"
)

// sourceKind classifies the payload behind a URL.
type sourceKind int

const (
	kindOpaque sourceKind = iota
	kindMPEGTS
	kindHLS
)

func (k sourceKind) String() string {
	switch k {
	case kindMPEGTS:
		return "mpegts"
	case kindHLS:
		return "hls"
	default:
		return "opaque"
	}
}

const (
	tsPacketSize = 188
	tsSyncByte   = 0x47

	// probeWindowSize bounds how many leading bytes are inspected for
	// classification and track enumeration. Large enough for a PAT/PMT
	// pair plus a few packets of payload.
	probeWindowSize = 64 * 1024
)

// classify inspects the head of a stream without consuming it.
func classify(br *bufio.Reader) sourceKind {
	head, _ := br.Peek(tsPacketSize*2 + 1)
	if len(head) == 0 {
		return kindOpaque
	}

	if isHLSPlaylist(head) {
		return kindHLS
	}
	if len(head) > tsPacketSize &&
		head[0] == tsSyncByte && head[tsPacketSize] == tsSyncByte {
		return kindMPEGTS
	}
	return kindOpaque
}

// isHLSPlaylist reports whether data starts with the M3U8 magic, tolerating
// a UTF-8 BOM and leading whitespace.
func isHLSPlaylist(data []byte) bool {
	s := strings.TrimLeft(string(bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})), " \t\r\n")
	return strings.HasPrefix(s, "#EXTM3U")
}

// probeTSTracks enumerates elementary streams from a peeked MPEG-TS window.
// The window is a copy, so the underlying reader position is untouched.
// Returns nil if no PAT/PMT is found within the window.
func probeTSTracks(window []byte) []prefetch.StreamDescriptor {
	reader := &mpegts.Reader{R: bytes.NewReader(window)}
	if err := reader.Initialize(); err != nil {
		return nil
	}

	var streams []prefetch.StreamDescriptor
	for i, track := range reader.Tracks() {
		sd := prefetch.StreamDescriptor{Index: i}
		switch track.Codec.(type) {
		case *mpegts.CodecH264:
			sd.Type = prefetch.StreamTypeVideo
			sd.Codec = "h264"
		case *mpegts.CodecH265:
			sd.Type = prefetch.StreamTypeVideo
			sd.Codec = "h265"
		case *mpegts.CodecMPEG1Video:
			sd.Type = prefetch.StreamTypeVideo
			sd.Codec = "mpeg1video"
		case *mpegts.CodecMPEG4Video:
			sd.Type = prefetch.StreamTypeVideo
			sd.Codec = "mpeg4video"
		case *mpegts.CodecMPEG4Audio:
			sd.Type = prefetch.StreamTypeAudio
			sd.Codec = "aac"
		case *mpegts.CodecMPEG1Audio:
			sd.Type = prefetch.StreamTypeAudio
			sd.Codec = "mp3"
		case *mpegts.CodecAC3:
			sd.Type = prefetch.StreamTypeAudio
			sd.Codec = "ac3"
		case *mpegts.CodecOpus:
			sd.Type = prefetch.StreamTypeAudio
			sd.Codec = "opus"
		default:
			sd.Type = prefetch.StreamTypeUnknown
			sd.Codec = "unknown"
		}
		streams = append(streams, sd)
	}
	return streams
}

// opaqueStreams is the descriptor set for payloads whose container is not
// recognized: a single unclassified stream carrying the whole mux.
func opaqueStreams() []prefetch.StreamDescriptor {
	return []prefetch.StreamDescriptor{
		{Index: 0, Type: prefetch.StreamTypeUnknown, Codec: "unknown"},
	}
}
