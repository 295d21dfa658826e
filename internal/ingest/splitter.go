package ingest

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/pion/rtp"
	pion "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/h264writer"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"

	"github.com/smazurov/screenscribe/internal/frames"
)

// FrameSink consumes decoded frames.
type FrameSink interface {
	Receive(frames.Frame)
}

// frameSplitter cuts a raw rgb24 byte stream into fixed-size frames.
type frameSplitter struct {
	width  int
	height int
	sink   FrameSink
	now    func() time.Time

	mu  sync.Mutex
	buf []byte
	seq uint64
}

func newFrameSplitter(width, height int, sink FrameSink) *frameSplitter {
	return &frameSplitter{width: width, height: height, sink: sink, now: time.Now}
}

func (s *frameSplitter) Write(p []byte) (int, error) {
	size := s.width * s.height * 3

	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf = append(s.buf, p...)
	for len(s.buf) >= size {
		pix := make([]byte, size)
		copy(pix, s.buf[:size])
		s.buf = s.buf[size:]
		s.seq++

		f, err := frames.New(s.seq, s.now(), s.width, s.height, pix)
		if err != nil {
			return len(p), err
		}
		framesDecoded.Inc()
		s.sink.Receive(f)
	}
	if len(s.buf) == 0 {
		s.buf = nil
	}
	return len(p), nil
}

// reset drops a partial frame left by a decoder that exited mid-frame.
func (s *frameSplitter) reset() {
	s.mu.Lock()
	s.buf = nil
	s.mu.Unlock()
}

// rtpWriter is implemented by the pion media writers.
type rtpWriter interface {
	WriteRTP(*rtp.Packet) error
	Close() error
}

// canonicalMime returns pion's spelling of a supported video codec.
func canonicalMime(mime string) (string, bool) {
	for _, m := range []string{pion.MimeTypeVP8, pion.MimeTypeVP9, pion.MimeTypeAV1, pion.MimeTypeH264} {
		if strings.EqualFold(mime, m) {
			return m, true
		}
	}
	return "", false
}

// inputFormat maps a negotiated codec to the container ffmpeg reads.
func inputFormat(mime string) (string, error) {
	m, ok := canonicalMime(mime)
	if !ok {
		return "", fmt.Errorf("unsupported codec %q", mime)
	}
	if m == pion.MimeTypeH264 {
		return "h264", nil
	}
	return "ivf", nil
}

// newContainerWriter wraps RTP payloads of mime into a stream ffmpeg can
// demux. The IVF header is written immediately.
func newContainerWriter(mime string, w io.Writer) (rtpWriter, error) {
	m, ok := canonicalMime(mime)
	if !ok {
		return nil, fmt.Errorf("unsupported codec %q", mime)
	}
	if m == pion.MimeTypeH264 {
		return h264writer.NewWith(w), nil
	}
	return ivfwriter.NewWith(w, ivfwriter.WithCodec(m))
}
