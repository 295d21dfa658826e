package ingest

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
	pion "github.com/pion/webrtc/v4"

	"github.com/smazurov/screenscribe/internal/events"
	"github.com/smazurov/screenscribe/internal/frames"
)

type recordingSink struct {
	mu     sync.Mutex
	frames []frames.Frame
}

func (s *recordingSink) Receive(f frames.Frame) {
	s.mu.Lock()
	s.frames = append(s.frames, f)
	s.mu.Unlock()
}

func (s *recordingSink) all() []frames.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]frames.Frame(nil), s.frames...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFrameSplitter(t *testing.T) {
	sink := &recordingSink{}
	s := newFrameSplitter(2, 1, sink)
	at := time.Unix(100, 0)
	s.now = func() time.Time { return at }

	if _, err := s.Write([]byte{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	if got := len(sink.all()); got != 0 {
		t.Fatalf("partial frame emitted: %d frames", got)
	}
	if _, err := s.Write([]byte{5, 6, 7, 8, 9, 10, 11, 12}); err != nil {
		t.Fatal(err)
	}

	got := sink.all()
	if len(got) != 2 {
		t.Fatalf("got %d frames, want 2", len(got))
	}
	if !bytes.Equal(got[0].Pix, []byte{1, 2, 3, 4, 5, 6}) || !bytes.Equal(got[1].Pix, []byte{7, 8, 9, 10, 11, 12}) {
		t.Errorf("unexpected pixels %v %v", got[0].Pix, got[1].Pix)
	}
	if got[0].Seq != 1 || got[1].Seq != 2 || !got[1].Timestamp.Equal(at) {
		t.Errorf("unexpected frame metadata %+v", got[1])
	}
}

func TestFrameSplitterReset(t *testing.T) {
	sink := &recordingSink{}
	s := newFrameSplitter(1, 1, sink)

	_, _ = s.Write([]byte{9, 9})
	s.reset()
	_, _ = s.Write([]byte{1, 2, 3})

	got := sink.all()
	if len(got) != 1 || !bytes.Equal(got[0].Pix, []byte{1, 2, 3}) {
		t.Fatalf("reset should drop the partial frame, got %+v", got)
	}
}

func TestInputFormat(t *testing.T) {
	tests := []struct {
		mime    string
		want    string
		wantErr bool
	}{
		{mime: pion.MimeTypeVP8, want: "ivf"},
		{mime: "video/vp9", want: "ivf"},
		{mime: pion.MimeTypeAV1, want: "ivf"},
		{mime: pion.MimeTypeH264, want: "h264"},
		{mime: pion.MimeTypeH265, wantErr: true},
		{mime: pion.MimeTypeOpus, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.mime, func(t *testing.T) {
			got, err := inputFormat(tt.mime)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for %s", tt.mime)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("inputFormat(%s) = %q, %v; want %q", tt.mime, got, err, tt.want)
			}
		})
	}
}

func TestContainerWriterHeader(t *testing.T) {
	var buf bytes.Buffer
	if _, err := newContainerWriter("video/vp8", &buf); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(buf.String(), "DKIF") || buf.Len() != 32 {
		t.Errorf("expected a 32 byte IVF header, got %q", buf.String())
	}

	buf.Reset()
	if _, err := newContainerWriter(pion.MimeTypeH264, &buf); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Errorf("annex-b stream has no header, got %d bytes", buf.Len())
	}
}

func TestPeerWritesHeaderOnFirstPacket(t *testing.T) {
	p := &peer{codec: pion.MimeTypeVP8}

	pkt := &rtp.Packet{Header: rtp.Header{Version: 2, PayloadType: 96}, Payload: []byte{0x10, 0x00}}
	if err := p.writeRTP(pkt); !errors.Is(err, errDecoderNotReady) {
		t.Fatalf("write before a decoder start: %v", err)
	}

	pr, pw := io.Pipe()
	p.swapPipe(pw)

	header := make(chan []byte, 1)
	go func() {
		b := make([]byte, 32)
		_, _ = io.ReadFull(pr, b)
		header <- b
	}()
	_ = p.writeRTP(pkt)

	select {
	case b := <-header:
		if string(b[:4]) != "DKIF" {
			t.Errorf("header = %q", b[:4])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("header was not written")
	}

	p.swapPipe(nil)
	if _, err := pr.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Errorf("old pipe should be closed, read err = %v", err)
	}
}

func TestPionICEServers(t *testing.T) {
	cfg := Config{
		ICEServers:   []string{"stun:stun.example.com:3478", " ", "turn:turn.example.com:3478"},
		TURNUsername: "user",
		TURNPassword: "pass",
	}

	servers := cfg.PionICEServers()
	if len(servers) != 2 {
		t.Fatalf("got %d servers, want 2", len(servers))
	}
	if servers[0].Username != "" {
		t.Error("STUN server should not carry credentials")
	}
	if servers[1].Username != "user" || servers[1].Credential != "pass" {
		t.Errorf("TURN credentials not applied: %+v", servers[1])
	}
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.setDefaults()

	if cfg.Width != 1280 || cfg.Height != 720 || cfg.FPS != 5 {
		t.Errorf("unexpected geometry %dx%d@%d", cfg.Width, cfg.Height, cfg.FPS)
	}
	if len(cfg.ICEServers) != len(DefaultICEServers) {
		t.Errorf("expected default ICE servers, got %v", cfg.ICEServers)
	}
	if cfg.FFmpegPath != "ffmpeg" || len(cfg.DecodeOptions) == 0 {
		t.Errorf("unexpected decoder defaults %+v", cfg)
	}
}

func TestDecodeCommand(t *testing.T) {
	r := NewReceiver(Config{ICEServers: []string{}, Width: 640, Height: 360, FPS: 2}, nil, testLogger())
	defer r.Stop()

	if _, err := r.decodeCommand("missing"); err == nil {
		t.Fatal("expected error for unknown session")
	}

	r.peers["s1"] = &peer{id: "s1", codec: pion.MimeTypeH264}
	defer delete(r.peers, "s1")
	cmd, err := r.decodeCommand("s1")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"-f h264", "fps=2", "scale=640:360", "-pix_fmt rgb24", "pipe:1"} {
		if !strings.Contains(cmd, want) {
			t.Errorf("command %q missing %q", cmd, want)
		}
	}
}

func newOfferer(t *testing.T) *pion.PeerConnection {
	t.Helper()
	pc, err := pion.NewPeerConnection(pion.Configuration{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = pc.Close() })

	track, err := pion.NewTrackLocalStaticSample(pion.RTPCodecCapability{MimeType: pion.MimeTypeVP8}, "screen", "screenscribe")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := pc.AddTrack(track); err != nil {
		t.Fatal(err)
	}
	return pc
}

func TestAcceptAnswersOffer(t *testing.T) {
	bus := events.New()
	r := NewReceiver(Config{ICEServers: []string{}}, bus, testLogger())
	defer r.Stop()

	pc := newOfferer(t)
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		t.Fatal(err)
	}
	gathered := pion.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		t.Fatal(err)
	}
	<-gathered

	answer, err := r.Accept("s1", &recordingSink{}, pc.LocalDescription().SDP)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if !strings.Contains(answer, "a=recvonly") || !strings.Contains(answer, "VP8") {
		t.Errorf("answer should receive VP8:\n%s", answer)
	}
	if err := pc.SetRemoteDescription(pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: answer}); err != nil {
		t.Fatalf("offerer rejected answer: %v", err)
	}
	if !r.Active("s1") {
		t.Error("session should have an active publisher")
	}

	r.Close("s1")
	if r.Active("s1") {
		t.Error("publisher should be gone after Close")
	}
}

func TestAcceptRejectsGarbage(t *testing.T) {
	r := NewReceiver(Config{ICEServers: []string{}}, nil, testLogger())
	defer r.Stop()

	if _, err := r.Accept("s1", &recordingSink{}, "not sdp"); err == nil {
		t.Fatal("expected error for invalid offer")
	}
	if r.Active("s1") {
		t.Error("failed offer must not leave a publisher behind")
	}
}
