package ingest

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	pion "github.com/pion/webrtc/v4"

	"github.com/smazurov/screenscribe/internal/events"
	"github.com/smazurov/screenscribe/internal/ffmpeg"
	"github.com/smazurov/screenscribe/internal/process"
)

// ErrNoPeer is returned for sessions without an active publisher.
var ErrNoPeer = errors.New("no active publisher")

var errDecoderNotReady = errors.New("decoder not ready")

// Receiver accepts one WebRTC publisher per session.
type Receiver struct {
	cfg     Config
	bus     *events.Bus
	logger  *slog.Logger
	decoder process.Pool

	mu    sync.RWMutex
	peers map[string]*peer
}

// NewReceiver creates a receiver. bus may be nil.
func NewReceiver(cfg Config, bus *events.Bus, logger *slog.Logger) *Receiver {
	cfg.setDefaults()
	r := &Receiver{
		cfg:    cfg,
		bus:    bus,
		logger: logger,
		peers:  make(map[string]*peer),
	}
	r.decoder = process.NewPool(&process.PoolOptions{
		CommandProvider:  r.decodeCommand,
		ConfigureProcess: r.configureDecoder,
		OnStateChange: func(id string, from, to process.State, err error) {
			logger.Debug("Decoder state changed", "session", id, "from", from, "to", to, "error", err)
		},
		MaxRestarts:  cfg.MaxRestarts,
		RestartDelay: cfg.RestartDelay,
		Logger:       logger,
	})
	return r
}

// Config returns the effective configuration.
func (r *Receiver) Config() Config { return r.cfg }

// Accept answers a publisher's SDP offer for sessionID. Decoded frames go
// to sink. An existing publisher for the session is replaced.
func (r *Receiver) Accept(sessionID string, sink FrameSink, offer string) (string, error) {
	r.Close(sessionID)

	api, err := NewAPI(sessionID)
	if err != nil {
		return "", err
	}
	pc, err := api.NewPeerConnection(pion.Configuration{ICEServers: r.cfg.PionICEServers()})
	if err != nil {
		return "", err
	}

	p := &peer{
		id:       sessionID,
		pc:       pc,
		splitter: newFrameSplitter(r.cfg.Width, r.cfg.Height, sink),
		logger:   r.logger.With("session", sessionID),
		done:     make(chan struct{}),
	}

	r.mu.Lock()
	r.peers[sessionID] = p
	r.mu.Unlock()
	fail := func(err error) (string, error) {
		r.remove(p)
		return "", err
	}

	if _, err := pc.AddTransceiverFromKind(pion.RTPCodecTypeVideo, pion.RTPTransceiverInit{
		Direction: pion.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return fail(err)
	}

	pc.OnTrack(func(track *pion.TrackRemote, _ *pion.RTPReceiver) {
		if track.Kind() != pion.RTPCodecTypeVideo {
			return
		}
		go r.consume(p, track)
	})
	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		p.logger.Debug("Peer state changed", "state", state.String())
		r.publishState(sessionID, state.String(), p.codecName())
		switch state {
		case pion.PeerConnectionStateConnected:
			activePeers.Inc()
			p.markConnected()
		case pion.PeerConnectionStateFailed, pion.PeerConnectionStateClosed, pion.PeerConnectionStateDisconnected:
			r.remove(p)
		}
	})

	if err := pc.SetRemoteDescription(pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: offer}); err != nil {
		return fail(fmt.Errorf("set offer: %w", err))
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fail(fmt.Errorf("create answer: %w", err))
	}
	gathered := pion.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return fail(fmt.Errorf("set answer: %w", err))
	}
	<-gathered

	r.logger.Info("Publisher accepted", "session", sessionID)
	return pc.LocalDescription().SDP, nil
}

// consume pumps RTP from track into the decoder until the track ends.
func (r *Receiver) consume(p *peer, track *pion.TrackRemote) {
	codec := track.Codec().MimeType
	if _, err := inputFormat(codec); err != nil {
		p.logger.Error("Cannot decode track", "codec", codec, "error", err)
		return
	}
	p.setCodec(codec, uint32(track.SSRC()))
	r.publishState(p.id, "track", codec)
	p.logger.Info("Receiving video", "codec", codec)

	if err := r.decoder.Start(p.id); err != nil {
		p.logger.Error("Failed to start decoder", "error", err)
		return
	}
	go r.requestKeyframes(p)

	label := codec
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				p.logger.Debug("Track read ended", "error", err)
			}
			return
		}
		packetsReceived.WithLabelValues(label).Inc()
		bytesReceived.WithLabelValues(label).Add(float64(len(pkt.Payload)))

		if err := p.writeRTP(pkt); err != nil {
			p.logger.Debug("Dropping packet", "error", err)
		}
	}
}

func (r *Receiver) requestKeyframes(p *peer) {
	ticker := time.NewTicker(r.cfg.PLIInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.requestKeyframe()
		}
	}
}

func (r *Receiver) decodeCommand(id string) (string, error) {
	p, ok := r.peer(id)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoPeer, id)
	}
	format, err := inputFormat(p.codecName())
	if err != nil {
		return "", err
	}
	return ffmpeg.BuildDecodeCommand(&ffmpeg.DecodeParams{
		Binary:      r.cfg.FFmpegPath,
		InputFormat: format,
		Output:      ffmpeg.RawVideo{Width: r.cfg.Width, Height: r.cfg.Height, FPS: r.cfg.FPS},
		Options:     r.cfg.DecodeOptions,
	}), nil
}

// configureDecoder runs before every decoder start, including restarts. Each
// run gets a fresh stdin pipe; the container header is written on the first
// packet, once ffmpeg is reading.
func (r *Receiver) configureDecoder(id string, proc *process.Process) {
	p, ok := r.peer(id)
	if !ok {
		return
	}
	pr, pw := io.Pipe()
	p.swapPipe(pw)
	p.splitter.reset()

	proc.SetStdin(pr)
	proc.SetStdout(p.splitter)
	proc.SetLogParser(p.logger, ffmpeg.ParseLogLevel)
	p.requestKeyframe()
}

func (r *Receiver) peer(id string) (*peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[id]
	return p, ok
}

// Close disconnects the publisher for sessionID, if any.
func (r *Receiver) Close(sessionID string) {
	if p, ok := r.peer(sessionID); ok {
		r.remove(p)
	}
}

// Active reports whether sessionID has a publisher.
func (r *Receiver) Active(sessionID string) bool {
	_, ok := r.peer(sessionID)
	return ok
}

func (r *Receiver) remove(p *peer) {
	if !p.shutdown() {
		return
	}
	r.mu.Lock()
	if r.peers[p.id] == p {
		delete(r.peers, p.id)
	}
	r.mu.Unlock()

	_ = r.decoder.Stop(p.id)
	p.swapPipe(nil)
	_ = p.pc.Close()
	if p.wasConnected() {
		activePeers.Dec()
	}
	p.logger.Info("Publisher disconnected")
}

// Stop disconnects every publisher.
func (r *Receiver) Stop() {
	r.mu.RLock()
	peers := make([]*peer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}
	r.mu.RUnlock()

	for _, p := range peers {
		r.remove(p)
	}
	r.decoder.StopAll()
}

func (r *Receiver) publishState(sessionID, state, codec string) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(events.IngestStateChangedEvent{
		SessionID: sessionID,
		State:     state,
		Codec:     codec,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

type peer struct {
	id       string
	pc       *pion.PeerConnection
	splitter *frameSplitter
	logger   *slog.Logger
	done     chan struct{}

	mu        sync.Mutex
	codec     string
	ssrc      uint32
	pipe      *io.PipeWriter
	connected bool
	closed    bool

	writeMu sync.Mutex
	writer  rtpWriter
}

func (p *peer) setCodec(codec string, ssrc uint32) {
	p.mu.Lock()
	p.codec, p.ssrc = codec, ssrc
	p.mu.Unlock()
}

func (p *peer) codecName() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.codec
}

func (p *peer) markConnected() {
	p.mu.Lock()
	p.connected = true
	p.mu.Unlock()
}

func (p *peer) wasConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// shutdown marks the peer closed and reports whether this call did it.
func (p *peer) shutdown() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.closed = true
	close(p.done)
	return true
}

// swapPipe replaces the decoder input. Closing the old pipe unblocks a
// pending write and ends the previous decoder's stdin.
func (p *peer) swapPipe(pipe *io.PipeWriter) {
	p.mu.Lock()
	old := p.pipe
	p.pipe = pipe
	p.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	p.writeMu.Lock()
	w := p.writer
	p.writer = nil
	p.writeMu.Unlock()
	if w != nil {
		_ = w.Close()
	}
}

func (p *peer) writeRTP(pkt *rtp.Packet) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if p.writer == nil {
		p.mu.Lock()
		pipe, codec := p.pipe, p.codec
		p.mu.Unlock()
		if pipe == nil {
			return errDecoderNotReady
		}
		w, err := newContainerWriter(codec, pipe)
		if err != nil {
			return err
		}
		p.writer = w
	}
	return p.writer.WriteRTP(pkt)
}

func (p *peer) requestKeyframe() {
	p.mu.Lock()
	ssrc, closed := p.ssrc, p.closed
	p.mu.Unlock()
	if ssrc == 0 || closed {
		return
	}
	if err := p.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}}); err != nil {
		p.logger.Debug("PLI failed", "error", err)
		return
	}
	plisSent.Inc()
}
