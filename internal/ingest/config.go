// Package ingest receives a browser's screen share over WebRTC, decodes it
// with ffmpeg and feeds raw frames into a session.
package ingest

import (
	"strings"
	"time"

	pion "github.com/pion/webrtc/v4"

	"github.com/smazurov/screenscribe/internal/ffmpeg"
)

// DefaultICEServers are public STUN servers.
var DefaultICEServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun.cloudflare.com:3478",
}

// Config controls decoding and connectivity.
type Config struct {
	ICEServers []string
	// TURN credentials apply to every turn: URL.
	TURNUsername string
	TURNPassword string

	FFmpegPath    string
	Width         int
	Height        int
	FPS           int
	DecodeOptions []ffmpeg.OptionType

	// PLIInterval requests a keyframe this often so a restarted decoder
	// recovers quickly.
	PLIInterval  time.Duration
	MaxRestarts  int
	RestartDelay time.Duration
}

func (c *Config) setDefaults() {
	if c.ICEServers == nil {
		c.ICEServers = DefaultICEServers
	}
	if c.FFmpegPath == "" {
		c.FFmpegPath = "ffmpeg"
	}
	if c.Width <= 0 || c.Height <= 0 {
		c.Width, c.Height = 1280, 720
	}
	if c.FPS <= 0 {
		c.FPS = 5
	}
	if c.DecodeOptions == nil {
		c.DecodeOptions = ffmpeg.GetDefaultOptions()
	}
	if c.PLIInterval <= 0 {
		c.PLIInterval = 3 * time.Second
	}
	if c.MaxRestarts <= 0 {
		c.MaxRestarts = 3
	}
	if c.RestartDelay <= 0 {
		c.RestartDelay = 500 * time.Millisecond
	}
}

// PionICEServers converts the configured URLs for a peer connection.
func (c Config) PionICEServers() []pion.ICEServer {
	out := make([]pion.ICEServer, 0, len(c.ICEServers))
	for _, url := range c.ICEServers {
		url = strings.TrimSpace(url)
		if url == "" {
			continue
		}
		s := pion.ICEServer{URLs: []string{url}}
		if strings.HasPrefix(url, "turn:") || strings.HasPrefix(url, "turns:") {
			s.Username = c.TURNUsername
			s.Credential = c.TURNPassword
		}
		out = append(out, s)
	}
	return out
}
