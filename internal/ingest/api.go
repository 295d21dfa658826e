package ingest

import (
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	"github.com/pion/interceptor/pkg/report"
	"github.com/pion/rtcp"
	pion "github.com/pion/webrtc/v4"
)

// NewAPI builds a receive-only WebRTC API for the video codecs a browser
// screen share can offer and the decoder can consume.
func NewAPI(sessionID string) (*pion.API, error) {
	m := &pion.MediaEngine{}
	if err := registerCodecs(m); err != nil {
		return nil, err
	}

	i := &interceptor.Registry{}
	if err := configureInterceptors(m, i); err != nil {
		return nil, err
	}
	i.Add(&rtcpMonitorFactory{sessionID: sessionID})

	return pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(i),
	), nil
}

func registerCodecs(m *pion.MediaEngine) error {
	feedback := []pion.RTCPFeedback{
		{Type: "goog-remb"},
		{Type: "ccm", Parameter: "fir"},
		{Type: "nack"},
		{Type: "nack", Parameter: "pli"},
	}

	for _, codec := range []pion.RTPCodecParameters{
		{
			RTPCodecCapability: pion.RTPCodecCapability{MimeType: pion.MimeTypeVP8, ClockRate: 90000, RTCPFeedback: feedback},
			PayloadType:        96,
		},
		{
			RTPCodecCapability: pion.RTPCodecCapability{MimeType: pion.MimeTypeVP9, ClockRate: 90000, SDPFmtpLine: "profile-id=0", RTCPFeedback: feedback},
			PayloadType:        98,
		},
		{
			RTPCodecCapability: pion.RTPCodecCapability{
				MimeType:     pion.MimeTypeH264,
				ClockRate:    90000,
				SDPFmtpLine:  "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
				RTCPFeedback: feedback,
			},
			PayloadType: 102,
		},
		{
			RTPCodecCapability: pion.RTPCodecCapability{
				MimeType:     pion.MimeTypeH264,
				ClockRate:    90000,
				SDPFmtpLine:  "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42001f",
				RTCPFeedback: feedback,
			},
			PayloadType: 127,
		},
		{
			RTPCodecCapability: pion.RTPCodecCapability{MimeType: pion.MimeTypeAV1, ClockRate: 90000, RTCPFeedback: feedback},
			PayloadType:        45,
		},
	} {
		if err := m.RegisterCodec(codec, pion.RTPCodecTypeVideo); err != nil {
			return err
		}
	}
	return nil
}

// configureInterceptors asks the sender to retransmit lost packets and
// sends receiver reports.
func configureInterceptors(m *pion.MediaEngine, i *interceptor.Registry) error {
	generator, err := nack.NewGeneratorInterceptor()
	if err != nil {
		return err
	}
	m.RegisterFeedback(pion.RTCPFeedback{Type: "nack"}, pion.RTPCodecTypeVideo)
	m.RegisterFeedback(pion.RTCPFeedback{Type: "nack", Parameter: "pli"}, pion.RTPCodecTypeVideo)
	i.Add(generator)

	receiver, err := report.NewReceiverInterceptor()
	if err != nil {
		return err
	}
	i.Add(receiver)
	return nil
}

type rtcpMonitorFactory struct {
	sessionID string
}

func (f *rtcpMonitorFactory) NewInterceptor(_ string) (interceptor.Interceptor, error) {
	return &rtcpMonitor{sessionID: f.sessionID}, nil
}

// rtcpMonitor counts RTCP the browser sends us.
type rtcpMonitor struct {
	interceptor.NoOp
	sessionID string
}

func (r *rtcpMonitor) BindRTCPReader(reader interceptor.RTCPReader) interceptor.RTCPReader {
	return &rtcpMonitorReader{reader: reader, sessionID: r.sessionID}
}

type rtcpMonitorReader struct {
	reader    interceptor.RTCPReader
	sessionID string
}

func (r *rtcpMonitorReader) Read(b []byte, a interceptor.Attributes) (int, interceptor.Attributes, error) {
	n, attr, err := r.reader.Read(b, a)
	if err != nil {
		return n, attr, err
	}

	packets, parseErr := rtcp.Unmarshal(b[:n])
	if parseErr != nil {
		return n, attr, err
	}
	for _, pkt := range packets {
		kind := "other"
		switch pkt.(type) {
		case *rtcp.SenderReport:
			kind = "sr"
		case *rtcp.SourceDescription:
			kind = "sdes"
		case *rtcp.Goodbye:
			kind = "bye"
		}
		rtcpReceived.WithLabelValues(kind).Inc()
	}
	return n, attr, err
}
