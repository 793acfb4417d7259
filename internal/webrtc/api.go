package webrtc

import (
	"fmt"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/interceptor/pkg/nack"
	pionlog "github.com/pion/logging"
	pion "github.com/pion/webrtc/v4"

	"eyeconnect/native/internal/logging"
)

const (
	defaultDisconnectedTimeout = 10 * time.Second
	defaultFailedTimeout       = 30 * time.Second
	defaultKeepAliveInterval   = 2 * time.Second
)

// APIConfig controls how the underlying WebRTC API is assembled.
type APIConfig struct {
	LoggerFactory pionlog.LoggerFactory

	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration

	// ConfigureSettings runs last and may override anything above, e.g. to
	// attach a virtual network.
	ConfigureSettings func(*pion.SettingEngine)
}

// NewAPI builds a WebRTC API with an explicit codec list and the
// retransmission, report and keyframe interceptors.
func NewAPI(cfg APIConfig) (*pion.API, error) {
	m := &pion.MediaEngine{}
	if err := registerCodecs(m); err != nil {
		return nil, err
	}

	i := &interceptor.Registry{}
	if err := registerInterceptors(m, i); err != nil {
		return nil, err
	}

	se := pion.SettingEngine{}
	if cfg.LoggerFactory != nil {
		se.LoggerFactory = cfg.LoggerFactory
	} else {
		se.LoggerFactory = logging.PionFactory()
	}
	se.SetICETimeouts(
		orDefault(cfg.DisconnectedTimeout, defaultDisconnectedTimeout),
		orDefault(cfg.FailedTimeout, defaultFailedTimeout),
		orDefault(cfg.KeepAliveInterval, defaultKeepAliveInterval),
	)
	if cfg.ConfigureSettings != nil {
		cfg.ConfigureSettings(&se)
	}

	return pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(i),
		pion.WithSettingEngine(se),
	), nil
}

var videoFeedback = []pion.RTCPFeedback{
	{Type: "goog-remb"},
	{Type: "ccm", Parameter: "fir"},
	{Type: "nack"},
	{Type: "nack", Parameter: "pli"},
}

func registerCodecs(m *pion.MediaEngine) error {
	audio := []pion.RTPCodecParameters{
		{
			RTPCodecCapability: pion.RTPCodecCapability{
				MimeType:    pion.MimeTypeOpus,
				ClockRate:   48000,
				Channels:    2,
				SDPFmtpLine: "minptime=10;useinbandfec=1",
			},
			PayloadType: 111,
		},
		{
			RTPCodecCapability: pion.RTPCodecCapability{
				MimeType:  pion.MimeTypePCMU,
				ClockRate: 8000,
				Channels:  1,
			},
			PayloadType: 0,
		},
	}
	for _, c := range audio {
		if err := m.RegisterCodec(c, pion.RTPCodecTypeAudio); err != nil {
			return fmt.Errorf("register %s: %w", c.MimeType, err)
		}
	}

	video := []pion.RTPCodecParameters{
		{
			RTPCodecCapability: pion.RTPCodecCapability{
				MimeType:     pion.MimeTypeVP8,
				ClockRate:    90000,
				RTCPFeedback: videoFeedback,
			},
			PayloadType: 96,
		},
		{
			RTPCodecCapability: pion.RTPCodecCapability{
				MimeType:     pion.MimeTypeH264,
				ClockRate:    90000,
				SDPFmtpLine:  "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
				RTCPFeedback: videoFeedback,
			},
			PayloadType: 102,
		},
	}
	for _, c := range video {
		if err := m.RegisterCodec(c, pion.RTPCodecTypeVideo); err != nil {
			return fmt.Errorf("register %s: %w", c.MimeType, err)
		}
	}
	return nil
}

func registerInterceptors(m *pion.MediaEngine, i *interceptor.Registry) error {
	responder, err := nack.NewResponderInterceptor()
	if err != nil {
		return fmt.Errorf("create nack responder: %w", err)
	}
	i.Add(responder)

	generator, err := nack.NewGeneratorInterceptor()
	if err != nil {
		return fmt.Errorf("create nack generator: %w", err)
	}
	i.Add(generator)
	m.RegisterFeedback(pion.RTCPFeedback{Type: "nack"}, pion.RTPCodecTypeVideo)
	m.RegisterFeedback(pion.RTCPFeedback{Type: "nack", Parameter: "pli"}, pion.RTPCodecTypeVideo)

	if err := pion.ConfigureRTCPReports(i); err != nil {
		return fmt.Errorf("configure rtcp reports: %w", err)
	}

	pli, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return fmt.Errorf("create pli interceptor: %w", err)
	}
	i.Add(pli)
	return nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
