package sfu

import "github.com/pion/webrtc/v4"

// MediaConfig lists the codecs a router negotiates.
type MediaConfig struct {
	Audio []webrtc.RTPCodecParameters
	Video []webrtc.RTPCodecParameters
}

// DefaultMediaConfig is the fixed codec policy: Opus and constrained-baseline
// H.264, matching what every supported browser offers by default.
func DefaultMediaConfig() MediaConfig {
	videoFeedback := []webrtc.RTCPFeedback{
		{Type: "goog-remb"},
		{Type: "ccm", Parameter: "fir"},
		{Type: "nack"},
		{Type: "nack", Parameter: "pli"},
	}
	return MediaConfig{
		Audio: []webrtc.RTPCodecParameters{{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:    webrtc.MimeTypeOpus,
				ClockRate:   48000,
				Channels:    2,
				SDPFmtpLine: "minptime=10;useinbandfec=1",
			},
			PayloadType: 111,
		}},
		Video: []webrtc.RTPCodecParameters{{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:     webrtc.MimeTypeH264,
				ClockRate:    90000,
				SDPFmtpLine:  "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42001f",
				RTCPFeedback: videoFeedback,
			},
			PayloadType: 102,
		}},
	}
}

func (c MediaConfig) mediaEngine() (*webrtc.MediaEngine, error) {
	m := &webrtc.MediaEngine{}
	for _, codec := range c.Audio {
		if err := m.RegisterCodec(codec, webrtc.RTPCodecTypeAudio); err != nil {
			return nil, err
		}
	}
	for _, codec := range c.Video {
		if err := m.RegisterCodec(codec, webrtc.RTPCodecTypeVideo); err != nil {
			return nil, err
		}
	}
	return m, nil
}
