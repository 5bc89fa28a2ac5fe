// Package sfu is the media-forwarding collaborator consumed by sessions: a
// worker hands out one router per room, a router hands out publish/subscribe
// transports per connection, and published RTP is fanned out to subscribers
// without transcoding.
package sfu

import (
	"context"
	"errors"
	"time"

	"github.com/pion/webrtc/v4"
)

var (
	ErrPublisherNotFound = errors.New("sfu: publisher not found")
	ErrTransportClosed   = errors.New("sfu: transport closed")
)

// Worker owns shared media resources and mints routers.
type Worker interface {
	NewRouter(cfg MediaConfig) (Router, error)
}

// Router is the per-room media hub.
type Router interface {
	CreatePublishTransport(cfg TransportConfig) (PublishTransport, error)
	CreateSubscribeTransport(cfg TransportConfig) (SubscribeTransport, error)
	Close()
}

// PublishTransport carries a client's uploaded tracks.
type PublishTransport interface {
	OnICECandidate(func(webrtc.ICECandidateInit))
	AddICECandidate(webrtc.ICECandidateInit) error
	// GetAnswer applies the client's offer and produces the local answer.
	GetAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	// Publish blocks until the track named by publisherID arrives or ctx ends.
	Publish(ctx context.Context, publisherID string) (Publisher, error)
	Close() error
}

// SubscribeTransport carries tracks forwarded to a client.
type SubscribeTransport interface {
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnNegotiationNeeded fires with a fresh offer whenever the transport's
	// track set changes outside an explicit Subscribe call.
	OnNegotiationNeeded(func(webrtc.SessionDescription))
	AddICECandidate(webrtc.ICECandidateInit) error
	// Subscribe attaches the published track to this transport and returns
	// the offer covering the new m-line.
	Subscribe(publisherID string) (Subscriber, *webrtc.SessionDescription, error)
	SetAnswer(answer webrtc.SessionDescription) error
	Close() error
}

// Publisher is one uploaded track.
type Publisher interface {
	TrackID() string
	Close()
}

// Subscriber is one forwarded track.
type Subscriber interface {
	ID() string
	Close()
}

// TransportConfig is the per-transport network policy.
type TransportConfig struct {
	ICEServers         []webrtc.ICEServer
	ICETransportPolicy webrtc.ICETransportPolicy
	NetworkTypes       []webrtc.NetworkType

	ICEDisconnectedTimeout time.Duration
	ICEFailedTimeout       time.Duration
	ICEKeepaliveInterval   time.Duration
}

// RelayOnlyConfig is the production transport policy: every connection goes
// through TURN relay, over IPv4 only. Direct paths hit intermittent DTLS
// handshake failures, and v6 candidates fail to bind on some Windows clients.
func RelayOnlyConfig(servers []webrtc.ICEServer) TransportConfig {
	return TransportConfig{
		ICEServers:         servers,
		ICETransportPolicy: webrtc.ICETransportPolicyRelay,
		NetworkTypes: []webrtc.NetworkType{
			webrtc.NetworkTypeUDP4,
			webrtc.NetworkTypeTCP4,
		},
		ICEDisconnectedTimeout: 30 * time.Second,
		ICEFailedTimeout:       60 * time.Second,
		ICEKeepaliveInterval:   2 * time.Second,
	}
}
