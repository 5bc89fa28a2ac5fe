package sfu

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// pionSubscribeTransport forwards published tracks down to one client.
type pionSubscribeTransport struct {
	router *pionRouter
	pc     *webrtc.PeerConnection

	mu            sync.Mutex
	subs          map[string]*pionSubscriber
	onNegotiation func(webrtc.SessionDescription)
	closed        bool
}

func newSubscribeTransport(router *pionRouter, pc *webrtc.PeerConnection) *pionSubscribeTransport {
	return &pionSubscribeTransport{
		router: router,
		pc:     pc,
		subs:   make(map[string]*pionSubscriber),
	}
}

func (t *pionSubscribeTransport) OnICECandidate(cb func(webrtc.ICECandidateInit)) {
	t.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil {
			cb(c.ToJSON())
		}
	})
}

func (t *pionSubscribeTransport) OnNegotiationNeeded(cb func(webrtc.SessionDescription)) {
	t.mu.Lock()
	t.onNegotiation = cb
	t.mu.Unlock()
}

func (t *pionSubscribeTransport) AddICECandidate(c webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(c)
}

// Subscribe attaches the relay of publisherID to this transport and returns
// the offer that covers the added m-line.
func (t *pionSubscribeTransport) Subscribe(publisherID string) (Subscriber, *webrtc.SessionDescription, error) {
	rl, ok := t.router.relay(publisherID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrPublisherNotFound, publisherID)
	}

	local, err := webrtc.NewTrackLocalStaticRTP(
		rl.src.Codec().RTPCodecCapability,
		rl.src.ID(),
		rl.src.StreamID(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("creating local track: %w", err)
	}

	sender, err := t.pc.AddTrack(local)
	if err != nil {
		return nil, nil, fmt.Errorf("adding track: %w", err)
	}

	subID := uuid.NewString()
	rl.addOutTrack(subID, newOutTrack(local))

	offer, err := t.makeOffer()
	if err != nil {
		_ = t.pc.RemoveTrack(sender)
		rl.removeOutTrack(subID)
		return nil, nil, err
	}

	sub := &pionSubscriber{
		id:          subID,
		publisherID: publisherID,
		transport:   t,
		sender:      sender,
	}
	t.mu.Lock()
	t.subs[subID] = sub
	t.mu.Unlock()

	log.Debug().Str("module", "sfu").Str("subscriber", subID).Str("publisher", publisherID).Msg("subscribed")
	return sub, offer, nil
}

func (t *pionSubscribeTransport) makeOffer() (*webrtc.SessionDescription, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("creating offer: %w", err)
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("setting local description: %w", err)
	}
	return &offer, nil
}

func (t *pionSubscribeTransport) SetAnswer(answer webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(answer)
}

func (t *pionSubscribeTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	subs := t.subs
	t.subs = make(map[string]*pionSubscriber)
	t.mu.Unlock()

	for _, sub := range subs {
		sub.detach()
	}
	return t.pc.Close()
}

// renegotiate produces a fresh offer after a track was removed and hands it
// to the registered negotiation callback.
func (t *pionSubscribeTransport) renegotiate() {
	t.mu.Lock()
	cb := t.onNegotiation
	closed := t.closed
	t.mu.Unlock()
	if cb == nil || closed {
		return
	}
	offer, err := t.makeOffer()
	if err != nil {
		log.Error().Err(err).Str("module", "sfu").Msg("renegotiation offer failed")
		return
	}
	cb(*offer)
}

type pionSubscriber struct {
	id          string
	publisherID string
	transport   *pionSubscribeTransport
	sender      *webrtc.RTPSender
	once        sync.Once
}

func (s *pionSubscriber) ID() string { return s.id }

func (s *pionSubscriber) Close() {
	s.detach()
	s.transport.mu.Lock()
	delete(s.transport.subs, s.id)
	s.transport.mu.Unlock()
	s.transport.renegotiate()
}

func (s *pionSubscriber) detach() {
	s.once.Do(func() {
		if rl, ok := s.transport.router.relay(s.publisherID); ok {
			rl.removeOutTrack(s.id)
		}
		_ = s.transport.pc.RemoveTrack(s.sender)
	})
}
