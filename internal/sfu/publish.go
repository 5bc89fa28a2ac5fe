package sfu

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// pionPublishTransport receives a client's uploaded tracks. Each incoming
// track gets a relay registered on the router so subscribe transports can
// attach to it.
type pionPublishTransport struct {
	router *pionRouter
	pc     *webrtc.PeerConnection

	mu      sync.Mutex
	arrived map[string]*pionPublisher
	waiters map[string]chan *pionPublisher
	closed  bool
}

func newPublishTransport(router *pionRouter, pc *webrtc.PeerConnection) *pionPublishTransport {
	t := &pionPublishTransport{
		router:  router,
		pc:      pc,
		arrived: make(map[string]*pionPublisher),
		waiters: make(map[string]chan *pionPublisher),
	}
	pc.OnTrack(t.onTrack)
	return t
}

func (t *pionPublishTransport) onTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	trackID := track.ID()
	log.Info().Str("module", "sfu").Str("track", trackID).Str("kind", track.Kind().String()).Msg("publish track arrived")

	t.router.registerRelay(trackID, track)
	pub := &pionPublisher{trackID: trackID, router: t.router}

	t.mu.Lock()
	defer t.mu.Unlock()
	if w, ok := t.waiters[trackID]; ok {
		delete(t.waiters, trackID)
		w <- pub
		return
	}
	t.arrived[trackID] = pub
}

func (t *pionPublishTransport) OnICECandidate(cb func(webrtc.ICECandidateInit)) {
	t.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil {
			cb(c.ToJSON())
		}
	})
}

func (t *pionPublishTransport) AddICECandidate(c webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(c)
}

func (t *pionPublishTransport) GetAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := t.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	// Trickle: candidates flow through OnICECandidate, no gather wait here.
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	return &answer, nil
}

// Publish waits for the track named by publisherID to arrive over the
// transport. The id is the client's track id from its local capture.
func (t *pionPublishTransport) Publish(ctx context.Context, publisherID string) (Publisher, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrTransportClosed
	}
	if pub, ok := t.arrived[publisherID]; ok {
		delete(t.arrived, publisherID)
		t.mu.Unlock()
		return pub, nil
	}
	w := make(chan *pionPublisher, 1)
	t.waiters[publisherID] = w
	t.mu.Unlock()

	select {
	case pub, ok := <-w:
		if !ok {
			return nil, ErrTransportClosed
		}
		return pub, nil
	case <-ctx.Done():
		t.mu.Lock()
		delete(t.waiters, publisherID)
		t.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (t *pionPublishTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	arrived := t.arrived
	t.arrived = make(map[string]*pionPublisher)
	for id, w := range t.waiters {
		close(w)
		delete(t.waiters, id)
	}
	t.mu.Unlock()

	for _, pub := range arrived {
		pub.Close()
	}
	return t.pc.Close()
}

type pionPublisher struct {
	trackID string
	router  *pionRouter
	once    sync.Once
}

func (p *pionPublisher) TrackID() string { return p.trackID }

func (p *pionPublisher) Close() {
	p.once.Do(func() {
		p.router.unregisterRelay(p.trackID)
	})
}
