package sfu

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// PionWorker is the pion-backed Worker. It carries no shared media state of
// its own; routers are independent.
type PionWorker struct{}

func NewWorker() *PionWorker { return &PionWorker{} }

func (w *PionWorker) NewRouter(cfg MediaConfig) (Router, error) {
	return &pionRouter{
		media:  cfg,
		relays: make(map[string]*relay),
	}, nil
}

// pionRouter is one room's media hub: it tracks the relays of currently
// published tracks and builds transports that negotiate the room's codecs.
type pionRouter struct {
	media MediaConfig

	mu     sync.RWMutex
	relays map[string]*relay // keyed by published track id
	closed bool
}

func (r *pionRouter) newPeerConnection(cfg TransportConfig) (*webrtc.PeerConnection, error) {
	engine, err := r.media.mediaEngine()
	if err != nil {
		return nil, err
	}

	se := webrtc.SettingEngine{}
	if len(cfg.NetworkTypes) > 0 {
		se.SetNetworkTypes(cfg.NetworkTypes)
	}
	if cfg.ICEDisconnectedTimeout > 0 || cfg.ICEFailedTimeout > 0 || cfg.ICEKeepaliveInterval > 0 {
		se.SetICETimeouts(cfg.ICEDisconnectedTimeout, cfg.ICEFailedTimeout, cfg.ICEKeepaliveInterval)
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(engine), webrtc.WithSettingEngine(se))
	return api.NewPeerConnection(webrtc.Configuration{
		ICEServers:         cfg.ICEServers,
		ICETransportPolicy: cfg.ICETransportPolicy,
	})
}

func (r *pionRouter) CreatePublishTransport(cfg TransportConfig) (PublishTransport, error) {
	pc, err := r.newPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	t := newPublishTransport(r, pc)
	return t, nil
}

func (r *pionRouter) CreateSubscribeTransport(cfg TransportConfig) (SubscribeTransport, error) {
	pc, err := r.newPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return newSubscribeTransport(r, pc), nil
}

func (r *pionRouter) Close() {
	r.mu.Lock()
	relays := r.relays
	r.relays = make(map[string]*relay)
	r.closed = true
	r.mu.Unlock()
	for _, rl := range relays {
		rl.stop()
	}
	log.Debug().Str("module", "sfu").Msg("router closed")
}

func (r *pionRouter) registerRelay(trackID string, src *webrtc.TrackRemote) *relay {
	ctx, cancel := context.WithCancel(context.Background())
	rl := newRelay(src, cancel)

	r.mu.Lock()
	if old, ok := r.relays[trackID]; ok {
		old.stop()
	}
	r.relays[trackID] = rl
	r.mu.Unlock()

	logger := log.With().Str("module", "sfu").Str("track", trackID).Logger()
	go rl.loop(ctx, &logger)
	return rl
}

func (r *pionRouter) unregisterRelay(trackID string) {
	r.mu.Lock()
	rl, ok := r.relays[trackID]
	if ok {
		delete(r.relays, trackID)
	}
	r.mu.Unlock()
	if ok {
		rl.stop()
	}
}

func (r *pionRouter) relay(trackID string) (*relay, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rl, ok := r.relays[trackID]
	return rl, ok
}
