package sfu

import (
	"context"
	"maps"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// relay pumps RTP from one published remote track to every subscriber's out
// track. One relay per published track; the loop stops when the publisher
// closes or the source read fails.
type relay struct {
	src *webrtc.TrackRemote

	mu        sync.RWMutex
	outTracks map[string]*outTrack // keyed by subscriber id

	cancel context.CancelFunc
}

func newRelay(src *webrtc.TrackRemote, cancel context.CancelFunc) *relay {
	return &relay{
		src:       src,
		outTracks: make(map[string]*outTrack),
		cancel:    cancel,
	}
}

func (r *relay) loop(ctx context.Context, logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			r.markAllDelete()
			return
		default:
		}
		pkt, _, err := r.src.ReadRTP()
		if err != nil {
			logger.Debug().Err(err).Msg("relay source ended")
			r.markAllDelete()
			return
		}
		r.forward(pkt, logger)
	}
}

func (r *relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	snapshot := make(map[string]*outTrack, len(r.outTracks))
	r.mu.RLock()
	maps.Copy(snapshot, r.outTracks)
	r.mu.RUnlock()

	dirty := make([]string, 0, len(snapshot))
	for subID, ot := range snapshot {
		switch ot.getState() {
		case trackStateDelete:
			dirty = append(dirty, subID)
		case trackStateMuted:
		case trackStateOk:
			if err := ot.track.WriteRTP(pkt); err != nil {
				logger.Error().Err(err).Str("subscriber", subID).Msg("relay write failed, dropping out track")
				ot.markDelete()
				dirty = append(dirty, subID)
			}
		}
	}

	// Cleanup happens outside the read lock.
	if len(dirty) > 0 {
		r.mu.Lock()
		for _, id := range dirty {
			delete(r.outTracks, id)
		}
		r.mu.Unlock()
	}
}

func (r *relay) markAllDelete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ot := range r.outTracks {
		ot.markDelete()
	}
}

func (r *relay) addOutTrack(subscriberID string, ot *outTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outTracks[subscriberID] = ot
}

func (r *relay) removeOutTrack(subscriberID string) {
	r.mu.RLock()
	ot, ok := r.outTracks[subscriberID]
	r.mu.RUnlock()
	if ok {
		ot.markDelete()
	}
}

func (r *relay) stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.markAllDelete()
}
