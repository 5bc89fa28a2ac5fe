package sfu

import (
	"sync/atomic"

	"github.com/pion/webrtc/v4"
)

type trackState int32

const (
	trackStateOk trackState = iota
	trackStateMuted
	trackStateDelete
)

// outTrack is a single outgoing copy of a published track, bound to one
// subscriber.
type outTrack struct {
	track *webrtc.TrackLocalStaticRTP
	state atomic.Int32 // zero value is trackStateOk
}

func newOutTrack(track *webrtc.TrackLocalStaticRTP) *outTrack {
	return &outTrack{track: track}
}

func (ot *outTrack) getState() trackState {
	return trackState(ot.state.Load())
}

func (ot *outTrack) markDelete() {
	ot.state.Store(int32(trackStateDelete))
}
