package session

import (
	"context"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/webhangin/backend/internal/monitoring"
	"github.com/webhangin/backend/internal/protocol"
)

// dispatch routes one inbound text frame. Malformed or unknown frames are
// dropped without a reply.
func (s *Session) dispatch(data []byte) {
	frame, err := protocol.DecodeClientFrame(data)
	if err != nil {
		s.logger.Debug().Err(err).Msg("dropping malformed frame")
		return
	}
	monitoring.FramesIn.Inc()

	switch frame.Action {
	case protocol.ActionPing:
		s.Send(protocol.NewPong())
	case protocol.ActionPublisherInit:
		s.handlePublisherInit()
	case protocol.ActionSubscriberInit:
		s.handleSubscriberInit()
	case protocol.ActionPublisherIce:
		if frame.Candidate != nil {
			s.handlePublisherIce(*frame.Candidate)
		}
	case protocol.ActionSubscriberIce:
		if frame.Candidate != nil {
			s.handleSubscriberIce(*frame.Candidate)
		}
	case protocol.ActionOffer:
		if frame.SDP != nil {
			s.handleOffer(*frame.SDP)
		}
	case protocol.ActionAnswer:
		if frame.SDP != nil {
			s.handleAnswer(*frame.SDP)
		}
	case protocol.ActionPublish:
		if frame.PublisherID != "" {
			s.handlePublish(frame.PublisherID)
		}
	case protocol.ActionSubscribe:
		if frame.PublisherID != "" {
			s.handleSubscribe(frame.PublisherID)
		}
	case protocol.ActionStopPublish:
		if frame.PublisherID != "" {
			s.handleStopPublish(frame.PublisherID)
		}
	case protocol.ActionStopSubscribe:
		if frame.SubscriberID != "" {
			s.handleStopSubscribe(frame.SubscriberID)
		}
	case protocol.ActionChatMessage:
		s.handleChatMessage(frame.Message)
	case protocol.ActionPlayerMove:
		s.handlePlayerMove(frame.Position, frame.Rotation, frame.IsMoving)
	case protocol.ActionPlayAnimation:
		s.handlePlayAnimation(frame.Animation)
	default:
		s.logger.Debug().Str("action", frame.Action).Msg("dropping unknown action")
	}
}

func (s *Session) handlePublisherInit() {
	s.pubTransport.OnICECandidate(func(c webrtc.ICECandidateInit) {
		s.Send(protocol.NewPublisherIce(c))
	})
}

func (s *Session) handleSubscriberInit() {
	s.subTransport.OnICECandidate(func(c webrtc.ICECandidateInit) {
		s.Send(protocol.NewSubscriberIce(c))
	})
	s.subTransport.OnNegotiationNeeded(func(offer webrtc.SessionDescription) {
		s.Send(protocol.NewOffer(offer))
	})

	// Catch the late joiner up on everything already published, one frame
	// per publishing player.
	byPlayer := make(map[string][]string)
	for _, b := range s.room.GetAllPublishers() {
		byPlayer[b.PlayerID] = append(byPlayer[b.PlayerID], b.PublisherID)
	}
	for playerID, publisherIDs := range byPlayer {
		s.Send(protocol.NewPublished(publisherIDs, playerID))
	}
}

func (s *Session) handlePublisherIce(c webrtc.ICECandidateInit) {
	go func() {
		if err := s.pubTransport.AddICECandidate(c); err != nil {
			s.logger.Debug().Err(err).Msg("adding publisher ice candidate")
		}
	}()
}

func (s *Session) handleSubscriberIce(c webrtc.ICECandidateInit) {
	go func() {
		if err := s.subTransport.AddICECandidate(c); err != nil {
			s.logger.Debug().Err(err).Msg("adding subscriber ice candidate")
		}
	}()
}

// handleOffer answers the publish-side offer. Failures are logged only; the
// client runs its own timeout.
func (s *Session) handleOffer(sdp webrtc.SessionDescription) {
	go func() {
		answer, err := s.pubTransport.GetAnswer(sdp)
		if err != nil {
			s.logger.Error().Err(err).Msg("building answer")
			return
		}
		s.Send(protocol.NewAnswer(*answer))
	}()
}

func (s *Session) handleAnswer(sdp webrtc.SessionDescription) {
	go func() {
		if err := s.subTransport.SetAnswer(sdp); err != nil {
			s.logger.Error().Err(err).Msg("applying subscriber answer")
		}
	}()
}

// handlePublish completes a publication: it waits for the SFU to confirm the
// track, registers the binding and announces it to peers. On timeout or
// error nothing is sent; the client may retry.
func (s *Session) handlePublish(publisherID string) {
	go func() {
		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		pub, err := s.pubTransport.Publish(ctx, publisherID)
		if err != nil {
			monitoring.PublishesTotal.WithLabelValues("error").Inc()
			s.logger.Error().Err(err).Str("publisher", publisherID).Dur("elapsed", time.Since(start)).Msg("publish failed")
			return
		}
		trackID := pub.TrackID()
		monitoring.PublishesTotal.WithLabelValues("ok").Inc()
		s.logger.Info().Str("track", trackID).Dur("elapsed", time.Since(start)).Msg("publish completed")

		s.pubMu.Lock()
		s.publishers[trackID] = pub
		s.pubMu.Unlock()
		s.room.RegisterPublisher(trackID, s.playerID)

		frame := protocol.NewPublished([]string{trackID}, s.playerID)
		for _, peer := range s.room.GetPeers(s.playerID) {
			peer.Send(frame)
		}
	}()
}

// handleSubscribe retries transient SFU failures with exponential backoff
// (0, 100, 200, 400, 800 ms); exhaustion is reported to the client.
func (s *Session) handleSubscribe(publisherID string) {
	go func() {
		var lastErr error
		for attempt := 0; attempt < subscribeRetries; attempt++ {
			if attempt > 0 {
				time.Sleep(subscribeBackoff * (1 << (attempt - 1)))
			}

			sub, offer, err := s.subTransport.Subscribe(publisherID)
			if err != nil {
				lastErr = err
				continue
			}

			s.subMu.Lock()
			s.subscribers[sub.ID()] = sub
			s.subMu.Unlock()

			monitoring.SubscribesTotal.WithLabelValues("ok").Inc()
			s.Send(protocol.NewOffer(*offer))
			s.Send(protocol.NewSubscribed(sub.ID()))
			return
		}

		monitoring.SubscribesTotal.WithLabelValues("failed").Inc()
		s.logger.Error().Err(lastErr).Str("publisher", publisherID).Msg("subscribe failed after retries")
		s.Send(protocol.NewSubscribeFailed(publisherID, lastErr.Error()))
	}()
}

func (s *Session) handleStopPublish(publisherID string) {
	go func() {
		s.pubMu.Lock()
		pub, ok := s.publishers[publisherID]
		if ok {
			delete(s.publishers, publisherID)
		}
		s.pubMu.Unlock()
		if !ok {
			return
		}

		pub.Close()
		s.room.UnregisterPublisher(publisherID)
		frame := protocol.NewUnpublished(publisherID)
		for _, peer := range s.room.GetPeers(s.playerID) {
			peer.Send(frame)
		}
	}()
}

func (s *Session) handleStopSubscribe(subscriberID string) {
	go func() {
		s.subMu.Lock()
		sub, ok := s.subscribers[subscriberID]
		if ok {
			delete(s.subscribers, subscriberID)
		}
		s.subMu.Unlock()
		if ok {
			sub.Close()
		}
	}()
}

// Chat echoes to the sender too; the echo doubles as delivery confirmation.
func (s *Session) handleChatMessage(message string) {
	frame := protocol.NewChatMessage(s.player.Name, message)
	for _, addr := range s.room.GetAllAddrs() {
		addr.Send(frame)
	}
}

// Movement is locally authoritative on the client, so the sender is skipped.
func (s *Session) handlePlayerMove(pos protocol.Position, rotation float32, isMoving bool) {
	s.room.UpdatePlayerState(s.playerID, pos, rotation, isMoving)
	frame := protocol.NewPlayerMoved(s.playerID, pos, rotation, isMoving)
	for _, peer := range s.room.GetPeers(s.playerID) {
		peer.Send(frame)
	}
}

func (s *Session) handlePlayAnimation(animation string) {
	frame := protocol.NewPlayerAnimation(s.playerID, animation)
	for _, peer := range s.room.GetPeers(s.playerID) {
		peer.Send(frame)
	}
}
