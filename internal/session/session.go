// Package session drives one client connection: it owns the websocket pumps,
// the pair of SFU transports, and the fan-out of room events to peers. Each
// session processes its inbound frames serially; anything that can block on
// the SFU runs on a detached goroutine so the pumps stay responsive.
package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/webhangin/backend/internal/ice"
	"github.com/webhangin/backend/internal/monitoring"
	"github.com/webhangin/backend/internal/protocol"
	"github.com/webhangin/backend/internal/room"
	"github.com/webhangin/backend/internal/sfu"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	sendBuffer     = 64
	publishTimeout = 30 * time.Second

	subscribeRetries = 5
	subscribeBackoff = 100 * time.Millisecond
)

// Conn is the subset of *websocket.Conn the session needs; tests substitute
// an in-memory implementation.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Options carries connection tuning from config.
type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
}

type outMsg struct {
	kind int
	data []byte
}

// Session is the per-connection state machine.
type Session struct {
	conn     Conn
	registry *room.Registry
	room     *room.Room
	opts     Options

	playerID string
	player   protocol.PlayerData

	pubTransport sfu.PublishTransport
	subTransport sfu.SubscribeTransport

	pubMu       sync.Mutex
	publishers  map[string]sfu.Publisher
	subMu       sync.Mutex
	subscribers map[string]sfu.Subscriber

	iceServers []protocol.IceServer

	send   chan outMsg
	done   chan struct{}
	once   sync.Once
	logger zerolog.Logger
}

// New allocates the session's publish and subscribe transports from the
// room's router and prepares the pumps. The player is not registered with
// the room until Run.
func New(conn Conn, registry *room.Registry, rm *room.Room, prototype protocol.PlayerData, iceServers []protocol.IceServer, opts Options) (*Session, error) {
	cfg := sfu.RelayOnlyConfig(ice.RTCServers(iceServers))

	pub, err := rm.Router.CreatePublishTransport(cfg)
	if err != nil {
		return nil, err
	}
	sub, err := rm.Router.CreateSubscribeTransport(cfg)
	if err != nil {
		_ = pub.Close()
		return nil, err
	}

	if opts.ReadLimit == 0 {
		opts.ReadLimit = 65536
	}
	if opts.PingPeriod == 0 {
		opts.PingPeriod = (pongWait * 9) / 10
	}

	return &Session{
		conn:         conn,
		registry:     registry,
		room:         rm,
		opts:         opts,
		player:       prototype,
		pubTransport: pub,
		subTransport: sub,
		publishers:   make(map[string]sfu.Publisher),
		subscribers:  make(map[string]sfu.Subscriber),
		iceServers:   iceServers,
		send:         make(chan outMsg, sendBuffer),
		done:         make(chan struct{}),
		logger:       log.With().Str("module", "session").Str("player", prototype.Name).Logger(),
	}, nil
}

// Run registers the player and pumps the connection until it closes. It
// returns after teardown has completed.
func (s *Session) Run() {
	s.start()
	go s.writePump()
	s.readPump()
	s.teardown()
}

// Send enqueues a frame for delivery to this session's client. Best effort:
// frames for a closed or backed-up session are dropped.
func (s *Session) Send(frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		s.logger.Error().Err(err).Msg("marshaling outbound frame")
		return
	}
	select {
	case <-s.done:
	case s.send <- outMsg{kind: websocket.TextMessage, data: data}:
		monitoring.FramesOut.Inc()
	default:
		s.logger.Warn().Msg("send buffer full, dropping frame")
	}
}

// start performs the Registered transition: the player is inserted into the
// room, the joining client gets RoomState as its first frame, and peers get
// PlayerJoined strictly after the insertion.
func (s *Session) start() {
	s.playerID = s.room.AddPlayer(s, s.player)
	s.logger = s.logger.With().Str("player_id", s.playerID).Logger()
	monitoring.PlayersOnline.Inc()

	s.Send(protocol.NewRoomState(s.playerID, s.room.GetAllPlayers(), s.room.Theme, s.iceServers))

	if self, ok := s.room.GetPlayer(s.playerID); ok {
		joined := protocol.NewPlayerJoined(self)
		for _, peer := range s.room.GetPeers(s.playerID) {
			peer.Send(joined)
		}
	}
}

func (s *Session) readPump() {
	s.conn.SetReadLimit(s.opts.ReadLimit)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug().Err(err).Msg("read error")
			}
			return
		}
		switch kind {
		case websocket.TextMessage:
			s.dispatch(data)
		case websocket.BinaryMessage:
			// Debug passthrough.
			select {
			case <-s.done:
			case s.send <- outMsg{kind: websocket.BinaryMessage, data: data}:
			default:
			}
		}
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(s.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case <-s.done:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(msg.kind, msg.data); err != nil {
				s.logger.Debug().Err(err).Msg("write error")
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// teardown runs the Closing sequence: publishers are closed and their
// unpublished broadcasts sent (possibly after playerLeft, peers tolerate
// either order), transports are released, peers learn of the departure, and
// the room is removed from the registry when it empties.
func (s *Session) teardown() {
	s.once.Do(func() {
		close(s.done)
		monitoring.PlayersOnline.Dec()

		peers := s.room.GetPeers(s.playerID)

		go func() {
			s.pubMu.Lock()
			owned := s.publishers
			s.publishers = make(map[string]sfu.Publisher)
			s.pubMu.Unlock()
			for id, pub := range owned {
				pub.Close()
				s.room.UnregisterPublisher(id)
				frame := protocol.NewUnpublished(id)
				for _, peer := range peers {
					peer.Send(frame)
				}
			}
			_ = s.subTransport.Close()
			_ = s.pubTransport.Close()
		}()

		left := protocol.NewPlayerLeft(s.playerID)
		for _, peer := range peers {
			peer.Send(left)
		}

		if _, remaining, ok := s.room.RemovePlayerByAddr(s); ok && remaining == 0 {
			s.registry.Remove(s.room.ID)
		}
		s.logger.Info().Msg("session closed")
	})
}
