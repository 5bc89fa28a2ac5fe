// Package room holds the membership state shared by concurrent sessions: the
// per-theme Room with its player and publisher indexes, the Registry that
// owns rooms and their media routers, and the activity classifier.
package room

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/webhangin/backend/internal/protocol"
	"github.com/webhangin/backend/internal/sfu"
)

// Addr is a handle for delivering frames to a session's inbox. It does not
// own the session behind it; sends to a closed session are no-ops.
type Addr interface {
	Send(frame any)
}

// PublisherBinding pairs a published track with its owning player.
type PublisherBinding struct {
	PublisherID string
	PlayerID    string
}

type playerEntry struct {
	addr  Addr
	state protocol.PlayerData
}

// Room is one broadcast domain: a set of players sharing a media router.
// All operations are guarded by a plain mutex; critical sections are pure
// in-memory updates and never block on I/O.
type Room struct {
	ID     string
	Theme  string
	Router sfu.Router

	mu         sync.Mutex
	players    map[string]*playerEntry // player id -> entry
	publishers map[string]string       // publisher id -> player id
}

func New(id, theme string, router sfu.Router) *Room {
	return &Room{
		ID:         id,
		Theme:      theme,
		Router:     router,
		players:    make(map[string]*playerEntry),
		publishers: make(map[string]string),
	}
}

// AddPlayer mints a player id and inserts a copy of the prototype with
// position, rotation and movement zeroed; client-provided values for those
// fields are ignored at join.
func (r *Room) AddPlayer(addr Addr, prototype protocol.PlayerData) string {
	id := uuid.NewString()
	state := prototype
	state.ID = id
	state.Position = protocol.Position{}
	state.Rotation = 0
	state.IsMoving = false

	r.mu.Lock()
	r.players[id] = &playerEntry{addr: addr, state: state}
	total := len(r.players)
	r.mu.Unlock()

	log.Info().Str("module", "room").Str("room", r.ID).Str("player", id).Int("players", total).Msg("player joined")
	return id
}

// RemovePlayerByAddr removes the player registered under addr and reports
// the remaining count. Publisher bindings are left untouched; the owning
// session unregisters them explicitly so unpublished broadcasts stay
// symmetric with published ones.
func (r *Room) RemovePlayerByAddr(addr Addr) (playerID string, remaining int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, entry := range r.players {
		if entry.addr == addr {
			delete(r.players, id)
			log.Info().Str("module", "room").Str("room", r.ID).Str("player", id).Int("players", len(r.players)).Msg("player left")
			return id, len(r.players), true
		}
	}
	return "", len(r.players), false
}

func (r *Room) UpdatePlayerState(playerID string, pos protocol.Position, rotation float32, isMoving bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.players[playerID]; ok {
		entry.state.Position = pos
		entry.state.Rotation = rotation
		entry.state.IsMoving = isMoving
	}
}

func (r *Room) GetPlayer(playerID string) (protocol.PlayerData, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.players[playerID]; ok {
		return entry.state, true
	}
	return protocol.PlayerData{}, false
}

func (r *Room) GetAllPlayers() []protocol.PlayerData {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.PlayerData, 0, len(r.players))
	for _, entry := range r.players {
		out = append(out, entry.state)
	}
	return out
}

// GetPeers returns the addresses of every player except playerID.
func (r *Room) GetPeers(playerID string) []Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Addr, 0, len(r.players))
	for id, entry := range r.players {
		if id != playerID {
			out = append(out, entry.addr)
		}
	}
	return out
}

func (r *Room) GetAllAddrs() []Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Addr, 0, len(r.players))
	for _, entry := range r.players {
		out = append(out, entry.addr)
	}
	return out
}

func (r *Room) PlayerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.players)
}

func (r *Room) RegisterPublisher(publisherID, playerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publishers[publisherID] = playerID
}

func (r *Room) UnregisterPublisher(publisherID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.publishers, publisherID)
}

func (r *Room) GetAllPublishers() []PublisherBinding {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PublisherBinding, 0, len(r.publishers))
	for pubID, playerID := range r.publishers {
		out = append(out, PublisherBinding{PublisherID: pubID, PlayerID: playerID})
	}
	return out
}
