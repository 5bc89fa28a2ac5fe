package room

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/webhangin/backend/internal/monitoring"
	"github.com/webhangin/backend/internal/sfu"
)

// Registry owns all active rooms. A single mutex guards the map and is held
// across router creation; rooms are created rarely relative to message
// traffic, so the simple design wins over a per-room init latch.
type Registry struct {
	mu     sync.Mutex
	rooms  map[string]*Room
	worker sfu.Worker
}

func NewRegistry(worker sfu.Worker) *Registry {
	return &Registry{
		rooms:  make(map[string]*Room),
		worker: worker,
	}
}

func (reg *Registry) Find(roomID string) (*Room, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.rooms[roomID]
	return r, ok
}

// CreateOrGet returns the room under roomID, allocating a router and a fresh
// Room on first demand. Idempotent on the id.
func (reg *Registry) CreateOrGet(roomID, theme string, media sfu.MediaConfig) (*Room, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if r, ok := reg.rooms[roomID]; ok {
		return r, nil
	}
	router, err := reg.worker.NewRouter(media)
	if err != nil {
		return nil, fmt.Errorf("creating router for room %s: %w", roomID, err)
	}
	r := New(roomID, theme, router)
	reg.rooms[roomID] = r
	monitoring.RoomsActive.Inc()
	log.Info().Str("module", "room").Str("room", roomID).Str("theme", theme).Msg("room created")
	return r, nil
}

// Remove drops the room unconditionally and closes its router. Callers must
// have established the room is empty; a join racing with removal simply
// recreates the room under the same id.
func (reg *Registry) Remove(roomID string) {
	reg.mu.Lock()
	r, ok := reg.rooms[roomID]
	if ok {
		delete(reg.rooms, roomID)
	}
	reg.mu.Unlock()
	if !ok {
		return
	}
	if r.Router != nil {
		r.Router.Close()
	}
	monitoring.RoomsActive.Dec()
	log.Info().Str("module", "room").Str("room", roomID).Msg("room removed")
}

func (reg *Registry) Count() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.rooms)
}
