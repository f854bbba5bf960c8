package registry

import (
	"sync"

	"spinfm/model"
)

// Registry is the process-wide table of tracks currently referenced by
// any room, keyed by track id. Entries hold the full track including
// its payload so the HTTP layer can serve it. Rooms remove entries when
// a track finishes, when an on-deck track is displaced, or when the
// room itself is removed.
type Registry struct {
	mu     sync.RWMutex
	tracks map[string]*model.Track
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{tracks: make(map[string]*model.Track)}
}

// Put stores a track by id.
func (r *Registry) Put(track *model.Track) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracks[track.ID] = track
}

// Get returns the track for id, or nil.
func (r *Registry) Get(id string) *model.Track {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tracks[id]
}

// Remove drops the track for id, if present.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tracks, id)
}

// Len reports how many tracks are held.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tracks)
}
