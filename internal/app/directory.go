// Package app owns the session lifecycle: the room directory and the
// manager that binds at most one room to a live transport session.
package app

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/toonchat/compass/internal/core"
	"github.com/toonchat/compass/internal/domain"
)

// Directory is the ordered set of known rooms. The personal room is always
// present, always first, and never removable.
type Directory struct {
	mu    sync.Mutex
	rooms []domain.Room
}

func NewDirectory() *Directory {
	return &Directory{rooms: []domain.Room{domain.PersonalRoom()}}
}

// Add inserts a joined room; adding an already-known key overwrites its
// secret and display name in place.
func (d *Directory) Add(room domain.Room) {
	if room.Kind == domain.RoomPersonal {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, r := range d.rooms {
		if r.Key() == room.Key() {
			d.rooms[i] = room
			return
		}
	}
	d.rooms = append(d.rooms, room)
	log.Info().Str("module", "app.directory").Str("room", room.Key().String()).Msg("room added")
}

func (d *Directory) Remove(key domain.RoomKey) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, r := range d.rooms {
		if r.Key() != key {
			continue
		}
		if r.Kind == domain.RoomPersonal {
			return domain.ErrPersonalRoom
		}
		d.rooms = append(d.rooms[:i], d.rooms[i+1:]...)
		log.Info().Str("module", "app.directory").Str("room", key.String()).Msg("room removed")
		return nil
	}
	return nil
}

func (d *Directory) Rename(key domain.RoomKey, displayName string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, r := range d.rooms {
		if r.Key() == key {
			d.rooms[i].DisplayName = displayName
			return true
		}
	}
	return false
}

func (d *Directory) Get(key domain.RoomKey) (domain.Room, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range d.rooms {
		if r.Key() == key {
			return r, true
		}
	}
	return domain.Room{}, false
}

func (d *Directory) List() []domain.Room {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]domain.Room, len(d.rooms))
	copy(out, d.rooms)
	return out
}

// Snapshot serializes the ordered room list for the shared blob.
func (d *Directory) Snapshot() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return json.Marshal(d.rooms)
}

// Restore replaces the list wholesale from a snapshot. Corrupt data and a
// missing personal room both repair to a valid directory.
func (d *Directory) Restore(raw []byte) {
	var rooms []domain.Room
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &rooms); err != nil {
			log.Warn().Err(err).Str("module", "app.directory").Msg("corrupt room snapshot, starting fresh")
			rooms = nil
		}
	}
	repaired := []domain.Room{domain.PersonalRoom()}
	for _, r := range rooms {
		if r.Kind == domain.RoomPersonal {
			continue
		}
		if r.ID == "" {
			continue
		}
		r.Kind = domain.RoomJoined
		repaired = append(repaired, r)
	}

	d.mu.Lock()
	d.rooms = repaired
	d.mu.Unlock()
}

// RestoreFrom loads the directory blob from the snapshot store.
func (d *Directory) RestoreFrom(snap core.SnapshotStore) {
	raw, err := snap.Load(core.KeyRooms)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.directory").Msg("room snapshot unreadable, starting fresh")
		return
	}
	d.Restore(raw)
}
