// Package store keeps the bounded per-room message history and mirrors it
// into the shared snapshot after every mutation.
package store

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/toonchat/compass/internal/core"
	"github.com/toonchat/compass/internal/domain"
)

// HistoryCap is the per-room retention limit; eviction is strict FIFO.
const HistoryCap = 50

// Reconciliation reports what an external snapshot did to the visible
// transcript and how the host should treat the scroll anchor.
type Reconciliation struct {
	VisibleChanged bool
	// AutoScroll is true when the user sat at the bottom before the
	// external change; they keep following new content. Otherwise the
	// host preserves the reading position.
	AutoScroll bool
}

// Store is the in-memory history plus its persistence loop. Messages are
// keyed by the composite room key string.
type Store struct {
	snap core.SnapshotStore
	sink core.EventSink
	cap  int

	mu    sync.Mutex
	rooms map[string][]domain.ChatMessage
}

// New loads the persisted snapshot; corrupt or missing data degrades to
// empty state, never to an error.
func New(snap core.SnapshotStore, sink core.EventSink) *Store {
	s := &Store{
		snap:  snap,
		sink:  sink,
		cap:   HistoryCap,
		rooms: make(map[string][]domain.ChatMessage),
	}
	raw, err := snap.Load(core.KeyMessages)
	if err != nil {
		log.Warn().Err(err).Str("module", "store").Msg("message snapshot unreadable, starting fresh")
		return s
	}
	s.rooms = decodeSnapshot(raw)
	return s
}

func decodeSnapshot(raw []byte) map[string][]domain.ChatMessage {
	rooms := make(map[string][]domain.ChatMessage)
	if len(raw) == 0 {
		return rooms
	}
	if err := json.Unmarshal(raw, &rooms); err != nil {
		log.Warn().Err(err).Str("module", "store").Msg("corrupt message snapshot, starting fresh")
		return make(map[string][]domain.ChatMessage)
	}
	if rooms == nil {
		rooms = make(map[string][]domain.ChatMessage)
	}
	return rooms
}

// Append adds a message to the room's history, evicting from the front
// once past the cap, then publishes the all-rooms snapshot.
func (s *Store) Append(roomKey string, msg domain.ChatMessage) {
	s.mu.Lock()
	seq := append(s.rooms[roomKey], msg)
	if len(seq) > s.cap {
		seq = seq[len(seq)-s.cap:]
	}
	s.rooms[roomKey] = seq
	s.mu.Unlock()

	s.persist()
}

// History returns a copy of the room's transcript.
func (s *Store) History(roomKey string) []domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ChatMessage, len(s.rooms[roomKey]))
	copy(out, s.rooms[roomKey])
	return out
}

// DropRoom removes a room's history entirely (explicit leave).
func (s *Store) DropRoom(roomKey string) {
	s.mu.Lock()
	_, had := s.rooms[roomKey]
	delete(s.rooms, roomKey)
	s.mu.Unlock()
	if had {
		s.persist()
	}
}

// persist publishes the snapshot, shedding the oldest room's history on
// each quota failure. The loop is bounded by the number of stored rooms
// plus one final attempt; the in-memory append never fails.
func (s *Store) persist() {
	s.mu.Lock()
	attempts := len(s.rooms) + 1
	s.mu.Unlock()

	for i := 0; i < attempts; i++ {
		s.mu.Lock()
		raw, err := json.Marshal(s.rooms)
		s.mu.Unlock()
		if err != nil {
			log.Error().Err(err).Str("module", "store").Msg("snapshot marshal failed")
			return
		}
		err = s.snap.Publish(core.KeyMessages, raw)
		if err == nil {
			return
		}
		if !errors.Is(err, core.ErrStorageFull) {
			log.Error().Err(err).Str("module", "store").Msg("snapshot publish failed")
			return
		}
		s.sink.Notice("Storage full, cleaning up old messages...")
		if !s.evictOldestRoom() {
			log.Error().Str("module", "store").Msg("storage full with nothing left to evict")
			return
		}
	}
}

// evictOldestRoom drops the room whose head message is the oldest.
func (s *Store) evictOldestRoom() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	victim := ""
	var oldest int64
	for key, seq := range s.rooms {
		if len(seq) == 0 {
			victim = key
			break
		}
		if victim == "" || seq[0].TimestampMillis < oldest {
			victim = key
			oldest = seq[0].TimestampMillis
		}
	}
	if victim == "" {
		return false
	}
	delete(s.rooms, victim)
	log.Warn().Str("module", "store").Str("room", victim).Msg("evicted room history under storage pressure")
	return true
}

// ApplyExternalSnapshot replaces the in-memory state wholesale from a
// snapshot another process published, and reports whether the visible
// room's transcript changed plus the scroll decision.
func (s *Store) ApplyExternalSnapshot(raw []byte, visibleRoom string, wasAtBottom bool) Reconciliation {
	incoming := decodeSnapshot(raw)

	s.mu.Lock()
	before := s.rooms[visibleRoom]
	after := incoming[visibleRoom]
	s.rooms = incoming
	s.mu.Unlock()

	changed := !equalHistory(before, after)
	if changed {
		log.Info().Str("module", "store").Str("room", visibleRoom).Msg("visible transcript reconciled from external snapshot")
	}
	return Reconciliation{
		VisibleChanged: changed,
		AutoScroll:     changed && wasAtBottom,
	}
}

func equalHistory(a, b []domain.ChatMessage) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
