package app

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/toonchat/compass/internal/core"
	"github.com/toonchat/compass/internal/domain"
	"github.com/toonchat/compass/internal/presence"
	"github.com/toonchat/compass/internal/store"
)

// SessionState is the manager's explicit lifecycle state.
type SessionState int

const (
	StateIdle SessionState = iota
	StateConnecting
	StateActive
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	default:
		return "idle"
	}
}

// sessionHandle is the exclusive binding between one room and one live
// transport session plus its engine.
type sessionHandle struct {
	room    domain.Room
	session core.Session
	engine  *presence.Engine
}

// storeSink persists received chat messages into the room's history
// before forwarding; the engine itself stays store-agnostic.
type storeSink struct {
	core.EventSink
	messages *store.Store
	roomKey  string
}

func (s *storeSink) MessageReceived(msg domain.ChatMessage) {
	s.messages.Append(s.roomKey, msg)
	s.EventSink.MessageReceived(msg)
}

// Manager owns zero-or-one sessionHandle. All entry points funnel through
// it, which is what keeps the single-active-session invariant safe.
type Manager struct {
	appID     string
	handle    string
	transport core.Transport
	dir       *Directory
	messages  *store.Store
	snap      core.SnapshotStore
	sink      core.EventSink

	mu     sync.Mutex
	state  SessionState
	room   domain.Room
	active *sessionHandle
}

func NewManager(appID, handle string, transport core.Transport, dir *Directory, messages *store.Store, snap core.SnapshotStore, sink core.EventSink) *Manager {
	return &Manager{
		appID:     appID,
		handle:    handle,
		transport: transport,
		dir:       dir,
		messages:  messages,
		snap:      snap,
		sink:      sink,
		state:     StateIdle,
		room:      domain.PersonalRoom(),
	}
}

func (m *Manager) State() SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) ActiveRoom() domain.Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.room
}

// PeerCount is 1 (self) when no session is active.
func (m *Manager) PeerCount() int {
	m.mu.Lock()
	eng := m.engineLocked()
	m.mu.Unlock()
	if eng == nil {
		return 1
	}
	return eng.PeerCount()
}

func (m *Manager) engineLocked() *presence.Engine {
	if m.active == nil {
		return nil
	}
	return m.active.engine
}

// SwitchTo tears the current session down, then brings the new one up.
// That ordering is a strict invariant: the old topic must be fully
// released before the new one is requested. A transport failure leaves
// the manager idle in the personal room; the UI stays usable.
func (m *Manager) SwitchTo(key domain.RoomKey) error {
	room, ok := m.dir.Get(key)
	if !ok {
		return fmt.Errorf("unknown room %q", key.String())
	}

	m.teardown()

	if room.Kind == domain.RoomPersonal {
		m.mu.Lock()
		m.room = room
		m.state = StateIdle
		m.mu.Unlock()
		log.Info().Str("module", "app.manager").Msg("switched to personal room")
		return nil
	}

	m.mu.Lock()
	m.state = StateConnecting
	m.room = room
	m.mu.Unlock()
	m.sink.Notice(fmt.Sprintf("Connecting to room: %s...", room.DisplayName))

	topic := DeriveTopic(m.appID, string(room.ID), room.CreatorID)
	session, err := m.transport.Open(topic, room.Secret)
	if err != nil {
		m.mu.Lock()
		m.room = domain.PersonalRoom()
		m.state = StateIdle
		m.mu.Unlock()
		log.Error().Err(err).Str("module", "app.manager").Str("room", key.String()).Msg("transport open failed")
		m.sink.ConnectionError(err)
		return err
	}

	engine := presence.NewEngine(&storeSink{
		EventSink: m.sink,
		messages:  m.messages,
		roomKey:   room.Key().String(),
	})
	if err := engine.Start(session, m.handle); err != nil {
		// Unreachable through this entry point; treated as fatal misuse.
		session.Close()
		m.mu.Lock()
		m.state = StateIdle
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	m.active = &sessionHandle{room: room, session: session, engine: engine}
	m.state = StateActive
	m.mu.Unlock()

	// Self-only until peers arrive.
	m.sink.PresenceChanged(1)
	if room.Secret != "" {
		m.sink.Notice("E2EE encryption active.")
	}
	log.Info().Str("module", "app.manager").Str("room", key.String()).Str("topic", topic).Msg("session active")
	return nil
}

// teardown stops the engine and releases the transport session, if any.
func (m *Manager) teardown() {
	m.mu.Lock()
	active := m.active
	m.active = nil
	m.state = StateIdle
	m.mu.Unlock()

	if active == nil {
		return
	}
	active.engine.Stop()
	log.Info().Str("module", "app.manager").Str("room", active.room.Key().String()).Msg("session released")
}

// Send stores the message with IsOwn=true regardless of transport
// outcome; local display must not depend on network confirmation. In the
// personal room it is store-only.
func (m *Manager) Send(text string) domain.ChatMessage {
	m.mu.Lock()
	room := m.room
	eng := m.engineLocked()
	m.mu.Unlock()

	var msg domain.ChatMessage
	if eng == nil || room.Kind == domain.RoomPersonal {
		msg = domain.NewOwnMessage(m.handle, text)
	} else {
		msg = eng.Send(text)
	}
	m.messages.Append(room.Key().String(), msg)
	return msg
}

// Rooms lists the directory for display.
func (m *Manager) Rooms() []domain.Room {
	return m.dir.List()
}

// Shutdown releases any active session; the terminal state is idle.
func (m *Manager) Shutdown() {
	m.teardown()
}

// Leave is only valid for joined rooms: switch back to personal, then
// remove the room and its history.
func (m *Manager) Leave(key domain.RoomKey) error {
	room, ok := m.dir.Get(key)
	if !ok {
		return fmt.Errorf("unknown room %q", key.String())
	}
	if room.Kind == domain.RoomPersonal {
		return domain.ErrPersonalRoom
	}

	if m.ActiveRoom().Key() == key {
		if err := m.SwitchTo(domain.PersonalRoom().Key()); err != nil {
			return err
		}
	}
	if err := m.dir.Remove(key); err != nil {
		return err
	}
	m.messages.DropRoom(key.String())
	m.publishDirectory()
	return nil
}

// Join adds a room to the directory and switches to it.
func (m *Manager) Join(room domain.Room) error {
	m.dir.Add(room)
	m.publishDirectory()
	return m.SwitchTo(room.Key())
}

// JoinFromInvite parses a shared fragment and joins the room it names.
func (m *Manager) JoinFromInvite(fragment string) error {
	inv, err := domain.ParseInvite(fragment)
	if err != nil {
		return err
	}
	room, err := domain.NewJoinedRoom(inv.RoomID, inv.RoomID, inv.Secret, inv.CreatorID)
	if err != nil {
		return err
	}
	return m.Join(room)
}

// ShareInvite encodes the active room as a shareable fragment.
func (m *Manager) ShareInvite() (string, error) {
	room := m.ActiveRoom()
	if room.Kind == domain.RoomPersonal {
		return "", domain.ErrPersonalRoom
	}
	inv := domain.Invite{
		RoomID:    string(room.ID),
		Secret:    room.Secret,
		CreatorID: room.CreatorID,
	}
	return inv.Fragment(), nil
}

// ReconcileRooms applies an externally published directory snapshot. If
// the active room disappeared there, the session is torn down and the
// manager falls back to the personal room; no transport session is
// re-established for surviving rooms.
func (m *Manager) ReconcileRooms(raw []byte) {
	m.dir.Restore(raw)
	active := m.ActiveRoom()
	if active.Kind == domain.RoomPersonal {
		return
	}
	if _, ok := m.dir.Get(active.Key()); ok {
		return
	}
	log.Info().Str("module", "app.manager").Str("room", active.Key().String()).Msg("active room removed elsewhere, falling back to personal")
	m.sink.Notice(fmt.Sprintf("Room %s was removed in another window.", active.DisplayName))
	_ = m.SwitchTo(domain.PersonalRoom().Key())
}

func (m *Manager) publishDirectory() {
	if m.snap == nil {
		return
	}
	raw, err := m.dir.Snapshot()
	if err != nil {
		log.Error().Err(err).Str("module", "app.manager").Msg("directory snapshot marshal failed")
		return
	}
	if err := m.snap.Publish(core.KeyRooms, raw); err != nil {
		log.Error().Err(err).Str("module", "app.manager").Msg("directory snapshot publish failed")
	}
}
