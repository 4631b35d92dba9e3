package core

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Beacon/internal/domain"
	"github.com/dkeye/Beacon/internal/languages"
	"github.com/dkeye/Beacon/internal/protocol"
)

type SessionID string

// Session binds one realtime socket to its participation meta. The transport
// owns it; rooms keep non-owning references that are dropped on detach.
type Session struct {
	id     SessionID
	signal SignalConnection
	userID *domain.UserID

	mu     sync.RWMutex
	member domain.Member
	media  MediaConnection

	alive atomic.Bool
}

func NewSession(id SessionID, signal SignalConnection, uid *domain.UserID) *Session {
	s := &Session{id: id, signal: signal, userID: uid}
	s.member.UserID = uid
	s.alive.Store(true)
	return s
}

func (s *Session) ID() SessionID            { return s.id }
func (s *Session) Signal() SignalConnection { return s.signal }

// UserID is nil for anonymous connections.
func (s *Session) UserID() *domain.UserID { return s.userID }

// Meta returns a copy of the current membership.
func (s *Session) Meta() domain.Member {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.member
}

func (s *Session) Role() domain.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.member.Role
}

func (s *Session) RoomID() domain.RoomID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.member.RoomID
}

func (s *Session) Language() languages.Code {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.member.Language
}

// Assign is called by the room registry once a join succeeded.
func (s *Session) Assign(role domain.Role, room domain.RoomID, lang languages.Code) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.member.Role = role
	s.member.RoomID = room
	s.member.Language = lang
}

// Clear drops the membership if it still points at room.
func (s *Session) Clear(room domain.RoomID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.member.RoomID != room {
		return
	}
	s.member.Role = domain.RoleNone
	s.member.RoomID = ""
	s.member.Language = ""
}

func (s *Session) Media() MediaConnection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.media
}

// UpdateMedia swaps the media leg and returns the previous one.
func (s *Session) UpdateMedia(mc MediaConnection) MediaConnection {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.media
	s.media = mc
	return prev
}

func (s *Session) MarkAlive() { s.alive.Store(true) }

// TakeAlive reports whether the session answered since the last ping and
// clears the flag for the next one.
func (s *Session) TakeAlive() bool { return s.alive.Swap(false) }

// Send encodes m and queues it without blocking.
func (s *Session) Send(m protocol.Outbound) error {
	b, err := protocol.Encode(m)
	if err != nil {
		log.Error().Err(err).Str("module", "core.session").Str("type", m.Type()).Msg("encode")
		return err
	}
	return s.signal.TrySend(b)
}
