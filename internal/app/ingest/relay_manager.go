package ingest

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Beacon/internal/core"
)

// RelayManager keeps at most one ingest relay per broadcaster session.
type RelayManager struct {
	sink Sink

	mu     sync.Mutex
	relays map[core.SessionID]*Relay
}

func NewRelayManager(sink Sink) *RelayManager {
	return &RelayManager{sink: sink, relays: make(map[core.SessionID]*Relay)}
}

// StartRelay replaces any relay of sid and starts reading src.
func (m *RelayManager) StartRelay(ctx context.Context, sid core.SessionID, src PacketReader) *Relay {
	logger := log.With().
		Str("module", "ingest").
		Str("sid", string(sid)).
		Logger()

	relayCtx, cancel := context.WithCancel(ctx)
	relay := newRelay(src, m.sink, cancel)

	m.mu.Lock()
	if old, ok := m.relays[sid]; ok {
		logger.Info().Msg("replacing existing relay for sid")
		old.cancel()
	}
	m.relays[sid] = relay
	m.mu.Unlock()

	logger.Info().Msg("starting relay loop")
	go func() {
		relay.loop(relayCtx, sid, &logger)
		m.forget(sid, relay)
	}()
	return relay
}

func (m *RelayManager) forget(sid core.SessionID, r *Relay) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.relays[sid] == r {
		delete(m.relays, sid)
	}
}

// StopRelay cancels the relay of sid. The loop exits after its current read.
func (m *RelayManager) StopRelay(sid core.SessionID) {
	m.mu.Lock()
	relay, ok := m.relays[sid]
	if ok {
		delete(m.relays, sid)
	}
	m.mu.Unlock()
	if ok {
		relay.cancel()
	}
}

func (m *RelayManager) HasRelay(sid core.SessionID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.relays[sid]
	return ok
}
