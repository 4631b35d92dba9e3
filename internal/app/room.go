package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Beacon/internal/core"
	"github.com/dkeye/Beacon/internal/domain"
	"github.com/dkeye/Beacon/internal/languages"
	"github.com/dkeye/Beacon/internal/protocol"
)

// Bridge is the room's handle on an open transcription session.
type Bridge interface {
	Send(chunk []byte)
	Close()
}

// BroadcastSession meters one identity-bearing broadcaster.
type BroadcastSession interface {
	ObserveListeners(n int)
	Stop()
}

// Meter starts a BroadcastSession. Begin must not block.
type Meter interface {
	Begin(sess *core.Session, room domain.Room) BroadcastSession
}

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []*core.Session
}

type interimTask struct {
	timer  *time.Timer
	cancel context.CancelFunc
}

func (t *interimTask) stop() {
	t.timer.Stop()
	t.cancel()
}

// room is the in-memory state of one translation session. Every field is
// guarded by mu; collaborators are closed only after mu is released. edit
// serializes owner updates and deletes across their store round trip.
type room struct {
	edit        sync.Mutex
	mu          sync.Mutex
	meta        domain.Room
	broadcaster *core.Session
	listeners   map[core.SessionID]*core.Session

	bridge    Bridge
	broadcast BroadcastSession
	interim   *interimTask
	tail      chan struct{} // closed when the last sequenced delivery finished

	removed bool
}

func newRoom(meta domain.Room) *room {
	return &room{meta: meta, listeners: make(map[core.SessionID]*core.Session)}
}

func (r *room) status() domain.RoomStatus {
	return domain.RoomStatus{
		ID:             r.meta.ID,
		Slug:           r.meta.Slug,
		Name:           r.meta.Name,
		SourceLanguage: r.meta.SourceLanguage,
		TargetLanguage: r.meta.TargetLanguage,
		Direction:      r.meta.Direction(),
		IsPublic:       r.meta.IsPublic,
		IsPersistent:   r.meta.IsPersistent,
		IsActive:       r.broadcaster != nil,
		ListenerCount:  len(r.listeners),
		QRID:           r.meta.QRID,
		QRImageURL:     r.meta.QRImageURL,
	}
}

func (r *room) sendListeners(m protocol.Outbound) PublishResult {
	res := PublishResult{}
	for _, l := range r.listeners {
		if err := l.Send(m); err != nil {
			res.Dropped = append(res.Dropped, l)
			continue
		}
		res.SendTo++
	}
	return res
}

// notifyCount sends listener_count to the broadcaster and every listener.
func (r *room) notifyCount() PublishResult {
	msg := protocol.ListenerCount{Count: len(r.listeners)}
	res := r.sendListeners(msg)
	if r.broadcaster != nil {
		if err := r.broadcaster.Send(msg); err == nil {
			res.SendTo++
		}
	}
	return res
}

func (r *room) uniqueLanguages() []languages.Code {
	seen := make(map[languages.Code]struct{}, len(r.listeners))
	out := make([]languages.Code, 0, len(r.listeners))
	for _, l := range r.listeners {
		lang := l.Language()
		if _, ok := seen[lang]; ok {
			continue
		}
		seen[lang] = struct{}{}
		out = append(out, lang)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// release detaches the live collaborators so they can be closed outside mu.
func (r *room) release() (Bridge, BroadcastSession, *interimTask) {
	b, s, t := r.bridge, r.broadcast, r.interim
	r.bridge, r.broadcast, r.interim = nil, nil, nil
	return b, s, t
}

func (r *room) checkInvariants() {
	if r.broadcaster != nil {
		if _, dup := r.listeners[r.broadcaster.ID()]; dup {
			log.Error().Str("module", "app.room").Str("room", string(r.meta.ID)).Msg("broadcaster is also a listener")
		}
	}
}

func closeReleased(b Bridge, s BroadcastSession, t *interimTask) {
	if t != nil {
		t.stop()
	}
	if b != nil {
		b.Close()
	}
	if s != nil {
		s.Stop()
	}
}
