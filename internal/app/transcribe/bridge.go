// Package transcribe adapts a streaming speech engine to one live room.
package transcribe

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Beacon/internal/core"
	"github.com/dkeye/Beacon/internal/domain"
)

// Handler receives the bridge's events. OnTranscript calls for one bridge
// come from a single goroutine in engine order.
type Handler interface {
	OnTranscript(room domain.RoomID, ev core.TranscriptEvent)
	// OnBridgeLost fires once when the engine fails or hangs up by itself.
	// It does not fire for Close.
	OnBridgeLost(room domain.RoomID, b *Bridge, err error)
}

// Bridge forwards audio to an engine stream and engine events to Handler.
// Audio sent before the engine is connected is buffered up to the queue size.
type Bridge struct {
	room    domain.RoomID
	handler Handler

	audio  chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	closed atomic.Bool
	done   chan struct{}
}

// Open returns immediately and dials the engine in the background.
func Open(engine core.SpeechEngine, room domain.Room, format core.AudioFormat, h Handler, queue int) *Bridge {
	if queue <= 0 {
		queue = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		room:    room.ID,
		handler: h,
		audio:   make(chan []byte, queue),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go b.run(engine, room, format)
	return b
}

func (b *Bridge) run(engine core.SpeechEngine, room domain.Room, format core.AudioFormat) {
	defer close(b.done)
	stream, err := engine.Open(b.ctx, room.SourceLanguage, format, engineEvents{b})
	if err != nil {
		if b.ctx.Err() == nil {
			log.Error().Err(err).Str("module", "transcribe").Str("room", string(b.room)).Msg("engine open failed")
		}
		b.shutdown(true, err)
		return
	}
	log.Info().Str("module", "transcribe").Str("room", string(b.room)).Str("lang", string(room.SourceLanguage)).Msg("engine connected")
	defer func() {
		if err := stream.Close(); err != nil {
			log.Debug().Err(err).Str("module", "transcribe").Str("room", string(b.room)).Msg("engine close")
		}
	}()
	for {
		select {
		case <-b.ctx.Done():
			return
		case chunk := <-b.audio:
			if err := stream.Send(chunk); err != nil {
				log.Error().Err(err).Str("module", "transcribe").Str("room", string(b.room)).Msg("engine send failed")
				b.shutdown(true, domain.Upstream("stt", err))
				return
			}
		}
	}
}

// Send queues a chunk without blocking. Chunks are dropped when the queue is
// full or the bridge is closed.
func (b *Bridge) Send(chunk []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.audio <- chunk:
	default:
		log.Warn().Str("module", "transcribe").Str("room", string(b.room)).Msg("audio queue full, dropping chunk")
	}
}

// Close releases the engine handle. Safe to call more than once.
func (b *Bridge) Close() { b.shutdown(false, nil) }

// Done is closed once the engine stream has been released.
func (b *Bridge) Done() <-chan struct{} { return b.done }

func (b *Bridge) shutdown(lost bool, err error) {
	b.once.Do(func() {
		b.closed.Store(true)
		b.cancel()
		if lost && b.handler != nil {
			b.handler.OnBridgeLost(b.room, b, err)
		}
	})
}

type engineEvents struct{ b *Bridge }

func (e engineEvents) OnTranscript(ev core.TranscriptEvent) {
	if e.b.closed.Load() || ev.Text == "" {
		return
	}
	e.b.handler.OnTranscript(e.b.room, ev)
}

func (e engineEvents) OnError(err error) {
	if e.b.closed.Load() {
		return
	}
	log.Error().Err(err).Str("module", "transcribe").Str("room", string(e.b.room)).Msg("engine error")
	e.b.shutdown(true, domain.Upstream("stt", err))
}

func (e engineEvents) OnClose() {
	if e.b.closed.Load() {
		return
	}
	log.Info().Str("module", "transcribe").Str("room", string(e.b.room)).Msg("engine closed the stream")
	e.b.shutdown(true, nil)
}
