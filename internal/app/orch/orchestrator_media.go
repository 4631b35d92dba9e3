package orch

import (
	"context"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Beacon/internal/app"
	"github.com/dkeye/Beacon/internal/app/fanout"
	"github.com/dkeye/Beacon/internal/app/ingest"
	"github.com/dkeye/Beacon/internal/app/transcribe"
	"github.com/dkeye/Beacon/internal/core"
	"github.com/dkeye/Beacon/internal/domain"
)

// OnAudio forwards a broadcaster chunk, opening the room's bridge on the
// first one. Chunks from anyone else are ignored.
func (o *Orchestrator) OnAudio(sess *core.Session, chunk []byte, format core.AudioFormat) {
	if len(chunk) == 0 || sess.Role() != domain.RoleBroadcaster {
		return
	}
	b, err := o.Rooms.Bridge(sess.RoomID(), sess, func(room domain.Room) app.Bridge {
		log.Info().Str("module", "orch").Str("room", string(room.ID)).Str("encoding", format.Encoding).Msg("opening transcription bridge")
		return transcribe.Open(o.Engine, room, format, o, o.cfg.AudioQueue)
	})
	if err != nil {
		return
	}
	b.Send(chunk)
}

// OnBridgeLost implements transcribe.Handler; the next chunk reconnects.
func (o *Orchestrator) OnBridgeLost(room domain.RoomID, b *transcribe.Bridge, err error) {
	if o.Rooms.ClearBridge(room, b) {
		log.Warn().Err(err).Str("module", "orch").Str("room", string(room)).Msg("transcription bridge lost")
	}
}

// OnTranscript implements transcribe.Handler.
func (o *Orchestrator) OnTranscript(id domain.RoomID, ev core.TranscriptEvent) {
	room, ok := o.Rooms.Room(string(id))
	if !ok {
		return
	}
	ts := ev.Timestamp
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	if !ev.IsFinal {
		o.onInterim(room, ev.Text, ts)
		return
	}

	o.Rooms.CancelInterim(id)
	langs := o.Rooms.ListenerLanguages(id)
	if len(langs) == 0 {
		return
	}
	prev, done := o.Rooms.Sequence(id)
	go func() {
		defer done()
		payloads := o.Fanout.Final(context.Background(), ev.Text, room.SourceLanguage, langs, ts)
		<-prev
		res := o.Rooms.DeliverByLanguage(id, payloads)
		log.Debug().Str("module", "orch").Str("room", string(id)).Int("languages", len(langs)).Int("sent", res.SendTo).Msg("final delivered")
		o.applyPolicy(id, res)
	}()
}

func (o *Orchestrator) onInterim(room domain.Room, text string, ts int64) {
	if len(o.Rooms.ListenerLanguages(room.ID)) == 0 {
		return
	}
	if o.cfg.InterimMode != InterimDebounce {
		res := o.Rooms.BroadcastToListeners(room.ID, fanout.Draft(text, ts))
		o.applyPolicy(room.ID, res)
		return
	}
	o.Rooms.ScheduleInterim(room.ID, o.cfg.InterimDebounce, func(ctx context.Context) {
		langs := o.Rooms.ListenerLanguages(room.ID)
		payloads := o.Fanout.Interim(ctx, text, room.SourceLanguage, langs, ts)
		if ctx.Err() != nil {
			return
		}
		o.applyPolicy(room.ID, o.Rooms.DeliverByLanguage(room.ID, payloads))
	})
}

// BindMediaHandlers routes the broadcaster's audio track into the bridge.
func (o *Orchestrator) BindMediaHandlers(mc core.MediaConnection, sess *core.Session) {
	sid := sess.ID()
	mc.OnTrack(func(trackCtx context.Context, track *webrtc.TrackRemote) {
		o.Relays.StartRelay(trackCtx, sid, ingest.TrackReader(track))
	})
	mc.OnClosed(func() { o.Relays.StopRelay(sid) })
}

// mediaSink feeds relayed RTP payloads as Opus audio.
type mediaSink struct{ o *Orchestrator }

func (s mediaSink) OnAudio(sid core.SessionID, payload []byte) {
	sess, ok := s.o.Registry.GetSession(sid)
	if !ok {
		return
	}
	s.o.OnAudio(sess, payload, core.Opus48k)
}
