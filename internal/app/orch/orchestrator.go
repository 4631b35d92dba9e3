package orch

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Beacon/internal/app"
	"github.com/dkeye/Beacon/internal/app/fanout"
	"github.com/dkeye/Beacon/internal/app/ingest"
	"github.com/dkeye/Beacon/internal/core"
	"github.com/dkeye/Beacon/internal/domain"
	"github.com/dkeye/Beacon/internal/protocol"
)

type InterimMode string

const (
	// InterimPassthrough forwards interim text untranslated to every listener.
	InterimPassthrough InterimMode = "passthrough"
	// InterimDebounce translates only the last interim of a burst.
	InterimDebounce InterimMode = "debounce"
)

type Config struct {
	InterimMode     InterimMode
	InterimDebounce time.Duration
	AudioQueue      int
	QuotaTimeout    time.Duration
}

func DefaultConfig() Config {
	return Config{
		InterimMode:     InterimPassthrough,
		InterimDebounce: 300 * time.Millisecond,
		AudioQueue:      64,
		QuotaTimeout:    5 * time.Second,
	}
}

// QuotaGate rejects identity-bearing broadcasters before they attach.
type QuotaGate interface {
	Check(ctx context.Context, uid domain.UserID) (domain.Quota, error)
}

type Orchestrator struct {
	Registry *app.Registry
	Rooms    *app.RoomManager
	Policy   app.Policy
	Engine   core.SpeechEngine
	Fanout   *fanout.Fanout
	Quota    QuotaGate
	Relays   *ingest.RelayManager

	cfg Config
}

func New(reg *app.Registry, rooms *app.RoomManager, engine core.SpeechEngine, fan *fanout.Fanout, cfg Config) *Orchestrator {
	o := &Orchestrator{
		Registry: reg,
		Rooms:    rooms,
		Policy:   app.SimplePolicy{},
		Engine:   engine,
		Fanout:   fan,
		cfg:      cfg,
	}
	o.Relays = ingest.NewRelayManager(mediaSink{o})
	return o
}

// OnDisconnect runs once the transport has stopped for sess.
func (o *Orchestrator) OnDisconnect(sess *core.Session) {
	o.Detach(sess)
	o.Registry.Unbind(sess.ID())
}

// Reap handles a connection the liveness monitor found dead.
func (o *Orchestrator) Reap(sess *core.Session) {
	o.Kick(sess)
}

// Kick detaches sess and closes its transport.
func (o *Orchestrator) Kick(sess *core.Session) {
	o.Detach(sess)
	o.Registry.Cancel(sess.ID())
	sess.Signal().Close()
}

func (o *Orchestrator) applyPolicy(room domain.RoomID, res app.PublishResult) {
	if o.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackPressure(room, slow) {
		case app.KickMember:
			log.Warn().Str("module", "orch").Str("room", string(room)).Str("sid", string(slow.ID())).Msg("kicking slow consumer")
			o.Kick(slow)
		case app.MarkSlow, app.DropFrame, app.NoAction:
		}
	}
}

// QuotaWarning implements usage.Hooks.
func (o *Orchestrator) QuotaWarning(sess *core.Session, minutesRemaining int) {
	_ = sess.Send(protocol.UsageWarning{MinutesRemaining: minutesRemaining})
}

// QuotaExhausted implements usage.Hooks. The broadcaster is told why, then
// loses the role; listeners see broadcast_ended from the detach.
func (o *Orchestrator) QuotaExhausted(sess *core.Session) {
	if sess.Role() != domain.RoleBroadcaster {
		return
	}
	_ = sess.Send(protocol.BroadcastStopped{Reason: domain.ErrQuotaExceeded.Code})
	o.Detach(sess)
}
