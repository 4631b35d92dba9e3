package signal

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Beacon/internal/core"
	"github.com/dkeye/Beacon/internal/domain"
	"github.com/dkeye/Beacon/internal/protocol"
)

const roomCreateError = "ROOM_CREATE_ERROR"

// limiterKey prefers the account so several tabs share one budget.
func limiterKey(sess *core.Session) string {
	if uid := sess.UserID(); uid != nil {
		return "user:" + string(*uid)
	}
	return "sid:" + string(sess.ID())
}

func (ctl *SignalWSController) handleCreateRoom(ctx context.Context, sess *core.Session, m protocol.CreateRoom) {
	if !ctl.Limiter.Allow(limiterKey(sess)) {
		ctl.sendError(sess, domain.ErrRateLimited)
		return
	}
	if err := ctl.Orch.CreateRoom(ctx, sess, m); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sess.ID())).Msg("create room")
		if domain.KindOf(err) == 0 {
			_ = sess.Send(protocol.Error{Code: roomCreateError, Message: "failed to create room"})
			return
		}
		ctl.sendError(sess, err)
	}
}

func (ctl *SignalWSController) handleJoin(ctx context.Context, sess *core.Session, m protocol.JoinRoom) {
	log.Info().Str("module", "signal").Str("sid", string(sess.ID())).Str("room", m.RoomID).Str("role", m.Role).Msg("join")
	if err := ctl.Orch.JoinRoom(ctx, sess, m); err != nil {
		log.Info().Err(err).Str("module", "signal").Str("sid", string(sess.ID())).Msg("join rejected")
		ctl.sendError(sess, err)
	}
}

func (ctl *SignalWSController) handleEndBroadcast(sess *core.Session) {
	if err := ctl.Orch.EndBroadcast(sess); err != nil {
		ctl.sendError(sess, err)
	}
}
