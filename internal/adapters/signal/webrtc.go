package signal

import (
	"context"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Beacon/internal/adapters/rtc"
	"github.com/dkeye/Beacon/internal/core"
	"github.com/dkeye/Beacon/internal/domain"
	"github.com/dkeye/Beacon/internal/protocol"
)

func sendCandidate(sess *core.Session, ci webrtc.ICECandidateInit) {
	resp := protocol.LocalCandidate{Candidate: ci.Candidate}
	if ci.SDPMid != nil {
		resp.SDPMid = *ci.SDPMid
	}
	if ci.SDPMLineIndex != nil {
		resp.SDPMLineIndex = *ci.SDPMLineIndex
	}
	_ = sess.Send(resp)
}

// handleOffer negotiates a receive-only audio leg for the broadcaster.
func (ctl *SignalWSController) handleOffer(ctx context.Context, sess *core.Session, m protocol.Offer) {
	if sess.Role() != domain.RoleBroadcaster {
		ctl.sendError(sess, domain.ErrNotBroadcaster)
		return
	}

	wc, err := rtc.NewWebRTCConnection(rtc.DefaultWebRTCConfig(), sess.ID())
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("webrtc new pc")
		ctl.sendError(sess, err)
		return
	}
	wc.OnICECandidate(func(ci webrtc.ICECandidateInit) { sendCandidate(sess, ci) })

	if err := ctl.Orch.AttachMedia(ctx, sess, wc); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("webrtc start")
		wc.Close()
		ctl.sendError(sess, err)
		return
	}

	answer, err := wc.ApplyOfferAndCreateAnswer(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  m.SDP,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("webrtc apply offer")
		if sess.UpdateMedia(nil) == wc {
			wc.Close()
		}
		ctl.sendError(sess, err)
		return
	}
	_ = sess.Send(protocol.Answer{SDP: answer.SDP})
}

func (ctl *SignalWSController) handleCandidate(sess *core.Session, m protocol.Candidate) {
	cand := webrtc.ICECandidateInit{Candidate: m.Candidate}
	if m.SDPMid != "" {
		cand.SDPMid = &m.SDPMid
	}
	cand.SDPMLineIndex = &m.SDPMLineIndex

	mc := sess.Media()
	if mc == nil {
		log.Warn().Str("module", "signal").Str("sid", string(sess.ID())).Msg("candidate: no media connection")
		return
	}
	if err := mc.AddICECandidate(cand); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("add ice candidate")
	}
}
