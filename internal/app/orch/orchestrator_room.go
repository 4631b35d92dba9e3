package orch

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Beacon/internal/app"
	"github.com/dkeye/Beacon/internal/core"
	"github.com/dkeye/Beacon/internal/domain"
	"github.com/dkeye/Beacon/internal/languages"
	"github.com/dkeye/Beacon/internal/protocol"
)

func parseLanguage(s string) (languages.Code, error) {
	if s == "" {
		return "", nil
	}
	c, ok := languages.Parse(s)
	if !ok {
		return "", domain.ErrInvalidLanguage
	}
	return c, nil
}

func (o *Orchestrator) checkQuota(ctx context.Context, sess *core.Session) error {
	uid := sess.UserID()
	if uid == nil || o.Quota == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, o.cfg.QuotaTimeout)
	defer cancel()
	_, err := o.Quota.Check(ctx, *uid)
	return err
}

// CreateRoom registers an ephemeral room and joins its creator as broadcaster.
func (o *Orchestrator) CreateRoom(ctx context.Context, sess *core.Session, msg protocol.CreateRoom) error {
	src, err := parseLanguage(msg.SourceLanguage)
	if err != nil {
		return err
	}
	tgt, err := parseLanguage(msg.TargetLanguage)
	if err != nil {
		return err
	}
	if src == "" && tgt == "" && msg.Direction != "" {
		var ok bool
		if src, tgt, ok = languages.FromDirection(msg.Direction); !ok {
			return domain.ErrInvalidLanguage
		}
	}
	if err := o.checkQuota(ctx, sess); err != nil {
		return err
	}

	prev := sess.Meta()
	room, err := o.Rooms.CreateEphemeralRoom(app.RoomOptions{
		Name:           msg.Name,
		Slug:           domain.Slug(msg.Slug),
		SourceLanguage: src,
		TargetLanguage: tgt,
		OwnerID:        sess.UserID(),
	})
	if err != nil {
		return err
	}
	_ = sess.Send(protocol.RoomCreated{
		RoomID:         room.ID,
		Slug:           room.Slug,
		Name:           room.Name,
		SourceLanguage: room.SourceLanguage,
		TargetLanguage: room.TargetLanguage,
		Direction:      room.Direction(),
	})
	if err := o.attachBroadcaster(sess, string(room.ID)); err != nil {
		return err
	}
	o.leave(sess, prev)
	return nil
}

// JoinRoom attaches sess to a room by ID or slug. The previous room is left
// only after the new membership is taken; a rejected join changes nothing.
func (o *Orchestrator) JoinRoom(ctx context.Context, sess *core.Session, msg protocol.JoinRoom) error {
	role := domain.Role(msg.Role)
	if role != domain.RoleBroadcaster && role != domain.RoleListener {
		return domain.ErrInvalidRole
	}
	lang, err := parseLanguage(msg.TargetLanguage)
	if err != nil {
		return err
	}
	room, ok := o.Rooms.Room(msg.RoomID)
	if !ok {
		return domain.ErrRoomNotFound
	}
	prev := sess.Meta()
	rejoin := prev.RoomID == room.ID && prev.Role == role
	if role == domain.RoleBroadcaster && !rejoin {
		if err := o.checkQuota(ctx, sess); err != nil {
			return err
		}
	}

	if role == domain.RoleBroadcaster {
		if err := o.attachBroadcaster(sess, string(room.ID)); err != nil {
			return err
		}
		o.leave(sess, prev)
		return nil
	}
	st, res, err := o.Rooms.AttachListener(string(room.ID), sess, lang)
	if err != nil {
		return err
	}
	_ = sess.Send(joined(st, domain.RoleListener))
	if st.IsActive {
		_ = sess.Send(protocol.BroadcastStarted{})
	}
	o.applyPolicy(st.ID, res)
	o.leave(sess, prev)
	return nil
}

// leave releases what sess held as prev after it joined elsewhere or changed
// role in place.
func (o *Orchestrator) leave(sess *core.Session, prev domain.Member) {
	now := sess.Meta()
	if prev.Role == domain.RoleBroadcaster && (now.Role != domain.RoleBroadcaster || now.RoomID != prev.RoomID) {
		o.releaseMedia(sess)
	}
	if prev.RoomID == "" || prev.RoomID == now.RoomID {
		return
	}
	log.Info().Str("module", "orch").Str("sid", string(sess.ID())).Str("from_room", string(prev.RoomID)).
		Str("to_room", string(now.RoomID)).Msg("left previous room")
	res := o.Rooms.DetachFrom(sess, prev.RoomID)
	o.applyPolicy(prev.RoomID, res)
}

func (o *Orchestrator) attachBroadcaster(sess *core.Session, idOrSlug string) error {
	st, err := o.Rooms.AttachBroadcaster(idOrSlug, sess)
	if err != nil {
		return err
	}
	_ = sess.Send(joined(st, domain.RoleBroadcaster))
	return nil
}

func joined(st domain.RoomStatus, role domain.Role) protocol.Joined {
	return protocol.Joined{
		RoomID:         st.ID,
		Role:           role,
		ListenerCount:  st.ListenerCount,
		RoomName:       st.Name,
		SourceLanguage: st.SourceLanguage,
		TargetLanguage: st.TargetLanguage,
		Direction:      st.Direction,
	}
}

// EndBroadcast is the voluntary stop of the room's broadcaster.
func (o *Orchestrator) EndBroadcast(sess *core.Session) error {
	if sess.Role() != domain.RoleBroadcaster {
		return domain.ErrNotBroadcaster
	}
	o.Detach(sess)
	return nil
}

// Detach releases everything sess holds in its room. Safe to call again.
func (o *Orchestrator) Detach(sess *core.Session) {
	o.releaseMedia(sess)
	room := sess.RoomID()
	res := o.Rooms.Detach(sess)
	o.applyPolicy(room, res)
}

func (o *Orchestrator) releaseMedia(sess *core.Session) {
	o.Relays.StopRelay(sess.ID())
	if mc := sess.UpdateMedia(nil); mc != nil {
		mc.Close()
	}
}

// AttachMedia installs a negotiated media leg for the broadcaster.
func (o *Orchestrator) AttachMedia(ctx context.Context, sess *core.Session, mc core.MediaConnection) error {
	if sess.Role() != domain.RoleBroadcaster {
		return domain.ErrNotBroadcaster
	}
	o.BindMediaHandlers(mc, sess)
	if err := mc.Start(ctx); err != nil {
		return fmt.Errorf("start media: %w", err)
	}
	if prev := sess.UpdateMedia(mc); prev != nil {
		prev.Close()
	}
	return nil
}
