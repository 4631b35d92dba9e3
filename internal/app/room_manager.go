package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Beacon/internal/core"
	"github.com/dkeye/Beacon/internal/domain"
	"github.com/dkeye/Beacon/internal/languages"
	"github.com/dkeye/Beacon/internal/protocol"
)

// RoomOptions describes a room to create. Empty fields take defaults.
type RoomOptions struct {
	Name           string
	Slug           domain.Slug
	SourceLanguage languages.Code
	TargetLanguage languages.Code
	IsPublic       bool
	OwnerID        *domain.UserID
}

// RoomManager is the Room Registry: it owns every live room and is the
// only place membership, bridges and timer handles are mutated. The map
// lock and a room lock are never held at the same time.
type RoomManager struct {
	store core.RoomStore
	meter Meter

	mu       sync.RWMutex
	rooms    map[domain.RoomID]*room
	slugs    map[domain.Slug]domain.RoomID
	reserved map[domain.Slug]struct{}

	now func() time.Time
}

func NewRoomManager(store core.RoomStore) *RoomManager {
	return &RoomManager{
		store:    store,
		rooms:    make(map[domain.RoomID]*room),
		slugs:    make(map[domain.Slug]domain.RoomID),
		reserved: make(map[domain.Slug]struct{}),
		now:      time.Now,
	}
}

// SetMeter installs the usage meter. Must be called before serving.
func (m *RoomManager) SetMeter(meter Meter) { m.meter = meter }

// LoadPersistent registers every stored room. Called once at startup.
func (m *RoomManager) LoadPersistent(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	rooms, err := m.store.ListRooms(ctx)
	if err != nil {
		return 0, fmt.Errorf("load rooms: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, meta := range rooms {
		meta.IsPersistent = true
		m.rooms[meta.ID] = newRoom(meta)
		m.slugs[meta.Slug] = meta.ID
	}
	log.Info().Str("module", "app.rooms").Int("count", len(rooms)).Msg("loaded persistent rooms")
	return len(rooms), nil
}

func (m *RoomManager) prepare(opts RoomOptions) (domain.Room, error) {
	src, tgt := opts.SourceLanguage, opts.TargetLanguage
	if src == "" {
		src = "en"
	}
	if tgt == "" {
		tgt = "es"
	}
	if !languages.Valid(src) || !languages.Valid(tgt) {
		return domain.Room{}, domain.ErrInvalidLanguage
	}
	slug := domain.Slug(strings.ToLower(strings.TrimSpace(string(opts.Slug))))
	if slug == "" {
		slug = domain.Slug(shortID())
	} else if err := domain.ValidateSlug(slug); err != nil {
		return domain.Room{}, err
	}
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = "Room " + string(slug)
	}
	return domain.Room{
		ID:             domain.RoomID(shortID()),
		Slug:           slug,
		Name:           name,
		SourceLanguage: src,
		TargetLanguage: tgt,
		IsPublic:       opts.IsPublic,
		OwnerID:        opts.OwnerID,
		CreatedAt:      m.now().UTC(),
	}, nil
}

func (m *RoomManager) slugTakenLocked(slug domain.Slug) bool {
	if _, ok := m.slugs[slug]; ok {
		return true
	}
	_, ok := m.reserved[slug]
	return ok
}

func (m *RoomManager) CreateEphemeralRoom(opts RoomOptions) (domain.Room, error) {
	meta, err := m.prepare(opts)
	if err != nil {
		return domain.Room{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.slugTakenLocked(meta.Slug) {
		return domain.Room{}, domain.ErrSlugConflict
	}
	for _, dup := m.rooms[meta.ID]; dup; _, dup = m.rooms[meta.ID] {
		meta.ID = domain.RoomID(shortID())
	}
	m.rooms[meta.ID] = newRoom(meta)
	m.slugs[meta.Slug] = meta.ID
	log.Info().Str("module", "app.rooms").Str("room", string(meta.ID)).Str("slug", string(meta.Slug)).Msg("created ephemeral room")
	return meta, nil
}

// CreatePersistentRoom writes through to the store before the room becomes
// visible. The slug is reserved while the write is in flight.
func (m *RoomManager) CreatePersistentRoom(ctx context.Context, opts RoomOptions) (domain.Room, error) {
	if opts.OwnerID == nil {
		return domain.Room{}, domain.ErrNotOwner
	}
	if opts.Slug == "" {
		return domain.Room{}, domain.ErrInvalidSlug
	}
	meta, err := m.prepare(opts)
	if err != nil {
		return domain.Room{}, err
	}
	meta.IsPersistent = true

	m.mu.Lock()
	if m.slugTakenLocked(meta.Slug) {
		m.mu.Unlock()
		return domain.Room{}, domain.ErrSlugConflict
	}
	m.reserved[meta.Slug] = struct{}{}
	m.mu.Unlock()

	if m.store != nil {
		err = m.store.CreateRoom(ctx, meta)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reserved, meta.Slug)
	if err != nil {
		return domain.Room{}, err
	}
	m.rooms[meta.ID] = newRoom(meta)
	m.slugs[meta.Slug] = meta.ID
	log.Info().Str("module", "app.rooms").Str("room", string(meta.ID)).Str("slug", string(meta.Slug)).Msg("created persistent room")
	return meta, nil
}

// lookup resolves a room by ID first and slug second.
func (m *RoomManager) lookup(idOrSlug string) *room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.rooms[domain.RoomID(idOrSlug)]; ok {
		return r
	}
	if id, ok := m.slugs[domain.Slug(strings.ToLower(idOrSlug))]; ok {
		return m.rooms[id]
	}
	return nil
}

func (m *RoomManager) remove(r *room) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := r.meta.ID
	if m.rooms[id] != r {
		return
	}
	delete(m.rooms, id)
	if m.slugs[r.meta.Slug] == id {
		delete(m.slugs, r.meta.Slug)
	}
	log.Info().Str("module", "app.rooms").Str("room", string(id)).Msg("removed room")
}

// Room returns a copy of the room's meta.
func (m *RoomManager) Room(idOrSlug string) (domain.Room, bool) {
	r := m.lookup(idOrSlug)
	if r == nil {
		return domain.Room{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.removed {
		return domain.Room{}, false
	}
	return r.meta, true
}

// AttachBroadcaster fails with ErrBroadcasterExists while another connection
// holds the role. The rejected connection is left untouched. A listener of
// the same room is promoted in place; the current broadcaster re-joining is a
// no-op.
func (m *RoomManager) AttachBroadcaster(idOrSlug string, sess *core.Session) (domain.RoomStatus, error) {
	r := m.lookup(idOrSlug)
	if r == nil {
		return domain.RoomStatus{}, domain.ErrRoomNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.removed {
		return domain.RoomStatus{}, domain.ErrRoomNotFound
	}
	if r.broadcaster == sess {
		return r.status(), nil
	}
	if r.broadcaster != nil {
		return domain.RoomStatus{}, domain.ErrBroadcasterExists
	}
	_, promoted := r.listeners[sess.ID()]
	delete(r.listeners, sess.ID())
	r.broadcaster = sess
	sess.Assign(domain.RoleBroadcaster, r.meta.ID, r.meta.SourceLanguage)
	if sess.UserID() != nil && m.meter != nil {
		r.broadcast = m.meter.Begin(sess, r.meta)
		r.broadcast.ObserveListeners(len(r.listeners))
	}
	r.sendListeners(protocol.BroadcastStarted{})
	if promoted {
		r.notifyCount()
	}
	r.checkInvariants()
	log.Info().Str("module", "app.rooms").Str("room", string(r.meta.ID)).Str("sid", string(sess.ID())).
		Bool("promoted", promoted).Msg("broadcaster attached")
	return r.status(), nil
}

// AttachListener adds sess with its chosen language and pushes the new count
// to every participant. An existing listener only changes language. The
// room's own broadcaster is demoted: the broadcast ends for the others.
func (m *RoomManager) AttachListener(idOrSlug string, sess *core.Session, lang languages.Code) (domain.RoomStatus, PublishResult, error) {
	r := m.lookup(idOrSlug)
	if r == nil {
		return domain.RoomStatus{}, PublishResult{}, domain.ErrRoomNotFound
	}
	var (
		b    Bridge
		bs   BroadcastSession
		task *interimTask
		res  PublishResult
	)
	r.mu.Lock()
	if r.removed {
		r.mu.Unlock()
		return domain.RoomStatus{}, PublishResult{}, domain.ErrRoomNotFound
	}
	if lang == "" {
		lang = r.meta.TargetLanguage
	}
	demoted := r.broadcaster == sess
	if demoted {
		r.broadcaster = nil
		b, bs, task = r.release()
		res = r.sendListeners(protocol.BroadcastEnded{})
	}
	_, member := r.listeners[sess.ID()]
	sess.Assign(domain.RoleListener, r.meta.ID, lang)
	r.listeners[sess.ID()] = sess
	if !member {
		if r.broadcast != nil {
			r.broadcast.ObserveListeners(len(r.listeners))
		}
		counted := r.notifyCount()
		res.SendTo += counted.SendTo
		res.Dropped = append(res.Dropped, counted.Dropped...)
	}
	r.checkInvariants()
	st := r.status()
	r.mu.Unlock()

	closeReleased(b, bs, task)
	log.Info().Str("module", "app.rooms").Str("room", string(st.ID)).Str("sid", string(sess.ID())).
		Str("lang", string(lang)).Int("listeners", st.ListenerCount).Bool("demoted", demoted).Msg("listener attached")
	return st, res, nil
}

// Detach removes sess from whatever room it is in. It is a no-op for a
// connection that is not a member, so racing callers are safe.
func (m *RoomManager) Detach(sess *core.Session) PublishResult {
	return m.DetachFrom(sess, sess.RoomID())
}

// DetachFrom removes sess from room id. Used after a move, when the
// membership already points at the new room.
func (m *RoomManager) DetachFrom(sess *core.Session, id domain.RoomID) PublishResult {
	if id == "" {
		return PublishResult{}
	}
	r := m.lookup(string(id))
	if r == nil {
		sess.Clear(id)
		return PublishResult{}
	}

	var (
		res     PublishResult
		b       Bridge
		bs      BroadcastSession
		task    *interimTask
		dispose bool
		role    domain.Role
	)
	r.mu.Lock()
	switch {
	case r.broadcaster == sess:
		r.broadcaster = nil
		b, bs, task = r.release()
		res = r.sendListeners(protocol.BroadcastEnded{})
		dispose = !r.meta.IsPersistent && len(r.listeners) == 0
		role = domain.RoleBroadcaster
	case r.listeners[sess.ID()] == sess:
		delete(r.listeners, sess.ID())
		res = r.notifyCount()
		dispose = !r.meta.IsPersistent && len(r.listeners) == 0 && r.broadcaster == nil
		role = domain.RoleListener
	}
	if dispose {
		r.removed = true
	}
	r.checkInvariants()
	r.mu.Unlock()

	sess.Clear(id)
	closeReleased(b, bs, task)
	if dispose {
		m.remove(r)
	}
	if role != domain.RoleNone {
		log.Info().Str("module", "app.rooms").Str("room", string(id)).Str("sid", string(sess.ID())).
			Str("role", string(role)).Msg("detached")
	}
	return res
}

// Bridge returns the room's transcription bridge, creating it with open when
// absent. open runs under the room lock and must not block.
func (m *RoomManager) Bridge(id domain.RoomID, sess *core.Session, open func(domain.Room) Bridge) (Bridge, error) {
	r := m.lookup(string(id))
	if r == nil {
		return nil, domain.ErrRoomNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.removed || r.broadcaster != sess {
		return nil, domain.ErrNotBroadcaster
	}
	if r.bridge == nil {
		r.bridge = open(r.meta)
	}
	return r.bridge, nil
}

// ClearBridge forgets b if it is still the room's bridge. Used when the
// engine drops so the next chunk reconnects.
func (m *RoomManager) ClearBridge(id domain.RoomID, b Bridge) bool {
	r := m.lookup(string(id))
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bridge != b {
		return false
	}
	r.bridge = nil
	return true
}

// ListenerLanguages is the sorted set of distinct listener languages.
func (m *RoomManager) ListenerLanguages(id domain.RoomID) []languages.Code {
	r := m.lookup(string(id))
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.uniqueLanguages()
}

// ScheduleInterim replaces the room's pending interim task with fn, run after
// delay. Replacing a task stops its timer and cancels its context, so the
// latest text wins.
func (m *RoomManager) ScheduleInterim(id domain.RoomID, delay time.Duration, fn func(ctx context.Context)) bool {
	r := m.lookup(string(id))
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.removed || r.broadcaster == nil {
		return false
	}
	if r.interim != nil {
		r.interim.stop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	task := &interimTask{cancel: cancel}
	task.timer = time.AfterFunc(delay, func() {
		defer m.finishInterim(r, task)
		fn(ctx)
	})
	r.interim = task
	return true
}

func (m *RoomManager) finishInterim(r *room, task *interimTask) {
	task.cancel()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.interim == task {
		r.interim = nil
	}
}

// CancelInterim drops the pending interim task, if any.
func (m *RoomManager) CancelInterim(id domain.RoomID) {
	r := m.lookup(string(id))
	if r == nil {
		return
	}
	r.mu.Lock()
	task := r.interim
	r.interim = nil
	r.mu.Unlock()
	if task != nil {
		task.stop()
	}
}

var closedCh = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// Sequence reserves the next delivery slot of the room. The caller waits on
// prev before delivering and must call done exactly once.
func (m *RoomManager) Sequence(id domain.RoomID) (prev <-chan struct{}, done func()) {
	r := m.lookup(string(id))
	if r == nil {
		return closedCh, func() {}
	}
	next := make(chan struct{})
	r.mu.Lock()
	prev = r.tail
	r.tail = next
	r.mu.Unlock()
	if prev == nil {
		prev = closedCh
	}
	var once sync.Once
	return prev, func() { once.Do(func() { close(next) }) }
}

// DeliverByLanguage sends each listener the payload of its own language.
// Listeners whose language has no payload get nothing.
func (m *RoomManager) DeliverByLanguage(id domain.RoomID, payloads map[languages.Code]protocol.Transcript) PublishResult {
	r := m.lookup(string(id))
	if r == nil {
		return PublishResult{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	res := PublishResult{}
	for _, l := range r.listeners {
		p, ok := payloads[l.Language()]
		if !ok {
			continue
		}
		if err := l.Send(p); err != nil {
			res.Dropped = append(res.Dropped, l)
			continue
		}
		res.SendTo++
	}
	return res
}

// BroadcastToListeners sends the same message to every listener.
func (m *RoomManager) BroadcastToListeners(id domain.RoomID, msg protocol.Outbound) PublishResult {
	r := m.lookup(string(id))
	if r == nil {
		return PublishResult{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sendListeners(msg)
}

// UpdatePersistentRoom applies upd for the owner and writes it through.
// Concurrent updates of one room apply in turn, each on the previous result.
func (m *RoomManager) UpdatePersistentRoom(ctx context.Context, idOrSlug string, owner domain.UserID, upd domain.RoomUpdate) (domain.Room, error) {
	r := m.lookup(idOrSlug)
	if r == nil {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	r.edit.Lock()
	defer r.edit.Unlock()
	r.mu.Lock()
	meta, removed := r.meta, r.removed
	r.mu.Unlock()
	if removed || !meta.IsPersistent {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	if !meta.OwnedBy(owner) {
		return domain.Room{}, domain.ErrNotOwner
	}
	if upd.Name != nil && strings.TrimSpace(*upd.Name) != "" {
		meta.Name = strings.TrimSpace(*upd.Name)
	}
	if upd.SourceLanguage != nil {
		meta.SourceLanguage = *upd.SourceLanguage
	}
	if upd.TargetLanguage != nil {
		meta.TargetLanguage = *upd.TargetLanguage
	}
	if upd.IsPublic != nil {
		meta.IsPublic = *upd.IsPublic
	}
	if !languages.Valid(meta.SourceLanguage) || !languages.Valid(meta.TargetLanguage) {
		return domain.Room{}, domain.ErrInvalidLanguage
	}
	if m.store != nil {
		if err := m.store.UpdateRoom(ctx, meta); err != nil {
			return domain.Room{}, err
		}
	}
	r.mu.Lock()
	r.meta = meta
	r.mu.Unlock()
	return meta, nil
}

// DeletePersistentRoom removes the room from storage and memory. The
// broadcaster is sent broadcast_stopped and listeners broadcast_ended.
// Members lose their membership but keep their sockets.
func (m *RoomManager) DeletePersistentRoom(ctx context.Context, idOrSlug string, owner domain.UserID) error {
	r := m.lookup(idOrSlug)
	if r == nil {
		return domain.ErrRoomNotFound
	}
	r.edit.Lock()
	defer r.edit.Unlock()
	r.mu.Lock()
	meta, removed := r.meta, r.removed
	r.mu.Unlock()
	if removed || !meta.IsPersistent {
		return domain.ErrRoomNotFound
	}
	if !meta.OwnedBy(owner) {
		return domain.ErrNotOwner
	}
	if m.store != nil {
		if err := m.store.DeleteRoom(ctx, meta.ID); err != nil && !errors.Is(err, domain.ErrRoomNotFound) {
			return err
		}
	}

	r.mu.Lock()
	r.removed = true
	b, bs, task := r.release()
	if r.broadcaster != nil {
		_ = r.broadcaster.Send(protocol.BroadcastStopped{Reason: protocol.ReasonRoomDeleted})
	}
	r.sendListeners(protocol.BroadcastEnded{})
	members := make([]*core.Session, 0, len(r.listeners)+1)
	for _, l := range r.listeners {
		members = append(members, l)
	}
	if r.broadcaster != nil {
		members = append(members, r.broadcaster)
	}
	r.broadcaster = nil
	clear(r.listeners)
	r.mu.Unlock()

	for _, s := range members {
		s.Clear(meta.ID)
	}
	closeReleased(b, bs, task)
	m.remove(r)
	return nil
}

func (m *RoomManager) snapshot() []*room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*room, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, r)
	}
	return out
}

func (m *RoomManager) statuses(keep func(*domain.Room) bool) []domain.RoomStatus {
	out := make([]domain.RoomStatus, 0)
	for _, r := range m.snapshot() {
		r.mu.Lock()
		if !r.removed && keep(&r.meta) {
			out = append(out, r.status())
		}
		r.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}

// PublicRooms lists public persistent rooms with their live overlay.
func (m *RoomManager) PublicRooms() []domain.RoomStatus {
	return m.statuses(func(r *domain.Room) bool { return r.IsPersistent && r.IsPublic })
}

// OwnerRooms lists the rooms owned by uid.
func (m *RoomManager) OwnerRooms(uid domain.UserID) []domain.RoomStatus {
	return m.statuses(func(r *domain.Room) bool { return r.OwnedBy(uid) })
}

func (m *RoomManager) RoomStatus(idOrSlug string) (domain.RoomStatus, bool) {
	r := m.lookup(idOrSlug)
	if r == nil {
		return domain.RoomStatus{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.removed {
		return domain.RoomStatus{}, false
	}
	return r.status(), true
}

func (m *RoomManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
