package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/Beacon/internal/core"
	"github.com/dkeye/Beacon/internal/domain"
	"github.com/dkeye/Beacon/internal/languages"
	"github.com/dkeye/Beacon/internal/protocol"
)

type fakeSignal struct {
	mu     sync.Mutex
	frames []core.Frame
	full   bool
}

func (f *fakeSignal) TrySend(b core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return errors.New("send buffer full")
	}
	f.frames = append(f.frames, b)
	return nil
}

func (f *fakeSignal) Ping() error { return nil }
func (f *fakeSignal) Close()      {}

func (f *fakeSignal) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.frames))
	for _, b := range f.frames {
		var m struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal(b, &m)
		out = append(out, m.Type)
	}
	return out
}

func (f *fakeSignal) last() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.frames) == 0 {
		return nil
	}
	var m map[string]any
	_ = json.Unmarshal(f.frames[len(f.frames)-1], &m)
	return m
}

func newTestSession(id string, uid *domain.UserID) (*core.Session, *fakeSignal) {
	sig := &fakeSignal{}
	return core.NewSession(core.SessionID(id), sig, uid), sig
}

type fakeBridge struct{ closed atomic.Int32 }

func (b *fakeBridge) Send([]byte) {}
func (b *fakeBridge) Close()      { b.closed.Add(1) }

type fakeBroadcast struct {
	peak    atomic.Int32
	stopped atomic.Int32
}

func (b *fakeBroadcast) ObserveListeners(n int) {
	if int32(n) > b.peak.Load() {
		b.peak.Store(int32(n))
	}
}
func (b *fakeBroadcast) Stop() { b.stopped.Add(1) }

type fakeMeter struct{ last *fakeBroadcast }

func (m *fakeMeter) Begin(*core.Session, domain.Room) BroadcastSession {
	m.last = &fakeBroadcast{}
	return m.last
}

type memRoomStore struct {
	mu    sync.Mutex
	rooms map[domain.RoomID]domain.Room
	fail  error
}

func newMemRoomStore() *memRoomStore {
	return &memRoomStore{rooms: make(map[domain.RoomID]domain.Room)}
}

func (s *memRoomStore) ListRooms(context.Context) ([]domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, r)
	}
	return out, nil
}

func (s *memRoomStore) CreateRoom(_ context.Context, r domain.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.rooms[r.ID] = r
	return nil
}

func (s *memRoomStore) UpdateRoom(_ context.Context, r domain.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[r.ID] = r
	return nil
}

func (s *memRoomStore) DeleteRoom(_ context.Context, id domain.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, id)
	return nil
}

func TestCreateEphemeralRoomValidation(t *testing.T) {
	t.Parallel()

	m := NewRoomManager(nil)
	room, err := m.CreateEphemeralRoom(RoomOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if room.Slug == "" || room.SourceLanguage != "en" || room.TargetLanguage != "es" {
		t.Fatalf("defaults not applied: %+v", room)
	}

	tests := []struct {
		name string
		opts RoomOptions
		want error
	}{
		{"bad slug", RoomOptions{Slug: "No Spaces!"}, domain.ErrInvalidSlug},
		{"short slug", RoomOptions{Slug: "ab"}, domain.ErrInvalidSlug},
		{"bad language", RoomOptions{SourceLanguage: "xx"}, domain.ErrInvalidLanguage},
		{"taken slug", RoomOptions{Slug: room.Slug}, domain.ErrSlugConflict},
	}
	for _, tt := range tests {
		if _, err := m.CreateEphemeralRoom(tt.opts); !errors.Is(err, tt.want) {
			t.Errorf("%s: got %v, want %v", tt.name, err, tt.want)
		}
	}
	if m.Count() != 1 {
		t.Fatalf("rejected creates must not register rooms, count=%d", m.Count())
	}
}

func TestSingleBroadcaster(t *testing.T) {
	t.Parallel()

	m := NewRoomManager(nil)
	room, _ := m.CreateEphemeralRoom(RoomOptions{Slug: "solo"})
	b1, _ := newTestSession("b1", nil)
	b2, _ := newTestSession("b2", nil)

	if _, err := m.AttachBroadcaster(string(room.ID), b1); err != nil {
		t.Fatalf("first broadcaster: %v", err)
	}
	if _, err := m.AttachBroadcaster("solo", b2); !errors.Is(err, domain.ErrBroadcasterExists) {
		t.Fatalf("second broadcaster: got %v", err)
	}
	if b2.Role() != domain.RoleNone {
		t.Fatal("rejected connection must keep no role")
	}
	st, _ := m.RoomStatus("solo")
	if !st.IsActive {
		t.Fatal("room should be active")
	}
	if _, err := m.AttachBroadcaster("missing", b2); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("missing room: got %v", err)
	}
}

func TestListenerCountAndBroadcastNotices(t *testing.T) {
	t.Parallel()

	meter := &fakeMeter{}
	m := NewRoomManager(nil)
	m.SetMeter(meter)
	room, _ := m.CreateEphemeralRoom(RoomOptions{Slug: "count"})

	l1, sig1 := newTestSession("l1", nil)
	if _, _, err := m.AttachListener(string(room.ID), l1, ""); err != nil {
		t.Fatalf("attach listener: %v", err)
	}
	if l1.Language() != room.TargetLanguage {
		t.Fatalf("listener language should default to room target, got %q", l1.Language())
	}

	uid := domain.UserID("owner")
	b, sigB := newTestSession("b", &uid)
	if _, err := m.AttachBroadcaster(string(room.ID), b); err != nil {
		t.Fatal(err)
	}
	l2, _ := newTestSession("l2", nil)
	st, _, _ := m.AttachListener(string(room.ID), l2, "fr")
	if st.ListenerCount != 2 {
		t.Fatalf("expected 2 listeners, got %d", st.ListenerCount)
	}
	if got := sigB.last(); got["type"] != "listener_count" || got["count"] != float64(2) {
		t.Fatalf("broadcaster should see count 2, got %v", got)
	}
	if meter.last == nil || meter.last.peak.Load() != 2 {
		t.Fatal("peak listeners not observed")
	}

	m.Detach(b)
	if meter.last.stopped.Load() != 1 {
		t.Fatal("broadcast session not stopped")
	}
	types := sig1.types()
	want := []string{"listener_count", "broadcast_started", "listener_count", "broadcast_ended"}
	if len(types) != len(want) {
		t.Fatalf("listener frames = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("listener frames = %v, want %v", types, want)
		}
	}
	// Anonymous broadcasters are not metered.
	anon, _ := newTestSession("anon", nil)
	meter.last = nil
	_, _ = m.AttachBroadcaster(string(room.ID), anon)
	if meter.last != nil {
		t.Fatal("anonymous broadcaster must not start a broadcast session")
	}
}

func TestEphemeralCleanup(t *testing.T) {
	t.Parallel()

	m := NewRoomManager(nil)
	room, _ := m.CreateEphemeralRoom(RoomOptions{Slug: "tmp"})
	b, _ := newTestSession("b", nil)
	l, _ := newTestSession("l", nil)
	_, _ = m.AttachBroadcaster("tmp", b)
	_, _, _ = m.AttachListener("tmp", l, "en")

	bridge := &fakeBridge{}
	if _, err := m.Bridge(room.ID, b, func(domain.Room) Bridge { return bridge }); err != nil {
		t.Fatal(err)
	}

	m.Detach(b)
	if bridge.closed.Load() != 1 {
		t.Fatal("bridge must close with its broadcaster")
	}
	if _, ok := m.Room("tmp"); !ok {
		t.Fatal("room with a listener must survive")
	}
	m.Detach(l)
	if _, ok := m.Room("tmp"); ok {
		t.Fatal("empty ephemeral room must be removed")
	}
	if l.RoomID() != "" || b.RoomID() != "" {
		t.Fatal("detached sessions must lose membership")
	}
	// Second detach is a no-op.
	m.Detach(b)
	if bridge.closed.Load() != 1 {
		t.Fatal("bridge closed twice")
	}
}

func TestPersistentRoomSurvivesEmptiness(t *testing.T) {
	t.Parallel()

	store := newMemRoomStore()
	m := NewRoomManager(store)
	owner := domain.UserID("owner")
	room, err := m.CreatePersistentRoom(context.Background(), RoomOptions{
		Name: "Sunday", Slug: "sunday", SourceLanguage: "es", TargetLanguage: "en", IsPublic: true, OwnerID: &owner,
	})
	if err != nil {
		t.Fatalf("create persistent: %v", err)
	}
	if _, ok := store.rooms[room.ID]; !ok {
		t.Fatal("room not written through")
	}

	b, _ := newTestSession("b", nil)
	_, _ = m.AttachBroadcaster("sunday", b)
	m.Detach(b)
	st, ok := m.RoomStatus("sunday")
	if !ok || st.IsActive {
		t.Fatalf("persistent room should remain inactive, got %+v ok=%v", st, ok)
	}
	if got := m.PublicRooms(); len(got) != 1 || got[0].Slug != "sunday" {
		t.Fatalf("public rooms = %+v", got)
	}

	fresh := NewRoomManager(store)
	if n, err := fresh.LoadPersistent(context.Background()); err != nil || n != 1 {
		t.Fatalf("reload = %d, %v", n, err)
	}
	if got := fresh.OwnerRooms(owner); len(got) != 1 || !got[0].IsPersistent {
		t.Fatalf("owner rooms after reload = %+v", got)
	}
}

func TestPersistentRoomStoreFailure(t *testing.T) {
	t.Parallel()

	store := newMemRoomStore()
	store.fail = domain.ErrSlugConflict
	m := NewRoomManager(store)
	owner := domain.UserID("o")
	if _, err := m.CreatePersistentRoom(context.Background(), RoomOptions{Slug: "dup", OwnerID: &owner}); !errors.Is(err, domain.ErrSlugConflict) {
		t.Fatalf("got %v", err)
	}
	if m.Count() != 0 {
		t.Fatal("failed write must not register the room")
	}
	store.fail = nil
	if _, err := m.CreatePersistentRoom(context.Background(), RoomOptions{Slug: "dup", OwnerID: &owner}); err != nil {
		t.Fatalf("slug reservation leaked: %v", err)
	}
}

func TestUpdateAndDeletePersistentRoom(t *testing.T) {
	t.Parallel()

	store := newMemRoomStore()
	m := NewRoomManager(store)
	owner := domain.UserID("owner")
	room, _ := m.CreatePersistentRoom(context.Background(), RoomOptions{Slug: "chapel", OwnerID: &owner})

	name, tgt := "Chapel", languages.Code("fr")
	if _, err := m.UpdatePersistentRoom(context.Background(), "chapel", "intruder", domain.RoomUpdate{Name: &name}); !errors.Is(err, domain.ErrNotOwner) {
		t.Fatalf("non-owner update: %v", err)
	}
	got, err := m.UpdatePersistentRoom(context.Background(), "chapel", owner, domain.RoomUpdate{Name: &name, TargetLanguage: &tgt})
	if err != nil || got.Name != "Chapel" || got.TargetLanguage != "fr" {
		t.Fatalf("update = %+v, %v", got, err)
	}
	bad := languages.Code("zz")
	if _, err := m.UpdatePersistentRoom(context.Background(), "chapel", owner, domain.RoomUpdate{SourceLanguage: &bad}); !errors.Is(err, domain.ErrInvalidLanguage) {
		t.Fatalf("bad language update: %v", err)
	}

	b, sigB := newTestSession("b", nil)
	l, sigL := newTestSession("l", nil)
	_, _ = m.AttachBroadcaster("chapel", b)
	_, _, _ = m.AttachListener("chapel", l, "fr")
	bridge := &fakeBridge{}
	_, _ = m.Bridge(room.ID, b, func(domain.Room) Bridge { return bridge })

	if err := m.DeletePersistentRoom(context.Background(), "chapel", owner); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := m.Room("chapel"); ok {
		t.Fatal("deleted room still registered")
	}
	if len(store.rooms) != 0 {
		t.Fatal("deleted room still stored")
	}
	if bridge.closed.Load() != 1 || l.RoomID() != "" || b.RoomID() != "" {
		t.Fatal("delete must close the bridge and clear members")
	}
	if sigL.last()["type"] != "broadcast_ended" {
		t.Fatalf("listener should be told the broadcast ended, got %v", sigL.last())
	}
	if got := sigB.last(); got["type"] != "broadcast_stopped" || got["reason"] != protocol.ReasonRoomDeleted {
		t.Fatalf("broadcaster should be told the room was deleted, got %v", got)
	}
}

func TestConcurrentUpdatesKeepEveryField(t *testing.T) {
	t.Parallel()

	store := newMemRoomStore()
	m := NewRoomManager(store)
	owner := domain.UserID("owner")
	room, _ := m.CreatePersistentRoom(context.Background(), RoomOptions{Slug: "hall", OwnerID: &owner})

	for i := 0; i < 50; i++ {
		name := fmt.Sprintf("Hall %d", i)
		public := i%2 == 0
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = m.UpdatePersistentRoom(context.Background(), "hall", owner, domain.RoomUpdate{Name: &name})
		}()
		go func() {
			defer wg.Done()
			_, _ = m.UpdatePersistentRoom(context.Background(), "hall", owner, domain.RoomUpdate{IsPublic: &public})
		}()
		wg.Wait()

		got, _ := m.Room("hall")
		if got.Name != name || got.IsPublic != public {
			t.Fatalf("round %d: memory = %q public=%v, want %q public=%v", i, got.Name, got.IsPublic, name, public)
		}
		store.mu.Lock()
		stored := store.rooms[room.ID]
		store.mu.Unlock()
		if stored.Name != name || stored.IsPublic != public {
			t.Fatalf("round %d: store = %q public=%v, want %q public=%v", i, stored.Name, stored.IsPublic, name, public)
		}
	}
}

func TestRoleChangeInPlace(t *testing.T) {
	t.Parallel()

	meter := &fakeMeter{}
	m := NewRoomManager(nil)
	m.SetMeter(meter)
	_, _ = m.CreateEphemeralRoom(RoomOptions{Slug: "swap"})
	uid := domain.UserID("u")
	a, sigA := newTestSession("a", &uid)
	other, sigO := newTestSession("other", nil)
	_, _, _ = m.AttachListener("swap", a, "fr")
	_, _, _ = m.AttachListener("swap", other, "fr")

	st, err := m.AttachBroadcaster("swap", a)
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if st.ListenerCount != 1 || !st.IsActive || a.Role() != domain.RoleBroadcaster {
		t.Fatalf("after promote = %+v role=%q", st, a.Role())
	}
	if got := sigO.last(); got["type"] != "listener_count" || got["count"] != float64(1) {
		t.Fatalf("remaining listener should see the count drop, got %v", got)
	}
	if got := sigA.last(); got["type"] != "listener_count" || got["count"] != float64(1) {
		t.Fatalf("promoted broadcaster should see the new count, got %v", got)
	}
	if _, err := m.AttachBroadcaster("swap", a); err != nil {
		t.Fatalf("broadcaster rejoin must succeed: %v", err)
	}
	if meter.last == nil {
		t.Fatal("promoted broadcaster must be metered")
	}
	firstSession := meter.last

	bridge := &fakeBridge{}
	_, _ = m.Bridge(st.ID, a, func(domain.Room) Bridge { return bridge })
	st, _, err = m.AttachListener("swap", a, "de")
	if err != nil {
		t.Fatalf("demote: %v", err)
	}
	if st.IsActive || st.ListenerCount != 2 || a.Role() != domain.RoleListener || a.Language() != "de" {
		t.Fatalf("after demote = %+v role=%q lang=%q", st, a.Role(), a.Language())
	}
	if bridge.closed.Load() != 1 || firstSession.stopped.Load() != 1 {
		t.Fatal("demote must close the bridge and stop metering")
	}
	types := sigO.types()
	if len(types) < 2 || types[len(types)-2] != "broadcast_ended" || types[len(types)-1] != "listener_count" {
		t.Fatalf("remaining listener frames = %v", types)
	}
}

func TestDeliverByLanguage(t *testing.T) {
	t.Parallel()

	m := NewRoomManager(nil)
	room, _ := m.CreateEphemeralRoom(RoomOptions{Slug: "multi"})
	sigs := map[string]*fakeSignal{}
	for id, lang := range map[string]languages.Code{"a1": "en", "b1": "fr", "a2": "en", "c1": "de"} {
		s, sig := newTestSession(id, nil)
		sigs[id] = sig
		_, _, _ = m.AttachListener("multi", s, lang)
	}
	langs := m.ListenerLanguages(room.ID)
	if len(langs) != 3 || langs[0] != "de" || langs[1] != "en" || langs[2] != "fr" {
		t.Fatalf("unique languages = %v", langs)
	}

	res := m.DeliverByLanguage(room.ID, map[languages.Code]protocol.Transcript{
		"en": {Translated: "hello", IsFinal: true},
		"fr": {Translated: "bonjour", IsFinal: true},
	})
	if res.SendTo != 3 {
		t.Fatalf("SendTo = %d, want 3", res.SendTo)
	}
	if sigs["a1"].last()["translated"] != "hello" || sigs["b1"].last()["translated"] != "bonjour" {
		t.Fatal("listener got a payload for another language")
	}
	if sigs["c1"].last()["type"] == "transcript" {
		t.Fatal("listener without payload must receive nothing")
	}

	sigs["a2"].full = true
	res = m.BroadcastToListeners(room.ID, protocol.Transcript{Source: "draft"})
	if len(res.Dropped) != 1 || res.Dropped[0].ID() != "a2" {
		t.Fatalf("dropped = %+v", res.Dropped)
	}
}

func TestScheduleInterimLastWins(t *testing.T) {
	t.Parallel()

	m := NewRoomManager(nil)
	room, _ := m.CreateEphemeralRoom(RoomOptions{Slug: "interim"})
	b, _ := newTestSession("b", nil)
	_, _ = m.AttachBroadcaster("interim", b)

	var (
		mu   sync.Mutex
		ran  []int
		done = make(chan struct{}, 5)
	)
	for i := 0; i < 5; i++ {
		i := i
		m.ScheduleInterim(room.ID, 20*time.Millisecond, func(ctx context.Context) {
			mu.Lock()
			ran = append(ran, i)
			mu.Unlock()
			done <- struct{}{}
		})
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("interim task never ran")
	}
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(ran) != 1 || ran[0] != 4 {
		t.Fatalf("ran = %v, want only the last task", ran)
	}
}

func TestDetachCancelsInterim(t *testing.T) {
	t.Parallel()

	m := NewRoomManager(nil)
	room, _ := m.CreateEphemeralRoom(RoomOptions{Slug: "cancel"})
	b, _ := newTestSession("b", nil)
	l, _ := newTestSession("l", nil)
	_, _ = m.AttachBroadcaster("cancel", b)
	_, _, _ = m.AttachListener("cancel", l, "en")

	var fired atomic.Bool
	m.ScheduleInterim(room.ID, 20*time.Millisecond, func(context.Context) { fired.Store(true) })
	m.Detach(b)
	time.Sleep(60 * time.Millisecond)
	if fired.Load() {
		t.Fatal("pending interim must be cancelled on broadcaster detach")
	}
}

func TestSequenceOrdersDeliveries(t *testing.T) {
	t.Parallel()

	m := NewRoomManager(nil)
	room, _ := m.CreateEphemeralRoom(RoomOptions{Slug: "seq"})

	prev1, done1 := m.Sequence(room.ID)
	prev2, done2 := m.Sequence(room.ID)
	select {
	case <-prev1:
	default:
		t.Fatal("first slot must not wait")
	}
	select {
	case <-prev2:
		t.Fatal("second slot must wait for the first")
	default:
	}
	done1()
	done1()
	select {
	case <-prev2:
	case <-time.After(time.Second):
		t.Fatal("second slot not released")
	}
	done2()
}
