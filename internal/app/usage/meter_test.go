package usage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/Beacon/internal/core"
	"github.com/dkeye/Beacon/internal/domain"
)

type fakeUsageStore struct {
	mu      sync.Mutex
	quota   *domain.Quota
	incs    int
	started []domain.BroadcastLog
	ended   map[string]int
	peaks   map[string]int
}

func newFakeUsageStore(perMonth, used int) *fakeUsageStore {
	return &fakeUsageStore{
		quota: &domain.Quota{UserID: "u1", Plan: domain.Plan{ID: "starter", MinutesPerMonth: perMonth}, MinutesUsed: used},
		ended: make(map[string]int),
		peaks: make(map[string]int),
	}
}

func (s *fakeUsageStore) CurrentQuota(_ context.Context, _ domain.UserID) (domain.Quota, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.quota == nil {
		return domain.Quota{}, domain.ErrNoActivePlan
	}
	return *s.quota, nil
}

func (s *fakeUsageStore) IncrementUsage(_ context.Context, _ domain.UserID, minutes int) (domain.Quota, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.quota == nil {
		return domain.Quota{}, domain.ErrNoActivePlan
	}
	s.incs++
	s.quota.MinutesUsed += minutes
	return *s.quota, nil
}

func (s *fakeUsageStore) StartBroadcast(_ context.Context, l domain.BroadcastLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, l)
	return nil
}

func (s *fakeUsageStore) UpdatePeakListeners(_ context.Context, id string, peak int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peaks[id] = peak
	return nil
}

func (s *fakeUsageStore) EndBroadcast(_ context.Context, id string, _ time.Time, peak int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.ended[id]; dup {
		return errors.New("ended twice")
	}
	s.ended[id] = peak
	return nil
}

func (s *fakeUsageStore) increments() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.incs
}

type recordingHooks struct {
	warnings  atomic.Int32
	remaining atomic.Int32
	exhausted atomic.Int32
	onStop    func(*core.Session)
}

func (h *recordingHooks) QuotaWarning(_ *core.Session, n int) {
	h.warnings.Add(1)
	h.remaining.Store(int32(n))
}

func (h *recordingHooks) QuotaExhausted(sess *core.Session) {
	h.exhausted.Add(1)
	if h.onStop != nil {
		h.onStop(sess)
	}
}

type nopSignal struct{}

func (nopSignal) TrySend(core.Frame) error { return nil }
func (nopSignal) Ping() error              { return nil }
func (nopSignal) Close()                   {}

func broadcaster() *core.Session {
	uid := domain.UserID("u1")
	return core.NewSession("b1", nopSignal{}, &uid)
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("meter session did not finish")
	}
}

func TestCheck(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		store *fakeUsageStore
		want  error
	}{
		{"ok", newFakeUsageStore(480, 10), nil},
		{"exhausted", newFakeUsageStore(480, 480), domain.ErrQuotaExceeded},
		{"no plan", &fakeUsageStore{}, domain.ErrNoActivePlan},
	}
	for _, tt := range tests {
		m := NewMeter(tt.store, DefaultConfig())
		if _, err := m.Check(context.Background(), "u1"); !errors.Is(err, tt.want) {
			t.Errorf("%s: got %v, want %v", tt.name, err, tt.want)
		}
	}
}

func TestMeterWarnsThenStops(t *testing.T) {
	t.Parallel()

	store := newFakeUsageStore(10, 6)
	m := NewMeter(store, Config{Interval: 10 * time.Millisecond, LowWater: 5})
	hooks := &recordingHooks{}
	m.SetHooks(hooks)

	s := m.Begin(broadcaster(), domain.Room{ID: "r1"}).(*Session)
	s.ObserveListeners(3)
	s.ObserveListeners(1)
	waitDone(t, s)

	if store.increments() != 4 {
		t.Fatalf("increments = %d, want 4", store.increments())
	}
	if hooks.warnings.Load() != 3 || hooks.remaining.Load() != 1 {
		t.Fatalf("warnings = %d remaining = %d", hooks.warnings.Load(), hooks.remaining.Load())
	}
	if hooks.exhausted.Load() != 1 || s.State() != Stopped {
		t.Fatalf("exhausted = %d state = %v", hooks.exhausted.Load(), s.State())
	}
	if store.ended[s.ID()] != 3 {
		t.Fatalf("peak persisted = %d, want 3", store.ended[s.ID()])
	}
	if len(store.started) != 1 || store.started[0].RoomID != "r1" {
		t.Fatalf("start records = %+v", store.started)
	}
}

func TestMeterStopIdempotent(t *testing.T) {
	t.Parallel()

	store := newFakeUsageStore(1, 0)
	m := NewMeter(store, Config{Interval: 10 * time.Millisecond, LowWater: 0})
	hooks := &recordingHooks{}
	var s *Session
	// The exhausted hook races a voluntary stop, the way a detach would.
	hooks.onStop = func(*core.Session) { s.Stop() }
	m.SetHooks(hooks)

	s = m.Begin(broadcaster(), domain.Room{ID: "r1"}).(*Session)
	go s.Stop()
	s.Stop()
	waitDone(t, s)
	s.Stop()

	if n := store.increments(); n > 1 {
		t.Fatalf("usage incremented %d times", n)
	}
	if hooks.exhausted.Load() > 1 {
		t.Fatal("exhausted hook fired more than once")
	}
	if len(store.ended) != 1 {
		t.Fatalf("end records = %d, want 1", len(store.ended))
	}
}

func TestAnonymousNotMetered(t *testing.T) {
	t.Parallel()

	store := newFakeUsageStore(10, 0)
	m := NewMeter(store, DefaultConfig())
	bs := m.Begin(core.NewSession("anon", nopSignal{}, nil), domain.Room{ID: "r1"})
	bs.ObserveListeners(5)
	bs.Stop()
	if len(store.started) != 0 {
		t.Fatal("anonymous broadcast must not be recorded")
	}
}
