// Package usage meters identity-bearing broadcasts against plan quotas.
package usage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Beacon/internal/app"
	"github.com/dkeye/Beacon/internal/core"
	"github.com/dkeye/Beacon/internal/domain"
)

// Hooks receive quota transitions for the broadcaster.
type Hooks interface {
	QuotaWarning(sess *core.Session, minutesRemaining int)
	QuotaExhausted(sess *core.Session)
}

type Config struct {
	Interval time.Duration
	LowWater int
	// StoreTimeout bounds each store call made by a session.
	StoreTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{Interval: time.Minute, LowWater: 5, StoreTimeout: 5 * time.Second}
}

type Meter struct {
	store core.UsageStore
	cfg   Config

	mu    sync.RWMutex
	hooks Hooks

	now func() time.Time
}

func NewMeter(store core.UsageStore, cfg Config) *Meter {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	return &Meter{store: store, cfg: cfg, now: time.Now}
}

func (m *Meter) SetHooks(h Hooks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = h
}

func (m *Meter) getHooks() Hooks {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hooks
}

// Check is the pre-attach gate: ErrNoActivePlan without a subscription,
// ErrQuotaExceeded when the period's minutes are spent.
func (m *Meter) Check(ctx context.Context, uid domain.UserID) (domain.Quota, error) {
	q, err := m.store.CurrentQuota(ctx, uid)
	if err != nil {
		return domain.Quota{}, err
	}
	if q.Exhausted() {
		return q, domain.ErrQuotaExceeded
	}
	return q, nil
}

// Begin starts metering sess. It returns at once; the store is touched from
// the session goroutine only.
func (m *Meter) Begin(sess *core.Session, room domain.Room) app.BroadcastSession {
	uid := sess.UserID()
	if uid == nil {
		return noopSession{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		meter:  m,
		sess:   sess,
		cancel: cancel,
		done:   make(chan struct{}),
		record: domain.BroadcastLog{
			ID:             ulid.Make().String(),
			RoomID:         room.ID,
			UserID:         *uid,
			StartedAt:      m.now().UTC(),
			SourceLanguage: room.SourceLanguage,
			TargetLanguage: room.TargetLanguage,
		},
	}
	go s.run(ctx)
	return s
}

type State int32

const (
	Running State = iota
	Warning
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Warning:
		return "warning"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Session is one metered broadcast interval.
type Session struct {
	meter  *Meter
	sess   *core.Session
	record domain.BroadcastLog

	state  atomic.Int32
	peak   atomic.Int64
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *Session) ID() string            { return s.record.ID }
func (s *Session) State() State          { return State(s.state.Load()) }
func (s *Session) Peak() int             { return int(s.peak.Load()) }
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) ObserveListeners(n int) {
	for {
		cur := s.peak.Load()
		if int64(n) <= cur || s.peak.CompareAndSwap(cur, int64(n)) {
			return
		}
	}
}

// Stop ends metering. It only cancels; the goroutine writes the end record.
func (s *Session) Stop() { s.cancel() }

func (s *Session) storeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.meter.cfg.StoreTimeout)
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	lg := log.With().Str("module", "usage").Str("broadcast", s.record.ID).
		Str("user", string(s.record.UserID)).Str("room", string(s.record.RoomID)).Logger()

	sctx, cancel := s.storeCtx()
	err := s.meter.store.StartBroadcast(sctx, s.record)
	cancel()
	if err != nil {
		lg.Error().Err(err).Msg("start broadcast record")
	}
	defer s.finish(lg)

	ticker := time.NewTicker(s.meter.cfg.Interval)
	defer ticker.Stop()
	var lastPeak int
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		sctx, cancel := s.storeCtx()
		q, err := s.meter.store.IncrementUsage(sctx, s.record.UserID, 1)
		if peak := s.Peak(); err == nil && peak != lastPeak {
			if perr := s.meter.store.UpdatePeakListeners(sctx, s.record.ID, peak); perr == nil {
				lastPeak = peak
			}
		}
		cancel()
		if err != nil {
			if errors.Is(err, domain.ErrNoActivePlan) {
				q = domain.Quota{}
			} else {
				lg.Error().Err(err).Msg("increment usage")
				continue
			}
		}
		if ctx.Err() != nil {
			return
		}

		hooks := s.meter.getHooks()
		switch {
		case q.Exhausted():
			s.state.Store(int32(Stopped))
			lg.Info().Int("used", q.MinutesUsed).Msg("quota exhausted, stopping broadcast")
			if hooks != nil {
				hooks.QuotaExhausted(s.sess)
			}
			return
		case q.Remaining() <= s.meter.cfg.LowWater:
			s.state.Store(int32(Warning))
			if hooks != nil {
				hooks.QuotaWarning(s.sess, q.Remaining())
			}
		}
	}
}

func (s *Session) finish(lg zerolog.Logger) {
	ended := s.meter.now().UTC()
	sctx, cancel := s.storeCtx()
	defer cancel()
	if err := s.meter.store.EndBroadcast(sctx, s.record.ID, ended, s.Peak()); err != nil {
		lg.Error().Err(err).Msg("end broadcast record")
		return
	}
	lg.Info().Dur("duration", ended.Sub(s.record.StartedAt)).Int("peak", s.Peak()).Msg("broadcast metered")
}

type noopSession struct{}

func (noopSession) ObserveListeners(int) {}
func (noopSession) Stop()                {}
