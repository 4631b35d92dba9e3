// Package liveness reaps connections that stopped answering pings.
package liveness

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Beacon/internal/core"
)

// Sessions lists the open connections to ping.
type Sessions interface {
	All() []*core.Session
}

// Reaper detaches and closes a dead connection.
type Reaper interface {
	Reap(sess *core.Session)
}

type Monitor struct {
	sessions Sessions
	reaper   Reaper
	interval time.Duration
}

func NewMonitor(sessions Sessions, reaper Reaper, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{sessions: sessions, reaper: reaper, interval: interval}
}

// Run sweeps every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	log.Info().Str("module", "liveness").Dur("interval", m.interval).Msg("heartbeat started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep reaps sessions that did not answer since the previous sweep and
// pings the rest. Pings run on their own goroutines so a stuck transport
// cannot hold up reaping. It returns the number reaped.
func (m *Monitor) Sweep() int {
	reaped := 0
	for _, sess := range m.sessions.All() {
		if !sess.TakeAlive() {
			log.Info().Str("module", "liveness").Str("sid", string(sess.ID())).Msg("no pong, reaping")
			m.reaper.Reap(sess)
			reaped++
			continue
		}
		go ping(sess)
	}
	return reaped
}

func ping(sess *core.Session) {
	if err := sess.Signal().Ping(); err != nil {
		log.Debug().Err(err).Str("module", "liveness").Str("sid", string(sess.ID())).Msg("ping failed")
	}
}
