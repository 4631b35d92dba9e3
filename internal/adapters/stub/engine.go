// Package stub provides deterministic engines for local runs without vendor keys.
package stub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Beacon/internal/core"
	"github.com/dkeye/Beacon/internal/languages"
)

var ErrStreamClosed = errors.New("stub stream closed")

type EngineConfig struct {
	// InterimEvery emits an interim after this many chunks.
	InterimEvery int
	// FinalEvery closes an utterance after this many chunks.
	FinalEvery int
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{InterimEvery: 10, FinalEvery: 50}
}

// Engine produces "utterance N" transcripts as audio chunks arrive.
type Engine struct {
	cfg EngineConfig
	now func() time.Time
}

func NewEngine(cfg EngineConfig) *Engine {
	if cfg.InterimEvery <= 0 {
		cfg.InterimEvery = DefaultEngineConfig().InterimEvery
	}
	if cfg.FinalEvery <= 0 {
		cfg.FinalEvery = DefaultEngineConfig().FinalEvery
	}
	return &Engine{cfg: cfg, now: time.Now}
}

func (e *Engine) Open(ctx context.Context, lang languages.Code, _ core.AudioFormat, h core.TranscriptHandler) (core.SpeechStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &stream{cfg: e.cfg, now: e.now, lang: lang, h: h}, nil
}

type stream struct {
	cfg  EngineConfig
	now  func() time.Time
	lang languages.Code
	h    core.TranscriptHandler

	mu        sync.Mutex
	closed    bool
	chunks    int
	utterance int
}

// Send reports transcripts synchronously, so events follow the caller's order.
func (s *stream) Send(chunk []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStreamClosed
	}
	s.chunks++
	var (
		ev   core.TranscriptEvent
		emit bool
	)
	switch {
	case s.chunks%s.cfg.FinalEvery == 0:
		s.utterance++
		ev = core.TranscriptEvent{Text: fmt.Sprintf("utterance %d (%s)", s.utterance, s.lang), IsFinal: true}
		emit = true
	case s.chunks%s.cfg.InterimEvery == 0:
		ev = core.TranscriptEvent{Text: fmt.Sprintf("utterance %d (%s)...", s.utterance+1, s.lang)}
		emit = true
	}
	s.mu.Unlock()

	if emit {
		ev.Timestamp = s.now().UnixMilli()
		s.h.OnTranscript(ev)
	}
	return nil
}

func (s *stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
