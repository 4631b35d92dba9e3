// Package fanout turns one transcript into per-language payloads.
package fanout

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"

	"github.com/dkeye/Beacon/internal/core"
	"github.com/dkeye/Beacon/internal/languages"
	"github.com/dkeye/Beacon/internal/protocol"
)

// ErrorMarker prefixes the source text when a translation failed or timed out.
const ErrorMarker = "[Translation Error] "

type Config struct {
	TranslateTimeout time.Duration
	SynthTimeout     time.Duration
	// EventTimeout bounds a whole final event. Languages still running when
	// it fires are delivered with what they have.
	EventTimeout time.Duration
	// MaxParallel caps concurrent language tasks; 0 means one per language.
	MaxParallel int
}

func DefaultConfig() Config {
	return Config{
		TranslateTimeout: 5 * time.Second,
		SynthTimeout:     5 * time.Second,
		EventTimeout:     8 * time.Second,
	}
}

type Fanout struct {
	translator core.Translator
	synth      core.Synthesizer
	cfg        Config
}

// New accepts a nil synth; payloads then carry no audio.
func New(translator core.Translator, synth core.Synthesizer, cfg Config) *Fanout {
	return &Fanout{translator: translator, synth: synth, cfg: cfg}
}

type result struct {
	translated string
	audio      []byte
	done       bool
}

// Final translates text into every target in parallel, synthesizes audio when
// a synthesizer is configured, and returns one payload per target. It always
// returns an entry for every target, within EventTimeout.
func (f *Fanout) Final(ctx context.Context, text string, source languages.Code, targets []languages.Code, ts int64) map[languages.Code]protocol.Transcript {
	return f.run(ctx, text, source, targets, ts, true)
}

// Interim translates without audio. Used by the debounced interim mode.
func (f *Fanout) Interim(ctx context.Context, text string, source languages.Code, targets []languages.Code, ts int64) map[languages.Code]protocol.Transcript {
	return f.run(ctx, text, source, targets, ts, false)
}

// Draft is the untranslated interim payload shared by every listener.
func Draft(text string, ts int64) protocol.Transcript {
	return protocol.Transcript{Source: text, Translated: text, IsFinal: false, Timestamp: ts}
}

func (f *Fanout) run(ctx context.Context, text string, source languages.Code, targets []languages.Code, ts int64, final bool) map[languages.Code]protocol.Transcript {
	out := make(map[languages.Code]protocol.Transcript, len(targets))
	if len(targets) == 0 {
		return out
	}

	evCtx := ctx
	if f.cfg.EventTimeout > 0 {
		var cancel context.CancelFunc
		evCtx, cancel = context.WithTimeout(ctx, f.cfg.EventTimeout)
		defer cancel()
	}

	var mu sync.Mutex
	results := make(map[languages.Code]*result, len(targets))
	for _, lang := range targets {
		results[lang] = &result{}
	}

	p := pool.New()
	if f.cfg.MaxParallel > 0 {
		p = p.WithMaxGoroutines(f.cfg.MaxParallel)
	}
	for _, lang := range targets {
		p.Go(func() {
			translated := f.translate(evCtx, text, source, lang)
			mu.Lock()
			results[lang].translated = translated
			mu.Unlock()

			var audio []byte
			if final {
				audio = f.synthesize(evCtx, translated, lang)
			}
			mu.Lock()
			results[lang].audio = audio
			results[lang].done = true
			mu.Unlock()
		})
	}

	finished := make(chan struct{})
	go func() {
		p.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-evCtx.Done():
		log.Warn().Str("module", "fanout").Int("languages", len(targets)).Msg("event timeout, delivering partial results")
	}

	mu.Lock()
	defer mu.Unlock()
	for lang, r := range results {
		translated := r.translated
		if translated == "" {
			translated = ErrorMarker + text
		}
		payload := protocol.Transcript{Source: text, Translated: translated, IsFinal: final, Timestamp: ts}
		if r.done {
			payload.Audio = r.audio
		}
		out[lang] = payload
	}
	return out
}

func (f *Fanout) translate(ctx context.Context, text string, source, target languages.Code) string {
	if source == target || f.translator == nil {
		return text
	}
	if f.cfg.TranslateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.TranslateTimeout)
		defer cancel()
	}
	translated, err := f.translator.Translate(ctx, text, source, target)
	if err != nil || translated == "" {
		log.Error().Err(err).Str("module", "fanout").Str("source", string(source)).Str("lang", string(target)).Msg("translate failed")
		return ErrorMarker + text
	}
	return translated
}

func (f *Fanout) synthesize(ctx context.Context, text string, lang languages.Code) []byte {
	if f.synth == nil || text == "" {
		return nil
	}
	if f.cfg.SynthTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.SynthTimeout)
		defer cancel()
	}
	audio, err := f.synth.Synthesize(ctx, text, lang)
	if err != nil {
		log.Warn().Err(err).Str("module", "fanout").Str("lang", string(lang)).Msg("synthesis failed, sending text only")
		return nil
	}
	return audio
}
