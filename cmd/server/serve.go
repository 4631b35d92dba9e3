package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/Beacon/internal/adapters/deepgram"
	"github.com/dkeye/Beacon/internal/adapters/deepl"
	"github.com/dkeye/Beacon/internal/adapters/googletts"
	router "github.com/dkeye/Beacon/internal/adapters/http"
	"github.com/dkeye/Beacon/internal/adapters/signal"
	"github.com/dkeye/Beacon/internal/adapters/sqlite"
	"github.com/dkeye/Beacon/internal/adapters/stub"
	"github.com/dkeye/Beacon/internal/app"
	"github.com/dkeye/Beacon/internal/app/fanout"
	"github.com/dkeye/Beacon/internal/app/liveness"
	"github.com/dkeye/Beacon/internal/app/orch"
	"github.com/dkeye/Beacon/internal/app/usage"
	"github.com/dkeye/Beacon/internal/config"
	"github.com/dkeye/Beacon/internal/core"
)

// engines picks vendor adapters, degrading to stubs or passthrough when keys are missing.
func engines(cfg *config.Config) (core.SpeechEngine, core.Translator, core.Synthesizer) {
	if cfg.Engines == "stub" {
		log.Warn().Str("module", "main").Msg("using stub engines")
		return stub.NewEngine(stub.DefaultEngineConfig()), &stub.Translator{}, nil
	}

	var engine core.SpeechEngine
	if cfg.Deepgram.APIKey == "" {
		log.Warn().Str("module", "main").Msg("deepgram api key not configured, using stub speech engine")
		engine = stub.NewEngine(stub.DefaultEngineConfig())
	} else {
		engine = deepgram.NewEngine(deepgram.Config{
			APIKey: cfg.Deepgram.APIKey,
			URL:    cfg.Deepgram.URL,
			Model:  cfg.Deepgram.Model,
		})
	}

	translator := deepl.New(deepl.Config{APIKey: cfg.DeepL.APIKey, URL: cfg.DeepL.URL})

	var synth core.Synthesizer
	if cfg.GoogleTTS.APIKey != "" {
		synth = googletts.New(googletts.Config{APIKey: cfg.GoogleTTS.APIKey, URL: cfg.GoogleTTS.URL})
	} else {
		log.Warn().Str("module", "main").Msg("google tts not configured, transcripts carry no audio")
	}
	return engine, translator, synth
}

func (c *cli) serve(ctx context.Context) error {
	cfg := c.cfg

	store, err := sqlite.Open(ctx, cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	rooms := app.NewRoomManager(store)
	if _, err := rooms.LoadPersistent(ctx); err != nil {
		return err
	}

	engine, translator, synth := engines(cfg)
	fan := fanout.New(translator, synth, fanout.Config{
		TranslateTimeout: cfg.TranslateTimeout,
		SynthTimeout:     cfg.SynthTimeout,
		EventTimeout:     cfg.FanoutTimeout,
	})

	ocfg := orch.DefaultConfig()
	ocfg.InterimMode = orch.InterimMode(cfg.InterimMode)
	ocfg.InterimDebounce = cfg.InterimDebounce
	o := orch.New(app.NewRegistry(), rooms, engine, fan, ocfg)

	meter := usage.NewMeter(store, usage.Config{Interval: cfg.UsageInterval, LowWater: cfg.UsageLowWater})
	meter.SetHooks(o)
	rooms.SetMeter(meter)
	o.Quota = meter

	ctrl := signal.NewSignalWSController(o,
		signal.NewRoomRateLimiter(cfg.CreateRoomLimit, cfg.CreateRoomWindow),
		signal.Options{SendBuffer: cfg.SendBuffer, ReadLimit: cfg.ReadLimit},
	)

	g, gctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router.SetupRouter(gctx, cfg, o, ctrl, store),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("Beacon server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return liveness.NewMonitor(o.Registry, o, cfg.HeartbeatInterval).Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, sess := range o.Registry.All() {
			o.Kick(sess)
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("Server exited gracefully")
	return nil
}
