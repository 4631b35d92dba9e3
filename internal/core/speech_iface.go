package core

import (
	"context"

	"github.com/dkeye/Beacon/internal/languages"
)

// AudioFormat describes the raw audio a broadcaster sends.
type AudioFormat struct {
	Encoding   string // "linear16", "opus"
	SampleRate int
	Channels   int
}

var (
	// PCM16k is what the browser capture worklet produces over binary frames.
	PCM16k = AudioFormat{Encoding: "linear16", SampleRate: 16000, Channels: 1}
	// Opus48k is what a WebRTC audio track carries.
	Opus48k = AudioFormat{Encoding: "opus", SampleRate: 48000, Channels: 1}
)

type TranscriptEvent struct {
	Text      string
	IsFinal   bool
	Timestamp int64 // unix millis
}

// TranscriptHandler receives engine callbacks. Engines must call it from a
// single goroutine per stream so events for a room stay ordered.
type TranscriptHandler interface {
	OnTranscript(TranscriptEvent)
	OnError(error)
	OnClose()
}

// SpeechStream is one open streaming session with the STT engine.
type SpeechStream interface {
	Send(chunk []byte) error
	Close() error
}

type SpeechEngine interface {
	Open(ctx context.Context, lang languages.Code, format AudioFormat, h TranscriptHandler) (SpeechStream, error)
}

type Translator interface {
	// Translate must return text unchanged, without a network call, when
	// source equals target.
	Translate(ctx context.Context, text string, source, target languages.Code) (string, error)
}

// Synthesizer may return nil audio with a nil error when nothing was produced.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, lang languages.Code) ([]byte, error)
}
