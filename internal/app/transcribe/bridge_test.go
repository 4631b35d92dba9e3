package transcribe

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Beacon/internal/core"
	"github.com/dkeye/Beacon/internal/domain"
	"github.com/dkeye/Beacon/internal/languages"
)

type fakeStream struct {
	mu     sync.Mutex
	chunks [][]byte
	closed int
}

func (s *fakeStream) Send(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, chunk)
	return nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeStream) count() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks), s.closed
}

type fakeEngine struct {
	stream  *fakeStream
	err     error
	handler chan core.TranscriptHandler
	lang    languages.Code
}

func (e *fakeEngine) Open(_ context.Context, lang languages.Code, _ core.AudioFormat, h core.TranscriptHandler) (core.SpeechStream, error) {
	e.lang = lang
	if e.err != nil {
		return nil, e.err
	}
	e.handler <- h
	return e.stream, nil
}

type recorder struct {
	mu     sync.Mutex
	events []core.TranscriptEvent
	lost   chan error
}

func (r *recorder) OnTranscript(_ domain.RoomID, ev core.TranscriptEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) OnBridgeLost(_ domain.RoomID, _ *Bridge, err error) { r.lost <- err }

func testRoom() domain.Room {
	return domain.Room{ID: "r1", SourceLanguage: "es", TargetLanguage: "en"}
}

func TestBridgeForwardsAudioAndEvents(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{stream: &fakeStream{}, handler: make(chan core.TranscriptHandler, 1)}
	rec := &recorder{lost: make(chan error, 1)}
	b := Open(eng, testRoom(), core.PCM16k, rec, 8)

	b.Send([]byte{1, 2})
	b.Send([]byte{3, 4})
	h := <-eng.handler
	if eng.lang != "es" {
		t.Fatalf("engine opened with %q, want source language", eng.lang)
	}
	h.OnTranscript(core.TranscriptEvent{Text: "hola", IsFinal: true})
	h.OnTranscript(core.TranscriptEvent{Text: ""})

	deadline := time.Now().Add(time.Second)
	for {
		if n, _ := eng.stream.count(); n == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("audio not forwarded")
		}
		time.Sleep(5 * time.Millisecond)
	}
	rec.mu.Lock()
	if len(rec.events) != 1 || rec.events[0].Text != "hola" {
		t.Fatalf("events = %+v", rec.events)
	}
	rec.mu.Unlock()

	b.Close()
	b.Close()
	<-b.Done()
	if _, closed := eng.stream.count(); closed != 1 {
		t.Fatalf("stream closed %d times", closed)
	}
	select {
	case err := <-rec.lost:
		t.Fatalf("Close must not report a lost bridge, got %v", err)
	default:
	}
	h.OnTranscript(core.TranscriptEvent{Text: "late"})
	if len(rec.events) != 1 {
		t.Fatal("events after close must be dropped")
	}
}

func TestBridgeReportsEngineFailure(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{err: errors.New("dial refused"), handler: make(chan core.TranscriptHandler, 1)}
	rec := &recorder{lost: make(chan error, 1)}
	b := Open(eng, testRoom(), core.PCM16k, rec, 8)

	select {
	case err := <-rec.lost:
		if err == nil {
			t.Fatal("expected the open error")
		}
	case <-time.After(time.Second):
		t.Fatal("lost bridge not reported")
	}
	<-b.Done()
	b.Send([]byte{1})
}

func TestBridgeEngineError(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{stream: &fakeStream{}, handler: make(chan core.TranscriptHandler, 1)}
	rec := &recorder{lost: make(chan error, 2)}
	b := Open(eng, testRoom(), core.PCM16k, rec, 8)
	h := <-eng.handler
	h.OnError(errors.New("socket reset"))
	h.OnClose()

	err := <-rec.lost
	if !domain.IsUpstream(err) {
		t.Fatalf("engine errors should be upstream errors, got %v", err)
	}
	<-b.Done()
	if len(rec.lost) != 0 {
		t.Fatal("lost reported twice")
	}
}
