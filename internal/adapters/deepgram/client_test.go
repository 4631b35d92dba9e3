package deepgram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dkeye/Beacon/internal/core"
)

type recorder struct {
	mu     sync.Mutex
	events []core.TranscriptEvent
	errs   int
	closed int
}

func (r *recorder) OnTranscript(ev core.TranscriptEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) OnError(error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs++
}

func (r *recorder) OnClose() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
}

func (r *recorder) snapshot() ([]core.TranscriptEvent, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.TranscriptEvent(nil), r.events...), r.errs, r.closed
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestStreamTranscripts(t *testing.T) {
	t.Parallel()

	gotAudio := make(chan []byte, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		q := r.URL.Query()
		if q.Get("language") != "es" || q.Get("encoding") != "linear16" || q.Get("sample_rate") != "16000" || q.Get("interim_results") != "true" {
			http.Error(w, "bad params", http.StatusBadRequest)
			return
		}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()

		kind, data, err := c.ReadMessage()
		if err != nil || kind != websocket.BinaryMessage {
			return
		}
		gotAudio <- data

		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"type":"Metadata"}`))
		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"Hola"}]}}`))
		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":""}]}}`))
		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"Hola a todos"}]}}`))
		_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		time.Sleep(50 * time.Millisecond)
	}))
	defer srv.Close()

	e := NewEngine(Config{APIKey: "secret", URL: "ws" + strings.TrimPrefix(srv.URL, "http")})
	rec := &recorder{}
	s, err := e.Open(context.Background(), "es", core.PCM16k, rec)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.Send([]byte{1, 2, 3}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case b := <-gotAudio:
		if len(b) != 3 {
			t.Fatalf("server got %v", b)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("audio never reached the server")
	}

	waitFor(t, func() bool { _, _, closed := rec.snapshot(); return closed == 1 })
	events, errs, _ := rec.snapshot()
	if errs != 0 {
		t.Fatalf("unexpected errors: %d", errs)
	}
	if len(events) != 2 || events[0].IsFinal || events[0].Text != "Hola" || !events[1].IsFinal || events[1].Text != "Hola a todos" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestDialRejected(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	e := NewEngine(Config{APIKey: "wrong", URL: "ws" + strings.TrimPrefix(srv.URL, "http")})
	if _, err := e.Open(context.Background(), "en", core.PCM16k, &recorder{}); err == nil {
		t.Fatal("expected dial error")
	}
}

func TestCloseIsQuiet(t *testing.T) {
	t.Parallel()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	rec := &recorder{}
	s, err := NewEngine(Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}).Open(context.Background(), "en", core.PCM16k, rec)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_ = s.Close()
	if err := s.Send([]byte{1}); err == nil {
		t.Fatal("send after close should fail")
	}
	<-s.(*stream).done
	if _, errs, closed := rec.snapshot(); errs != 0 || closed != 0 {
		t.Fatalf("local close must not report: errs=%d closed=%d", errs, closed)
	}
}
