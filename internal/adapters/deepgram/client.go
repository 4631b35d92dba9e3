// Package deepgram streams audio to the Deepgram live transcription API.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Beacon/internal/core"
	"github.com/dkeye/Beacon/internal/languages"
)

const (
	keepAliveInterval = 8 * time.Second
	writeWait         = 5 * time.Second
)

type Config struct {
	APIKey string
	URL    string
	Model  string
}

type Engine struct {
	cfg    Config
	dialer *websocket.Dialer
}

func NewEngine(cfg Config) *Engine {
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	return &Engine{cfg: cfg, dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second}}
}

func (e *Engine) listenURL(lang languages.Code, f core.AudioFormat) (string, error) {
	u, err := url.Parse(e.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid deepgram url: %w", err)
	}
	q := u.Query()
	q.Set("model", e.cfg.Model)
	q.Set("language", languages.Lookup(lang).DeepgramCode)
	q.Set("encoding", f.Encoding)
	q.Set("sample_rate", strconv.Itoa(f.SampleRate))
	q.Set("channels", strconv.Itoa(f.Channels))
	q.Set("interim_results", "true")
	q.Set("smart_format", "true")
	q.Set("utterance_end_ms", "1000")
	q.Set("vad_events", "true")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (e *Engine) Open(ctx context.Context, lang languages.Code, f core.AudioFormat, h core.TranscriptHandler) (core.SpeechStream, error) {
	target, err := e.listenURL(lang, f)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("Authorization", "Token "+e.cfg.APIKey)

	conn, resp, err := e.dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("deepgram dial: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("deepgram dial: %w", err)
	}

	s := &stream{conn: conn, h: h, done: make(chan struct{})}
	go s.readLoop()
	go s.keepAlive()
	return s, nil
}

type stream struct {
	conn *websocket.Conn
	h    core.TranscriptHandler

	wmu     sync.Mutex
	once    sync.Once
	closing bool
	done    chan struct{}
}

type alternative struct {
	Transcript string `json:"transcript"`
}

type results struct {
	Type    string `json:"type"`
	Channel struct {
		Alternatives []alternative `json:"alternatives"`
	} `json:"channel"`
	IsFinal bool `json:"is_final"`
}

// readLoop is the only caller of the handler.
func (s *stream) readLoop() {
	defer close(s.done)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.wmu.Lock()
			closing := s.closing
			s.wmu.Unlock()
			switch {
			case closing:
			case websocket.IsCloseError(err, websocket.CloseNormalClosure):
				s.h.OnClose()
			default:
				s.h.OnError(err)
			}
			return
		}

		var msg results
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn().Err(err).Str("module", "deepgram").Msg("unparseable message")
			continue
		}
		if msg.Type != "Results" || len(msg.Channel.Alternatives) == 0 {
			continue
		}
		text := msg.Channel.Alternatives[0].Transcript
		if text == "" {
			continue
		}
		s.h.OnTranscript(core.TranscriptEvent{Text: text, IsFinal: msg.IsFinal, Timestamp: time.Now().UnixMilli()})
	}
}

func (s *stream) keepAlive() {
	t := time.NewTicker(keepAliveInterval)
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-t.C:
			if err := s.write(websocket.TextMessage, []byte(`{"type":"KeepAlive"}`)); err != nil {
				return
			}
		}
	}
}

var errClosed = errors.New("deepgram stream closed")

func (s *stream) write(kind int, data []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.closing {
		return errClosed
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(kind, data)
}

func (s *stream) Send(chunk []byte) error {
	return s.write(websocket.BinaryMessage, chunk)
}

// Close asks Deepgram to flush and hangs up.
func (s *stream) Close() error {
	var err error
	s.once.Do(func() {
		_ = s.write(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
		s.wmu.Lock()
		s.closing = true
		s.wmu.Unlock()
		err = s.conn.Close()
	})
	return err
}
