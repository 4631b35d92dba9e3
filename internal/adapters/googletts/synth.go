// Package googletts implements core.Synthesizer over Google Cloud Text-to-Speech.
package googletts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/dkeye/Beacon/internal/languages"
)

type Config struct {
	APIKey string
	URL    string
}

type Synthesizer struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config) *Synthesizer {
	return &Synthesizer{cfg: cfg, client: &http.Client{Timeout: 10 * time.Second}}
}

type input struct {
	Text string `json:"text"`
}

type voice struct {
	LanguageCode string `json:"languageCode"`
	Name         string `json:"name"`
}

type audioConfig struct {
	AudioEncoding string  `json:"audioEncoding"`
	SpeakingRate  float64 `json:"speakingRate"`
	Pitch         float64 `json:"pitch"`
}

type request struct {
	Input       input       `json:"input"`
	Voice       voice       `json:"voice"`
	AudioConfig audioConfig `json:"audioConfig"`
}

// Synthesize returns MP3 bytes for text in lang's configured voice.
func (s *Synthesizer) Synthesize(ctx context.Context, text string, lang languages.Code) ([]byte, error) {
	if text == "" {
		return nil, nil
	}
	lc := languages.Lookup(lang)
	body, err := json.Marshal(request{
		Input:       input{Text: text},
		Voice:       voice{LanguageCode: lc.TTSLocale, Name: lc.TTSVoice},
		AudioConfig: audioConfig{AudioEncoding: "MP3", SpeakingRate: 1.0},
	})
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(s.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid tts url: %w", err)
	}
	q := u.Query()
	q.Set("key", s.cfg.APIKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("tts: %s: %s", resp.Status, bytes.TrimSpace(msg))
	}

	var out struct {
		AudioContent string `json:"audioContent"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode tts response: %w", err)
	}
	if out.AudioContent == "" {
		return nil, nil
	}
	audio, err := base64.StdEncoding.DecodeString(out.AudioContent)
	if err != nil {
		return nil, fmt.Errorf("decode tts audio: %w", err)
	}
	return audio, nil
}
