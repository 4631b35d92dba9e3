// Package deepl implements core.Translator over the DeepL REST API.
package deepl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Beacon/internal/languages"
)

type Config struct {
	APIKey string
	URL    string
}

type Translator struct {
	cfg    Config
	client *http.Client
}

// New returns a translator that tags text with its source language instead of
// calling DeepL when no API key is configured.
func New(cfg Config) *Translator {
	if cfg.APIKey == "" {
		log.Warn().Str("module", "deepl").Msg("no api key, translations are passed through")
	}
	return &Translator{cfg: cfg, client: &http.Client{Timeout: 10 * time.Second}}
}

func (t *Translator) Configured() bool { return t.cfg.APIKey != "" }

type request struct {
	Text       []string `json:"text"`
	SourceLang string   `json:"source_lang"`
	TargetLang string   `json:"target_lang"`
}

type response struct {
	Translations []struct {
		Text string `json:"text"`
	} `json:"translations"`
}

func (t *Translator) Translate(ctx context.Context, text string, source, target languages.Code) (string, error) {
	if source == target || strings.TrimSpace(text) == "" {
		return text, nil
	}
	if !t.Configured() {
		return "[" + strings.ToUpper(string(source)) + "] " + text, nil
	}

	body, err := json.Marshal(request{
		Text:       []string{text},
		SourceLang: languages.Lookup(source).DeepLSourceCode,
		TargetLang: languages.Lookup(target).DeepLTargetCode,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build deepl request: %w", err)
	}
	req.Header.Set("Authorization", "DeepL-Auth-Key "+t.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("deepl request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("deepl: %s: %s", resp.Status, bytes.TrimSpace(msg))
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode deepl response: %w", err)
	}
	if len(out.Translations) == 0 {
		return "", fmt.Errorf("deepl: empty response")
	}
	return out.Translations[0].Text, nil
}
