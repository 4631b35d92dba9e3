package googletts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSynthesize(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "k" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.Voice.LanguageCode != "fr-FR" || req.AudioConfig.AudioEncoding != "MP3" || req.Input.Text != "Bonjour" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"audioContent": base64.StdEncoding.EncodeToString([]byte("mp3"))})
	}))
	defer srv.Close()

	s := New(Config{APIKey: "k", URL: srv.URL})
	audio, err := s.Synthesize(context.Background(), "Bonjour", "fr")
	if err != nil || string(audio) != "mp3" {
		t.Fatalf("Synthesize = %q, %v", audio, err)
	}

	audio, err = s.Synthesize(context.Background(), "", "fr")
	if err != nil || audio != nil {
		t.Fatalf("empty text = %q, %v", audio, err)
	}
}

func TestSynthesizeError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := New(Config{APIKey: "k", URL: srv.URL}).Synthesize(context.Background(), "hi", "en"); err == nil {
		t.Fatal("expected error")
	}
}
