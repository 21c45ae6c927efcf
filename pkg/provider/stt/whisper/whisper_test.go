package whisper

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/emberworks/ember/pkg/provider/stt"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty serverURL")
	}
	p, err := New("http://localhost:8080/", WithLanguage("de"), WithSilenceThresholdMs(250))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.serverURL != "http://localhost:8080" {
		t.Fatalf("serverURL not trimmed: %q", p.serverURL)
	}
	if p.language != "de" || p.silenceThresholdMs != 250 {
		t.Fatal("options not applied")
	}
}

func TestProviderInference(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/inference" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("missing file field: %v", err)
		}
		if lang := r.FormValue("language"); lang != "en" {
			t.Errorf("language = %q, want en", lang)
		}
		json.NewEncoder(w).Encode(map[string]string{"text": "  testing one two  "})
	}))
	defer srv.Close()

	p, err := New(srv.URL, WithSilenceThresholdMs(100))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sess, err := p.StartStream(context.Background(), stt.StreamConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer sess.Close()

	if err := sess.SendAudio(pcmChunk(200, 8000)); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	for range 10 {
		if err := sess.SendAudio(pcmChunk(20, 0)); err != nil {
			t.Fatalf("SendAudio: %v", err)
		}
	}

	final := waitFinal(t, sess.Finals())
	if final.Text != "testing one two" {
		t.Fatalf("text = %q, want trimmed server response", final.Text)
	}
}

func TestProviderServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.infer(pcmChunk(100, 8000), 16000, 1, "en"); err == nil {
		t.Fatal("expected error from failing server")
	}
}

func TestStartStreamCancelledContext(t *testing.T) {
	t.Parallel()

	p, err := New("http://localhost:9")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.StartStream(ctx, stt.StreamConfig{}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
