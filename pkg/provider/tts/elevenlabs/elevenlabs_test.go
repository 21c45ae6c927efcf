package elevenlabs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/emberworks/ember/pkg/provider/tts"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty apiKey")
	}
	p, err := New("key", WithModel("eleven_turbo_v2"), WithOutputFormat("pcm_24000"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != "eleven_turbo_v2" || p.outputFormat != "pcm_24000" {
		t.Fatal("options not applied")
	}
}

func TestSynthesizeStreamsAudio(t *testing.T) {
	t.Parallel()

	payload := []byte("fake-pcm-audio-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/v1/text-to-speech/voice-1/stream") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.Header.Get("xi-api-key") != "key" {
			t.Error("missing api key header")
		}
		var req synthesisRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if req.Text != "hello chat" {
			t.Errorf("text = %q", req.Text)
		}
		w.Write(payload)
	}))
	defer srv.Close()

	p, err := New("key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ch, err := p.Synthesize(context.Background(), "hello chat", tts.VoiceProfile{ID: "voice-1"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	var got []byte
	for chunk := range ch {
		got = append(got, chunk...)
	}
	if string(got) != string(payload) {
		t.Fatalf("audio = %q, want %q", got, payload)
	}
}

func TestSynthesizeValidation(t *testing.T) {
	t.Parallel()

	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Synthesize(context.Background(), "hi", tts.VoiceProfile{}); err == nil {
		t.Fatal("expected error for empty voice ID")
	}
	if _, err := p.Synthesize(context.Background(), "", tts.VoiceProfile{ID: "v"}); err == nil {
		t.Fatal("expected error for empty text")
	}
}

func TestSynthesizeServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad voice", http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, err := New("key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Synthesize(context.Background(), "hi", tts.VoiceProfile{ID: "v"}); err == nil {
		t.Fatal("expected error from failing server")
	}
}

func TestSynthesizeCancelledContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		flusher, _ := w.(http.Flusher)
		w.Write([]byte("chunk"))
		if flusher != nil {
			flusher.Flush()
		}
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte("chunk"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	p, err := New("key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ch, err := p.Synthesize(ctx, "hi", tts.VoiceProfile{ID: "v"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	cancel()

	// The channel must close after cancellation; drain with a deadline.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("audio channel not closed after context cancellation")
		}
	}
}
