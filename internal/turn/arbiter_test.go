package turn

import (
	"sync"
	"testing"
	"time"
)

type release struct {
	req Request
	tok Token
}

// newTestArbiter returns an arbiter whose sink forwards releases to the
// returned channel. The channel is buffered so releases never block.
func newTestArbiter(t *testing.T, cfg Config, opts ...Option) (*Arbiter, chan release) {
	t.Helper()
	releases := make(chan release, 32)
	a, err := New(cfg, func(req Request, tok Token) {
		releases <- release{req, tok}
	}, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, releases
}

func awaitRelease(t *testing.T, releases <-chan release) release {
	t.Helper()
	select {
	case r := <-releases:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for turn release")
		return release{}
	}
}

func assertNoRelease(t *testing.T, releases <-chan release) {
	t.Helper()
	select {
	case r := <-releases:
		t.Fatalf("unexpected release: %+v", r.req)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}, nil); err == nil {
		t.Fatal("expected error for nil sink")
	}
}

func TestSubmitValidation(t *testing.T) {
	t.Parallel()

	a, _ := newTestArbiter(t, Config{})
	if err := a.Submit(Request{Origin: "carrier-pigeon", Content: "hi"}); err == nil {
		t.Fatal("expected error for unknown origin")
	}
	if err := a.Submit(Request{Origin: OriginVoice}); err == nil {
		t.Fatal("expected error for empty content")
	}
}

func TestSubmitReleasesWhenIdle(t *testing.T) {
	t.Parallel()

	a, releases := newTestArbiter(t, Config{})
	if err := a.Submit(FromVoice("hello there")); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	r := awaitRelease(t, releases)
	if r.req.Origin != OriginVoice || r.req.Content != "hello there" {
		t.Fatalf("released %+v", r.req)
	}
	if cur, busy := a.Current(); !busy || cur.Origin != OriginVoice {
		t.Fatalf("Current = %+v busy=%v", cur, busy)
	}
}

func TestSingleActiveTurn(t *testing.T) {
	t.Parallel()

	a, releases := newTestArbiter(t, Config{})
	a.Submit(FromVoice("first"))
	first := awaitRelease(t, releases)

	a.Submit(FromVoice("second"))
	assertNoRelease(t, releases)

	a.Complete(first.tok)
	second := awaitRelease(t, releases)
	if second.req.Content != "second" {
		t.Fatalf("second release = %q", second.req.Content)
	}
}

func TestSameOriginFIFO(t *testing.T) {
	t.Parallel()

	a, releases := newTestArbiter(t, Config{})
	for _, msg := range []string{"one", "two", "three"} {
		a.Submit(FromChat("viewer", msg))
	}

	for _, want := range []string{"one", "two", "three"} {
		r := awaitRelease(t, releases)
		if r.req.Content != want {
			t.Fatalf("got %q, want %q", r.req.Content, want)
		}
		a.Complete(r.tok)
	}
}

func TestVoicePriorityOverChat(t *testing.T) {
	t.Parallel()

	a, releases := newTestArbiter(t, Config{})
	a.Submit(FromVoice("occupying turn"))
	active := awaitRelease(t, releases)

	// Chat arrives before voice, but voice jumps the line.
	a.Submit(FromChat("viewer", "chat question"))
	a.Submit(FromVoice("voice question"))

	a.Complete(active.tok)
	next := awaitRelease(t, releases)
	if next.req.Origin != OriginVoice {
		t.Fatalf("next origin = %q, want voice", next.req.Origin)
	}
}

func TestChatTurnKeepsPipelineBusy(t *testing.T) {
	t.Parallel()

	// An active chat turn is never preempted by an arriving voice request.
	a, releases := newTestArbiter(t, Config{})
	a.Submit(FromChat("viewer", "chat first"))
	chatTurn := awaitRelease(t, releases)

	a.Submit(FromVoice("voice arrives late"))
	assertNoRelease(t, releases)

	a.Complete(chatTurn.tok)
	if r := awaitRelease(t, releases); r.req.Origin != OriginVoice {
		t.Fatalf("next origin = %q, want voice", r.req.Origin)
	}
}

func TestFairnessAfterVoice(t *testing.T) {
	t.Parallel()

	a, releases := newTestArbiter(t, Config{FairnessAfterVoice: 2})
	a.Submit(FromVoice("v0"))
	r := awaitRelease(t, releases)

	// Queue contenders while v0 holds the pipeline.
	a.Submit(FromVoice("v1"))
	a.Submit(FromVoice("v2"))
	a.Submit(FromVoice("v3"))
	a.Submit(FromChat("viewer", "c1"))

	// Two voice turns pass, then the waiting chat is served, then voice
	// resumes.
	want := []string{"v1", "v2", "c1", "v3"}
	for _, expected := range want {
		a.Complete(r.tok)
		r = awaitRelease(t, releases)
		if r.req.Content != expected {
			t.Fatalf("got %q, want %q", r.req.Content, expected)
		}
	}
}

func TestWatchdogForcesRelease(t *testing.T) {
	t.Parallel()

	a, releases := newTestArbiter(t, Config{TurnTimeout: 30 * time.Millisecond})
	a.Submit(FromVoice("stuck turn"))
	stuck := awaitRelease(t, releases)

	a.Submit(FromVoice("waiting turn"))

	// The sink never completes the stuck turn; the watchdog must.
	next := awaitRelease(t, releases)
	if next.req.Content != "waiting turn" {
		t.Fatalf("released %q after watchdog", next.req.Content)
	}

	// A late completion with the expired token must not disturb the new turn.
	a.Complete(stuck.tok)
	if cur, busy := a.Current(); !busy || cur.Origin != OriginVoice {
		t.Fatalf("stale completion disturbed active turn: %+v busy=%v", cur, busy)
	}
	a.Complete(next.tok)
	if _, busy := a.Current(); busy {
		t.Fatal("expected idle after completing the active turn")
	}
}

func TestCompleteWhileIdle(t *testing.T) {
	t.Parallel()

	a, _ := newTestArbiter(t, Config{})
	// Must log and return, not panic or corrupt state.
	a.Complete(Token{id: 42})
	if _, busy := a.Current(); busy {
		t.Fatal("idle completion must not activate a turn")
	}
}

func TestQueueDepths(t *testing.T) {
	t.Parallel()

	a, releases := newTestArbiter(t, Config{})
	a.Submit(FromVoice("active"))
	awaitRelease(t, releases)

	a.Submit(FromVoice("queued voice"))
	a.Submit(FromChat("viewer", "queued chat one"))
	a.Submit(FromChat("viewer", "queued chat two"))

	voice, chat := a.QueueDepths()
	if voice != 1 || chat != 2 {
		t.Fatalf("QueueDepths = (%d, %d), want (1, 2)", voice, chat)
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	sets   []Origin
	clears int
}

func (p *recordingPublisher) SetCurrentTurn(origin Origin, _ string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sets = append(p.sets, origin)
}

func (p *recordingPublisher) ClearCurrentTurn() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clears++
}

func (p *recordingPublisher) snapshot() ([]Origin, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Origin(nil), p.sets...), p.clears
}

func TestStatePublisherMirrorsTurns(t *testing.T) {
	t.Parallel()

	pub := &recordingPublisher{}
	a, releases := newTestArbiter(t, Config{}, WithStatePublisher(pub))

	a.Submit(FromVoice("hello"))
	r := awaitRelease(t, releases)
	a.Complete(r.tok)

	a.Submit(FromChat("viewer", "hi ember"))
	r = awaitRelease(t, releases)
	a.Complete(r.tok)

	sets, clears := pub.snapshot()
	if len(sets) != 2 || sets[0] != OriginVoice || sets[1] != OriginChat {
		t.Fatalf("publisher sets = %v", sets)
	}
	if clears != 2 {
		t.Fatalf("publisher clears = %d, want 2", clears)
	}
}
