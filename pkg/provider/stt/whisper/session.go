package whisper

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/emberworks/ember/pkg/provider/stt"
)

const (
	defaultLanguage            = "en"
	defaultSampleRate          = 16000
	defaultSilenceThresholdMs  = 500
	defaultMaxBufferDurationMs = 10000
	bitsPerSample              = 16

	// defaultRMSThreshold separates speech from silence on normalised RMS
	// energy. Tuned for close-mic speech; quiet rooms sit well below it.
	defaultRMSThreshold = 0.01
)

var errSessionClosed = errors.New("whisper: session is closed")

// transcribeFunc runs inference on a complete speech buffer of 16-bit PCM and
// returns the recognised text. Both the HTTP and native providers plug in here.
type transcribeFunc func(pcm []byte) (string, error)

// session buffers audio, detects end-of-utterance silence, and dispatches
// complete utterances to a transcribeFunc. It implements stt.SessionHandle
// for both whisper front-ends.
//
// All mutable buffering state is confined to the processLoop goroutine.
type session struct {
	sampleRate          int
	channels            int
	silenceThresholdMs  int
	maxBufferDurationMs int
	transcribe          transcribeFunc

	audioCh  chan []byte
	partials chan stt.Transcript
	finals   chan stt.Transcript

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func newSession(sampleRate, channels, silenceMs, maxBufferMs int, fn transcribeFunc) *session {
	s := &session{
		sampleRate:          sampleRate,
		channels:            channels,
		silenceThresholdMs:  silenceMs,
		maxBufferDurationMs: maxBufferMs,
		transcribe:          fn,

		audioCh:  make(chan []byte, 256),
		partials: make(chan stt.Transcript, 64),
		finals:   make(chan stt.Transcript, 64),
		done:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.processLoop()
	return s
}

// SendAudio queues a chunk of raw 16-bit little-endian PCM for silence
// analysis and buffering. Returns an error after Close.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errSessionClosed
	default:
	}
	select {
	case s.audioCh <- chunk:
		return nil
	case <-s.done:
		return errSessionClosed
	}
}

// Partials emits one interim transcript per recognised utterance, just before
// its final. whisper has no true streaming partials; this keeps overlay
// captions working with the same session contract as streaming backends.
func (s *session) Partials() <-chan stt.Transcript { return s.partials }

// Finals emits authoritative transcripts, one per recognised utterance.
func (s *session) Finals() <-chan stt.Transcript { return s.finals }

// Close flushes any pending speech, stops the session goroutine, and closes
// both transcript channels. Safe to call more than once.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

// processLoop owns silence detection, buffering, and inference dispatch.
func (s *session) processLoop() {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)

	var (
		buffer    []byte
		hadSpeech bool
		silenceMs int
	)

	bytesPerMs := s.sampleRate * s.channels * (bitsPerSample / 8) / 1000
	if bytesPerMs <= 0 {
		bytesPerMs = 32
	}
	maxBufferBytes := s.maxBufferDurationMs * bytesPerMs

	flush := func() {
		pcm := buffer
		speech := hadSpeech
		buffer, hadSpeech, silenceMs = nil, false, 0
		if len(pcm) == 0 || !speech {
			return
		}

		text, err := s.transcribe(pcm)
		if err != nil {
			slog.Error("whisper inference failed", "err", err)
			return
		}
		if text == "" {
			return
		}
		select {
		case s.partials <- stt.Transcript{Text: text}:
		default:
		}
		select {
		case s.finals <- stt.Transcript{Text: text, IsFinal: true}:
		default:
		}
	}

	for {
		select {
		case <-s.done:
			flush()
			return

		case chunk := <-s.audioCh:
			chunkMs := len(chunk) / bytesPerMs

			if computeRMS(chunk) < defaultRMSThreshold {
				if !hadSpeech {
					continue
				}
				silenceMs += chunkMs
				buffer = append(buffer, chunk...)
				if silenceMs >= s.silenceThresholdMs {
					flush()
				}
				continue
			}

			hadSpeech = true
			silenceMs = 0
			buffer = append(buffer, chunk...)
			if maxBufferBytes > 0 && len(buffer) >= maxBufferBytes {
				flush()
			}
		}
	}
}

// Compile-time assertion that *session satisfies stt.SessionHandle.
var _ stt.SessionHandle = (*session)(nil)
