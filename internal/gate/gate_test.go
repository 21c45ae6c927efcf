package gate

import (
	"testing"

	"github.com/emberworks/ember/internal/state"
	"github.com/emberworks/ember/pkg/audio"
	"github.com/emberworks/ember/pkg/provider/stt"
)

func TestAudioGateAdmit(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name         string
		mode         state.Mode
		outputActive bool
		want         bool
	}{
		{"idle and silent", state.ModeIdle, false, false},
		{"idle and speaking", state.ModeIdle, true, false},
		{"listening and silent", state.ModeListening, false, true},
		{"listening and speaking", state.ModeListening, true, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			st := state.New("neutral", nil)
			st.SetMode(tc.mode)
			st.SetOutputActive(tc.outputActive)

			g := NewAudioGate(st, nil, nil)
			frame := audio.Frame{Data: make([]byte, 320), SampleRate: 16000, Channels: 1}
			if got := g.Admit(frame); got != tc.want {
				t.Fatalf("Admit = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestAudioGateReactsMidStream(t *testing.T) {
	t.Parallel()

	st := state.New("neutral", nil)
	st.SetMode(state.ModeListening)
	g := NewAudioGate(st, nil, nil)

	frame := audio.Frame{Data: make([]byte, 320), SampleRate: 16000, Channels: 1}
	if !g.Admit(frame) {
		t.Fatal("expected admit while listening")
	}
	st.SetOutputActive(true)
	if g.Admit(frame) {
		t.Fatal("expected drop once output became active")
	}
	st.SetOutputActive(false)
	if !g.Admit(frame) {
		t.Fatal("expected admit after output ended")
	}
}

func TestTranscriptFilterAdmit(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name         string
		tr           stt.Transcript
		outputActive bool
		want         bool
	}{
		{"final while silent", stt.Transcript{Text: "hello", IsFinal: true}, false, true},
		{"final while speaking", stt.Transcript{Text: "hello", IsFinal: true}, true, false},
		{"partial while silent", stt.Transcript{Text: "hel", IsFinal: false}, false, false},
		{"empty final", stt.Transcript{Text: "", IsFinal: true}, false, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			st := state.New("neutral", nil)
			st.SetOutputActive(tc.outputActive)

			f := NewTranscriptFilter(st, nil, nil)
			if got := f.Admit(tc.tr); got != tc.want {
				t.Fatalf("Admit = %v, want %v", got, tc.want)
			}
		})
	}
}
