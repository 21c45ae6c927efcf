// Package audio defines the audio frame type shared by the capture path and
// small PCM conversion helpers used between the overlay transport (48 kHz
// Opus), the microphone gate, and the STT provider (16 kHz mono PCM).
package audio

import "time"

// Frame is a single chunk of audio flowing through the capture pipeline.
// Frames are the atomic unit the microphone gate admits or drops.
type Frame struct {
	// Data is raw PCM, 16-bit little-endian signed samples.
	Data []byte

	// SampleRate in Hz (48000 for decoded overlay Opus, 16000 for STT input).
	SampleRate int

	// Channels is the channel count. The capture path is mono end to end.
	Channels int

	// Timestamp marks when the frame was captured, relative to stream start.
	Timestamp time.Duration
}

// BytesToInt16 reinterprets little-endian PCM bytes as int16 samples.
// A trailing odd byte is ignored.
func BytesToInt16(b []byte) []int16 {
	n := len(b) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(b[2*i]) | int16(b[2*i+1])<<8
	}
	return out
}

// Int16ToBytes serialises int16 PCM samples as little-endian bytes.
func Int16ToBytes(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}

// DownmixStereo averages interleaved stereo samples into mono. Input with an
// odd sample count drops the trailing sample.
func DownmixStereo(pcm []int16) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		l := int32(pcm[2*i])
		r := int32(pcm[2*i+1])
		out[i] = int16((l + r) / 2)
	}
	return out
}

// Resample converts mono PCM from one sample rate to another using linear
// interpolation. It is good enough for speech headed to STT; it is not a
// general-purpose resampler. Returns the input unchanged when the rates match.
func Resample(pcm []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || len(pcm) == 0 {
		return pcm
	}
	ratio := float64(fromRate) / float64(toRate)
	n := int(float64(len(pcm)) / ratio)
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx+1 >= len(pcm) {
			out[i] = pcm[len(pcm)-1]
			continue
		}
		frac := pos - float64(idx)
		a := float64(pcm[idx])
		b := float64(pcm[idx+1])
		out[i] = int16(a + (b-a)*frac)
	}
	return out
}
