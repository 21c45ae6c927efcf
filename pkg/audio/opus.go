package audio

import (
	"fmt"

	"layeh.com/gopus"
)

// The overlay client captures the microphone at 48 kHz mono and ships 20 ms
// Opus packets over the control WebSocket.
const (
	OpusSampleRate  = 48000
	OpusChannels    = 1
	opusFrameSizeMs = 20
	// opusFrameSize is the number of samples per channel per 20 ms packet.
	opusFrameSize = OpusSampleRate * opusFrameSizeMs / 1000 // 960
)

// OpusDecoder decodes the overlay microphone stream. One decoder per
// connection; gopus decoders carry state across consecutive packets.
//
// Not safe for concurrent use. The overlay socket read loop is the only
// caller.
type OpusDecoder struct {
	dec *gopus.Decoder
}

// NewOpusDecoder creates a decoder configured for the overlay mic stream.
func NewOpusDecoder() (*OpusDecoder, error) {
	dec, err := gopus.NewDecoder(OpusSampleRate, OpusChannels)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus decoder: %w", err)
	}
	return &OpusDecoder{dec: dec}, nil
}

// Decode decodes a single Opus packet into a PCM [Frame].
func (d *OpusDecoder) Decode(packet []byte) (Frame, error) {
	pcm, err := d.dec.Decode(packet, opusFrameSize, false)
	if err != nil {
		return Frame{}, fmt.Errorf("audio: opus decode: %w", err)
	}
	return Frame{
		Data:       Int16ToBytes(pcm),
		SampleRate: OpusSampleRate,
		Channels:   OpusChannels,
	}, nil
}
