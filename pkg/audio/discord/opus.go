package discord

import (
	"encoding/binary"
	"fmt"

	"layeh.com/gopus"

	"github.com/MrWong99/livevox/pkg/audio"
)

// Discord voice is 48 kHz stereo Opus in 20 ms packets.
const (
	opusSampleRate = 48000
	opusChannels   = 2
	opusFrameSize  = opusSampleRate / 50 // samples per channel

	// opusFrameBytes is one packet's worth of interleaved stereo PCM16.
	opusFrameBytes = opusFrameSize * opusChannels * 2

	// defaultBitrate matches a voice channel without boosts.
	defaultBitrate = 64000
)

// packetDecoder decodes one speaker's packets. Opus is stateful, so a
// decoder must not be shared between SSRCs.
type packetDecoder struct {
	dec *gopus.Decoder
}

func newPacketDecoder() (*packetDecoder, error) {
	dec, err := gopus.NewDecoder(opusSampleRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("discord: opus decoder: %w", err)
	}
	return &packetDecoder{dec: dec}, nil
}

// decode returns one packet as interleaved stereo PCM16.
func (d *packetDecoder) decode(packet []byte) ([]byte, error) {
	samples, err := d.dec.Decode(packet, opusFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("discord: opus decode: %w", err)
	}
	out := make([]byte, 0, len(samples)*2)
	for _, s := range samples {
		out = binary.LittleEndian.AppendUint16(out, uint16(s))
	}
	return out, nil
}

// frameEncoder turns a 48 kHz mono PCM16 stream of arbitrary chunk sizes into
// whole Opus packets. A trailing partial frame waits for the next push.
type frameEncoder struct {
	enc     *gopus.Encoder
	pending []byte
	samples []int16
}

func newFrameEncoder(bitrate int) (*frameEncoder, error) {
	enc, err := gopus.NewEncoder(opusSampleRate, opusChannels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("discord: opus encoder: %w", err)
	}
	enc.SetBitrate(bitrate)
	return &frameEncoder{enc: enc, samples: make([]int16, opusFrameSize*opusChannels)}, nil
}

// push buffers mono PCM and returns every packet it completes. A frame that
// fails to encode is skipped and its error returned after the rest.
func (e *frameEncoder) push(mono []byte) ([][]byte, error) {
	e.pending = append(e.pending, audio.MonoToStereo(mono)...)

	var (
		packets  [][]byte
		firstErr error
	)
	for len(e.pending) >= opusFrameBytes {
		frame := e.pending[:opusFrameBytes]
		for i := range e.samples {
			e.samples[i] = int16(binary.LittleEndian.Uint16(frame[i*2:]))
		}
		e.pending = e.pending[opusFrameBytes:]

		packet, err := e.enc.Encode(e.samples, opusFrameSize, opusFrameBytes)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("discord: opus encode: %w", err)
			}
			continue
		}
		packets = append(packets, packet)
	}
	// Compact so the backing array does not grow without bound.
	e.pending = append(e.pending[:0:0], e.pending...)
	return packets, firstErr
}

// buffered reports how many stereo bytes are waiting for a full frame.
func (e *frameEncoder) buffered() int { return len(e.pending) }

// reset drops any partial frame.
func (e *frameEncoder) reset() { e.pending = nil }
