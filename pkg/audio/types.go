package audio

import "time"

// Wire formats used by the live conversation pipeline.
const (
	// CaptureSampleRate is the sample rate of outbound microphone frames.
	CaptureSampleRate = 16000

	// PlaybackSampleRate is the sample rate of inbound synthesized speech.
	PlaybackSampleRate = 24000

	// DefaultFrameSize is the number of samples per outbound capture frame.
	DefaultFrameSize = 4096
)

// AudioFrame represents a single frame of audio data flowing through the pipeline.
// Capture inputs produce frames and playback outputs consume them.
type AudioFrame struct {
	// PCM audio data (little-endian int16). Sample rate and channel count are
	// carried alongside so that consumers can convert when needed.
	Data []byte

	// SampleRate in Hz (e.g., 48000 for Discord Opus, 16000 for capture).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Mono returns a single-channel format at the given sample rate.
func Mono(rate int) Format {
	return Format{SampleRate: rate, Channels: 1}
}

// Duration returns the playback duration of n samples per channel at f's rate.
func (f Format) Duration(samples int64) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// Samples returns the number of samples per channel that fit in d at f's rate,
// rounded down.
func (f Format) Samples(d time.Duration) int64 {
	return int64(d) * int64(f.SampleRate) / int64(time.Second)
}
