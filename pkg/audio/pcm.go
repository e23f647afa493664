package audio

import (
	"fmt"
	"math"
	"mime"
	"strconv"
	"strings"
)

// Float32ToPCM16 converts float samples in [-1, 1] to little-endian int16 PCM.
// Out-of-range samples are clamped. Negative values scale by 32768 and
// positive values by 32767 so both extremes map onto the full int16 range.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		var v int32
		if s < 0 {
			v = int32(s * 32768)
		} else {
			v = int32(s * 32767)
		}
		putSample16(out, i, v)
	}
	return out
}

// PCM16ToFloat32 converts little-endian int16 PCM into float samples in
// [-1, 1). Returns an error if pcm does not hold a whole number of samples.
func PCM16ToFloat32(pcm []byte) ([]float32, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("audio: odd PCM byte count %d", len(pcm))
	}
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(sample16(pcm, i)) / 32768
	}
	return out, nil
}

// ToFloat32Mono converts a PCM frame of any channel count into mono float
// samples by averaging channels. The frame's sample rate is left unchanged.
func ToFloat32Mono(frame AudioFrame) ([]float32, error) {
	samples, err := PCM16ToFloat32(frame.Data)
	if err != nil {
		return nil, err
	}
	ch := frame.Channels
	if ch <= 1 {
		return samples, nil
	}
	n := len(samples) / ch
	out := make([]float32, n)
	for i := range n {
		var sum float32
		for c := range ch {
			sum += samples[i*ch+c]
		}
		out[i] = sum / float32(ch)
	}
	return out, nil
}

// RMS returns the root-mean-square amplitude of samples, or 0 for an empty
// slice.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// PCMMimeType returns the MIME type for raw 16-bit PCM at rate, e.g.
// "audio/pcm;rate=16000".
func PCMMimeType(rate int) string {
	return "audio/pcm;rate=" + strconv.Itoa(rate)
}

// ParsePCMRate extracts the sample rate from a PCM MIME type such as
// "audio/pcm;rate=24000". When the rate parameter is absent, fallback is
// returned. Non-PCM media types are rejected.
func ParsePCMRate(mimeType string, fallback int) (int, error) {
	mediaType, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return 0, fmt.Errorf("audio: parse mime type %q: %w", mimeType, err)
	}
	if !strings.EqualFold(mediaType, "audio/pcm") && !strings.EqualFold(mediaType, "audio/l16") {
		return 0, fmt.Errorf("audio: unsupported media type %q", mediaType)
	}
	raw, ok := params["rate"]
	if !ok {
		return fallback, nil
	}
	rate, err := strconv.Atoi(raw)
	if err != nil || rate <= 0 {
		return 0, fmt.Errorf("audio: invalid rate %q in mime type %q", raw, mimeType)
	}
	return rate, nil
}
