package audio

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Resampler converts a continuous mono float stream from one sample rate to
// another. It keeps filter state between calls, so one Resampler must be used
// per stream. Not safe for concurrent use.
type Resampler struct {
	src, dst int
	rs       resampling.Resampler
	in       []float64
}

// NewResampler creates a mono resampler from srcRate to dstRate. When the
// rates are equal the returned Resampler passes samples through untouched.
func NewResampler(srcRate, dstRate int) (*Resampler, error) {
	if srcRate <= 0 || dstRate <= 0 {
		return nil, fmt.Errorf("audio: invalid resample rates %d -> %d", srcRate, dstRate)
	}
	r := &Resampler{src: srcRate, dst: dstRate}
	if srcRate == dstRate {
		return r, nil
	}
	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(srcRate),
		OutputRate: float64(dstRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("audio: create resampler: %w", err)
	}
	r.rs = rs
	return r, nil
}

// Process resamples one block. The output length varies from call to call
// because of filter delay; over a long stream it converges on
// len(samples)*dst/src.
func (r *Resampler) Process(samples []float32) ([]float32, error) {
	if r.rs == nil {
		return samples, nil
	}
	if cap(r.in) < len(samples) {
		r.in = make([]float64, len(samples))
	}
	in := r.in[:len(samples)]
	for i, s := range samples {
		in[i] = float64(s)
	}
	out, err := r.rs.Process(in)
	if err != nil {
		return nil, fmt.Errorf("audio: resample %d -> %d: %w", r.src, r.dst, err)
	}
	res := make([]float32, len(out))
	for i, s := range out {
		res[i] = float32(s)
	}
	return res, nil
}
