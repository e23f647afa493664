// Package analysis computes frequency-domain snapshots of rendered audio for
// visualisation.
//
// An [Analyser] keeps the most recent FFT-size window of samples it has
// observed. Reading it windows the samples, runs a real FFT, smooths the
// magnitudes over time and maps them onto a decibel range, producing the same
// byte spectrum a browser AnalyserNode reports for the same settings. The
// analyser is a passive observer: it never blocks or alters the signal it is
// fed.
package analysis

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Defaults match the visualiser's expectations.
const (
	DefaultFFTSize         = 256
	DefaultSmoothing       = 0.8
	DefaultMinDecibels     = -100.0
	DefaultMaxDecibels     = -30.0
	blackmanAlpha          = 0.16
	minFFTSize, maxFFTSize = 32, 32768
)

// Option configures an [Analyser].
type Option func(*Analyser)

// WithFFTSize sets the analysis window length. It must be a power of two
// between 32 and 32768.
func WithFFTSize(n int) Option {
	return func(a *Analyser) { a.fftSize = n }
}

// WithSmoothing sets the time constant in [0, 1) applied between successive
// spectrum reads.
func WithSmoothing(tc float64) Option {
	return func(a *Analyser) { a.smoothing = tc }
}

// WithDecibelRange sets the range mapped onto byte values 0..255.
func WithDecibelRange(minDB, maxDB float64) Option {
	return func(a *Analyser) {
		a.minDB = minDB
		a.maxDB = maxDB
	}
}

// Analyser is safe for concurrent use: one goroutine may feed it through
// [Analyser.Observe] while others read spectra.
type Analyser struct {
	fftSize   int
	smoothing float64
	minDB     float64
	maxDB     float64

	fft    *fourier.FFT
	window []float64

	mu       sync.Mutex
	ring     []float32
	head     int
	seq      []float64
	coeffs   []complex128
	smoothed []float64
	fresh    bool // audio observed since the last spectrum update
}

// New creates an Analyser. Without options it uses an FFT size of 256 (128
// bins), smoothing 0.8 and a -100..-30 dB range.
func New(opts ...Option) (*Analyser, error) {
	a := &Analyser{
		fftSize:   DefaultFFTSize,
		smoothing: DefaultSmoothing,
		minDB:     DefaultMinDecibels,
		maxDB:     DefaultMaxDecibels,
	}
	for _, o := range opts {
		o(a)
	}
	n := a.fftSize
	if n < minFFTSize || n > maxFFTSize || n&(n-1) != 0 {
		return nil, fmt.Errorf("analysis: fft size %d must be a power of two in [%d, %d]", n, minFFTSize, maxFFTSize)
	}
	if a.smoothing < 0 || a.smoothing >= 1 {
		return nil, fmt.Errorf("analysis: smoothing %v out of range [0, 1)", a.smoothing)
	}
	if a.minDB >= a.maxDB {
		return nil, fmt.Errorf("analysis: min decibels %v must be below max %v", a.minDB, a.maxDB)
	}

	a.fft = fourier.NewFFT(n)
	a.window = blackman(n)
	a.ring = make([]float32, n)
	a.seq = make([]float64, n)
	a.coeffs = make([]complex128, n/2+1)
	a.smoothed = make([]float64, n/2)
	return a, nil
}

// FFTSize returns the analysis window length.
func (a *Analyser) FFTSize() int { return a.fftSize }

// FrequencyBinCount returns the number of values produced by a spectrum read,
// half the FFT size.
func (a *Analyser) FrequencyBinCount() int { return a.fftSize / 2 }

// Observe appends block to the analysis window.
func (a *Analyser) Observe(block []float32) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(block) >= len(a.ring) {
		copy(a.ring, block[len(block)-len(a.ring):])
		a.head = 0
		a.fresh = true
		return
	}
	n := copy(a.ring[a.head:], block)
	if n < len(block) {
		copy(a.ring, block[n:])
	}
	a.head = (a.head + len(block)) % len(a.ring)
	a.fresh = true
}

// FloatFrequencyData fills dst with the smoothed spectrum in decibels and
// returns the number of bins written. The smoothing state advances at most
// once per observed block; reads in between return the same spectrum.
func (a *Analyser) FloatFrequencyData(dst []float64) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.updateLocked()
	n := min(len(dst), len(a.smoothed))
	for i := range n {
		dst[i] = toDecibels(a.smoothed[i])
	}
	return n
}

// ByteFrequencyData fills dst with the smoothed spectrum scaled from the
// decibel range onto 0..255 and returns the number of bins written. Like
// [Analyser.FloatFrequencyData] it advances smoothing once per observed block.
func (a *Analyser) ByteFrequencyData(dst []byte) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.updateLocked()
	n := min(len(dst), len(a.smoothed))
	scale := 255 / (a.maxDB - a.minDB)
	for i := range n {
		v := math.Floor(scale * (toDecibels(a.smoothed[i]) - a.minDB))
		dst[i] = byte(min(max(v, 0), 255))
	}
	return n
}

// Reset clears the analysis window and smoothing state.
func (a *Analyser) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.ring)
	clear(a.smoothed)
	a.head = 0
	a.fresh = false
}

func (a *Analyser) updateLocked() {
	if !a.fresh {
		return
	}
	a.fresh = false
	n := len(a.ring)
	for i := range n {
		a.seq[i] = float64(a.ring[(a.head+i)%n]) * a.window[i]
	}
	a.fft.Coefficients(a.coeffs, a.seq)

	k := a.smoothing
	norm := 1 / float64(n)
	for i := range a.smoothed {
		c := a.coeffs[i]
		mag := math.Hypot(real(c), imag(c)) * norm
		v := k*a.smoothed[i] + (1-k)*mag
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		a.smoothed[i] = v
	}
}

func toDecibels(mag float64) float64 {
	if mag <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(mag)
}

func blackman(n int) []float64 {
	w := make([]float64, n)
	a0 := (1 - blackmanAlpha) / 2
	a2 := blackmanAlpha / 2
	for i := range w {
		x := float64(i) / float64(n)
		w[i] = a0 - 0.5*math.Cos(2*math.Pi*x) + a2*math.Cos(4*math.Pi*x)
	}
	return w
}
