package analysis_test

import (
	"math"
	"testing"

	"github.com/MrWong99/livevox/pkg/audio/analysis"
)

func sine(n, bin, size int, amp float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amp * math.Sin(2*math.Pi*float64(bin)*float64(i)/float64(size)))
	}
	return out
}

func TestNew_Defaults(t *testing.T) {
	a, err := analysis.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.FFTSize() != 256 {
		t.Errorf("FFTSize = %d, want 256", a.FFTSize())
	}
	if a.FrequencyBinCount() != 128 {
		t.Errorf("FrequencyBinCount = %d, want 128", a.FrequencyBinCount())
	}
}

func TestNew_InvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		opt  analysis.Option
	}{
		{"not power of two", analysis.WithFFTSize(300)},
		{"too small", analysis.WithFFTSize(16)},
		{"smoothing one", analysis.WithSmoothing(1)},
		{"negative smoothing", analysis.WithSmoothing(-0.1)},
		{"inverted range", analysis.WithDecibelRange(-30, -100)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := analysis.New(tc.opt); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestByteFrequencyData_SilenceIsZero(t *testing.T) {
	a, _ := analysis.New()
	a.Observe(make([]float32, 480))

	bins := make([]byte, a.FrequencyBinCount())
	if n := a.ByteFrequencyData(bins); n != 128 {
		t.Fatalf("n = %d, want 128", n)
	}
	for i, b := range bins {
		if b != 0 {
			t.Fatalf("bin %d = %d, want 0 for silence", i, b)
		}
	}
}

func TestByteFrequencyData_PeakAtToneBin(t *testing.T) {
	a, _ := analysis.New(analysis.WithSmoothing(0))
	a.Observe(sine(256, 16, 256, 1))

	bins := make([]byte, a.FrequencyBinCount())
	a.ByteFrequencyData(bins)

	peak := 0
	for i, b := range bins {
		if b > bins[peak] {
			peak = i
		}
	}
	if peak < 15 || peak > 17 {
		t.Errorf("peak bin = %d, want ~16", peak)
	}
	if bins[16] != 255 {
		t.Errorf("bin 16 = %d, want 255 for a full-scale tone", bins[16])
	}
}

func TestFloatFrequencyData_SmoothingRisesTowardsSignal(t *testing.T) {
	a, _ := analysis.New()
	a.Observe(sine(256, 32, 256, 0.5))

	var first, second [128]float64
	a.FloatFrequencyData(first[:])
	a.Observe(sine(256, 32, 256, 0.5))
	a.FloatFrequencyData(second[:])
	if !(second[32] > first[32]) {
		t.Errorf("smoothed level did not rise: %f then %f", first[32], second[32])
	}
}

func TestFrequencyData_ReadersShareOneUpdatePerBlock(t *testing.T) {
	a, _ := analysis.New()
	a.Observe(sine(256, 32, 256, 0.5))

	var first [128]float64
	a.FloatFrequencyData(first[:])
	for range 5 {
		var again [128]float64
		a.FloatFrequencyData(again[:])
		if again != first {
			t.Fatalf("spectrum changed without new audio: bin 32 %f -> %f", first[32], again[32])
		}
	}
	bytes := make([]byte, a.FrequencyBinCount())
	a.ByteFrequencyData(bytes)
	if bytes[32] == 0 {
		t.Error("byte read should see the smoothed tone")
	}

	a.Observe(sine(256, 32, 256, 0.5))
	var next [128]float64
	a.FloatFrequencyData(next[:])
	if !(next[32] > first[32]) {
		t.Errorf("new block did not advance smoothing: %f then %f", first[32], next[32])
	}
}

func TestObserve_KeepsMostRecentWindow(t *testing.T) {
	a, _ := analysis.New(analysis.WithSmoothing(0))

	// A loud tone followed by more than a window of silence leaves only silence.
	a.Observe(sine(256, 8, 256, 1))
	for range 3 {
		a.Observe(make([]float32, 100))
	}
	bins := make([]byte, a.FrequencyBinCount())
	a.ByteFrequencyData(bins)
	for i, b := range bins {
		if b != 0 {
			t.Fatalf("bin %d = %d, want 0 once the tone left the window", i, b)
		}
	}
}

func TestReset(t *testing.T) {
	a, _ := analysis.New(analysis.WithSmoothing(0))
	a.Observe(sine(256, 8, 256, 1))
	a.Reset()

	bins := make([]byte, a.FrequencyBinCount())
	a.ByteFrequencyData(bins)
	if bins[8] != 0 {
		t.Errorf("bin 8 = %d after Reset, want 0", bins[8])
	}
}
