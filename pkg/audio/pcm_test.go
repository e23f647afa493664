package audio_test

import (
	"math"
	"testing"
	"time"

	"github.com/MrWong99/livevox/pkg/audio"
)

func TestFloat32ToPCM16(t *testing.T) {
	got := bytesToSamples(audio.Float32ToPCM16([]float32{0, 1, -1, 0.5, 2, -3}))
	equalSamples(t, got, []int16{0, 32767, -32768, 16383, 32767, -32768})
}

func TestPCM16ToFloat32_RoundTripWithinQuantisation(t *testing.T) {
	in := []float32{0, 0.25, -0.25, 0.999, -1}
	out, err := audio.PCM16ToFloat32(audio.Float32ToPCM16(in))
	if err != nil {
		t.Fatalf("PCM16ToFloat32: %v", err)
	}
	for i := range in {
		if d := math.Abs(float64(in[i] - out[i])); d > 1.0/16384 {
			t.Errorf("sample %d: got %f, want %f", i, out[i], in[i])
		}
	}
}

func TestPCM16ToFloat32_OddBytes(t *testing.T) {
	if _, err := audio.PCM16ToFloat32([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for odd byte count")
	}
}

func TestToFloat32Mono_AveragesChannels(t *testing.T) {
	frame := audio.AudioFrame{
		Data:       samplesToBytes([]int16{16384, 0, -16384, -16384}),
		SampleRate: 48000,
		Channels:   2,
	}
	got, err := audio.ToFloat32Mono(frame)
	if err != nil {
		t.Fatalf("ToFloat32Mono: %v", err)
	}
	want := []float32{0.25, -0.5}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %f, want %f", i, got[i], want[i])
		}
	}
}

func TestRMS(t *testing.T) {
	tests := []struct {
		name string
		in   []float32
		want float64
	}{
		{"empty", nil, 0},
		{"silence", []float32{0, 0, 0}, 0},
		{"constant", []float32{0.5, -0.5, 0.5, -0.5}, 0.5},
		{"full scale", []float32{1, -1}, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := audio.RMS(tc.in); math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("RMS = %f, want %f", got, tc.want)
			}
		})
	}
}

func TestParsePCMRate(t *testing.T) {
	tests := []struct {
		mime    string
		want    int
		wantErr bool
	}{
		{"audio/pcm;rate=24000", 24000, false},
		{"audio/pcm; rate=16000", 16000, false},
		{"audio/pcm", 24000, false},
		{"audio/L16;rate=8000", 8000, false},
		{"audio/mpeg", 0, true},
		{"audio/pcm;rate=abc", 0, true},
		{"", 0, true},
	}
	for _, tc := range tests {
		t.Run(tc.mime, func(t *testing.T) {
			got, err := audio.ParsePCMRate(tc.mime, audio.PlaybackSampleRate)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("rate = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestPCMMimeType(t *testing.T) {
	if got := audio.PCMMimeType(16000); got != "audio/pcm;rate=16000" {
		t.Errorf("PCMMimeType = %q", got)
	}
}

func TestFormatDuration(t *testing.T) {
	f := audio.Mono(audio.PlaybackSampleRate)
	if got := f.Duration(12000); got != 500*time.Millisecond {
		t.Errorf("Duration(12000) = %v, want 500ms", got)
	}
	if got := f.Samples(time.Second); got != 24000 {
		t.Errorf("Samples(1s) = %d, want 24000", got)
	}
}

func TestResampler_PassthroughSameRate(t *testing.T) {
	r, err := audio.NewResampler(16000, 16000)
	if err != nil {
		t.Fatalf("NewResampler: %v", err)
	}
	in := []float32{0.1, 0.2, 0.3}
	out, err := r.Process(in)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
}

func TestResampler_InvalidRate(t *testing.T) {
	if _, err := audio.NewResampler(0, 16000); err == nil {
		t.Fatal("expected error for zero source rate")
	}
}
