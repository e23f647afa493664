package discord

import "testing"

// monoBytes returns n 48 kHz mono samples as PCM16.
func monoBytes(n int) []byte { return make([]byte, n*2) }

func TestFrameEncoder_Push(t *testing.T) {
	tests := []struct {
		name        string
		chunks      []int // mono samples per push
		wantPackets int
		wantPending int // stereo bytes
	}{
		{"partial frame", []int{480}, 0, 480 * 4},
		{"exact frame", []int{opusFrameSize}, 1, 0},
		{"two halves", []int{480, 480}, 1, 0},
		{"frame and a bit", []int{opusFrameSize + 10}, 1, 10 * 4},
		{"many small writes", []int{100, 100, 100, 100, 100, 100, 100, 100, 100, 100}, 1, 40 * 4},
		{"three frames at once", []int{3 * opusFrameSize}, 3, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			enc, err := newFrameEncoder(defaultBitrate)
			if err != nil {
				t.Fatalf("newFrameEncoder: %v", err)
			}
			total := 0
			for _, n := range tc.chunks {
				packets, err := enc.push(monoBytes(n))
				if err != nil {
					t.Fatalf("push: %v", err)
				}
				for _, p := range packets {
					if len(p) == 0 {
						t.Error("empty packet")
					}
				}
				total += len(packets)
			}
			if total != tc.wantPackets {
				t.Errorf("packets = %d, want %d", total, tc.wantPackets)
			}
			if got := enc.buffered(); got != tc.wantPending {
				t.Errorf("buffered = %d, want %d", got, tc.wantPending)
			}
		})
	}
}

func TestFrameEncoder_Reset(t *testing.T) {
	enc, err := newFrameEncoder(defaultBitrate)
	if err != nil {
		t.Fatalf("newFrameEncoder: %v", err)
	}
	if _, err := enc.push(monoBytes(opusFrameSize / 2)); err != nil {
		t.Fatalf("push: %v", err)
	}
	enc.reset()
	if enc.buffered() != 0 {
		t.Fatalf("buffered = %d after reset", enc.buffered())
	}
	packets, _ := enc.push(monoBytes(opusFrameSize / 2))
	if len(packets) != 0 {
		t.Error("reset frame should not complete with a second half")
	}
}

func TestPacketDecoder_DecodesEncodedFrame(t *testing.T) {
	enc, err := newFrameEncoder(defaultBitrate)
	if err != nil {
		t.Fatalf("newFrameEncoder: %v", err)
	}
	packets, err := enc.push(monoBytes(opusFrameSize))
	if err != nil || len(packets) != 1 {
		t.Fatalf("push = %d packets, %v", len(packets), err)
	}

	dec, err := newPacketDecoder()
	if err != nil {
		t.Fatalf("newPacketDecoder: %v", err)
	}
	pcm, err := dec.decode(packets[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(pcm) != opusFrameBytes {
		t.Errorf("decoded %d bytes, want %d", len(pcm), opusFrameBytes)
	}
}

func TestPacketDecoder_Garbage(t *testing.T) {
	dec, err := newPacketDecoder()
	if err != nil {
		t.Fatalf("newPacketDecoder: %v", err)
	}
	if _, err := dec.decode([]byte{0xff, 0xff, 0xff, 0xff, 0xff}); err == nil {
		t.Error("expected error for a corrupt packet")
	}
}
