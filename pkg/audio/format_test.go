package audio

import (
	"testing"
	"time"
)

func TestFormatDerived(t *testing.T) {
	tests := []struct {
		name     string
		format   Format
		frame    int
		perSec   int
	}{
		{"mono 16-bit 44100", Format{Channels: 1, SampleBits: 16, SampleRate: 44100}, 2, 88200},
		{"stereo 16-bit 44100", Format{Channels: 2, SampleBits: 16, SampleRate: 44100}, 4, 176400},
		{"stereo 24-bit 48000", Format{Channels: 2, SampleBits: 24, SampleRate: 48000}, 6, 288000},
		{"5.1 16-bit 48000", Format{Channels: 6, SampleBits: 16, SampleRate: 48000}, 12, 576000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.format.BytesPerFrame(); got != tt.frame {
				t.Errorf("BytesPerFrame: expected %d, got %d", tt.frame, got)
			}
			if got := tt.format.BytesPerSecond(); got != tt.perSec {
				t.Errorf("BytesPerSecond: expected %d, got %d", tt.perSec, got)
			}
			if !tt.format.Valid() {
				t.Error("expected format to be valid")
			}
		})
	}
}

func TestFormatValid(t *testing.T) {
	if (Format{}).Valid() {
		t.Error("zero format must not be valid")
	}
	if (Format{Channels: 2, SampleBits: 16}).Valid() {
		t.Error("zero sample rate must not be valid")
	}
	if (Format{Channels: 0, SampleBits: 16, SampleRate: 44100}).Valid() {
		t.Error("zero channels must not be valid")
	}
}

func TestAlign(t *testing.T) {
	stereo := Format{Channels: 2, SampleBits: 16, SampleRate: 44100}

	tests := []struct {
		name     string
		input    int64
		expected int64
	}{
		{"zero", 0, 0},
		{"aligned", 4096, 4096},
		{"one over", 4097, 4096},
		{"three over", 4099, 4096},
		{"negative aligned", -8, -8},
		{"negative toward zero", -7, -4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stereo.Align(tt.input); got != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, got)
			}
		})
	}
}

func TestAlignCeil(t *testing.T) {
	stereo := Format{Channels: 2, SampleBits: 16, SampleRate: 44100}

	tests := []struct {
		name     string
		input    int64
		expected int64
	}{
		{"zero", 0, 0},
		{"aligned", 4096, 4096},
		{"one under boundary", 4095, 4096},
		{"one over boundary", 4097, 4100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stereo.AlignCeil(tt.input); got != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, got)
			}
		})
	}
}

func TestDurationToBytes(t *testing.T) {
	tests := []struct {
		name     string
		format   Format
		d        time.Duration
		expected int64
	}{
		{"one second stereo", Format{Channels: 2, SampleBits: 16, SampleRate: 44100}, time.Second, 176400},
		{"one second mono", Format{Channels: 1, SampleBits: 16, SampleRate: 44100}, time.Second, 88200},
		{"20ms stereo 48k", Format{Channels: 2, SampleBits: 16, SampleRate: 48000}, 20 * time.Millisecond, 3840},
		{"12ms mono", Format{Channels: 1, SampleBits: 16, SampleRate: 44100}, 12 * time.Millisecond, 1058},
		{"zero", Format{Channels: 2, SampleBits: 16, SampleRate: 44100}, 0, 0},
		{"negative drift", Format{Channels: 1, SampleBits: 16, SampleRate: 44100}, -12 * time.Millisecond, -1058},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.format.DurationToBytes(tt.d)
			if got != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, got)
			}
			if !tt.format.Aligned(got) {
				t.Errorf("result %d is not frame-aligned", got)
			}
		})
	}
}

func TestDurationToBytesLongStream(t *testing.T) {
	// Integer split must stay exact well past the float53 range of
	// naive seconds*rate math.
	f := Format{Channels: 2, SampleBits: 16, SampleRate: 192000}
	const hours = 70
	got := f.DurationToBytes(hours * time.Hour)
	want := int64(hours) * 3600 * int64(f.BytesPerSecond())
	if got != want {
		t.Errorf("expected %d, got %d", want, got)
	}
}

func TestBytesToDurationRoundTrip(t *testing.T) {
	f := Format{Channels: 2, SampleBits: 16, SampleRate: 44100}
	for _, n := range []int64{0, 4, 176400, 176404, 9192 * 4} {
		d := f.BytesToDuration(n)
		back := f.DurationToBytes(d)
		if back != n {
			t.Errorf("round-trip failed: %d -> %v -> %d", n, d, back)
		}
	}
}
