package audio

import "time"

// Format describes a raw PCM stream: interleaved frames of Channels
// samples, SampleBits bits each, at SampleRate frames per second.
// It is an immutable value; two formats are interchangeable exactly
// when they compare equal.
type Format struct {
	Channels   uint16
	SampleBits uint16
	SampleRate uint32
}

// Valid reports whether the format describes at least one byte per
// frame and a non-zero rate. Every engine entry point rejects data in
// an invalid format before touching any state.
func (f Format) Valid() bool {
	return f.BytesPerFrame() > 0 && f.SampleRate > 0
}

// BytesPerFrame returns the size in bytes of one frame (one sample per
// channel).
func (f Format) BytesPerFrame() int {
	return int(f.Channels) * int(f.SampleBits) / 8
}

// BytesPerSecond returns the byte rate of the stream.
func (f Format) BytesPerSecond() int {
	return f.BytesPerFrame() * int(f.SampleRate)
}

// Align truncates n to a whole number of frames. For negative counts
// (drift deltas) truncation is toward zero, so the magnitude never
// grows.
func (f Format) Align(n int64) int64 {
	bpf := int64(f.BytesPerFrame())
	if bpf <= 0 {
		return n
	}
	return n - n%bpf
}

// AlignCeil rounds a non-negative n up to a whole number of frames.
func (f Format) AlignCeil(n int64) int64 {
	bpf := int64(f.BytesPerFrame())
	if bpf <= 0 {
		return n
	}
	if rem := n % bpf; rem != 0 {
		return n + bpf - rem
	}
	return n
}

// Aligned reports whether n is a whole number of frames.
func (f Format) Aligned(n int64) bool {
	bpf := int64(f.BytesPerFrame())
	return bpf > 0 && n%bpf == 0
}

// DurationToBytes converts a stream duration to a frame-aligned byte
// count. The split into whole seconds and remainder keeps the integer
// math exact for any duration a playback cursor can reach.
func (f Format) DurationToBytes(d time.Duration) int64 {
	bps := int64(f.BytesPerSecond())
	sec := int64(d / time.Second)
	rem := int64(d % time.Second)
	return f.Align(sec*bps + rem*bps/int64(time.Second))
}

// BytesToDuration converts a byte count to the stream time it covers.
// The sub-second part rounds up to the nanosecond, so feeding the
// result back through DurationToBytes yields n again.
func (f Format) BytesToDuration(n int64) time.Duration {
	bps := int64(f.BytesPerSecond())
	if bps <= 0 {
		return 0
	}
	sec := n / bps
	rem := n % bps
	ns := rem * int64(time.Second) / bps
	if rem > 0 && rem*int64(time.Second)%bps != 0 {
		ns++
	}
	return time.Duration(sec)*time.Second + time.Duration(ns)
}
