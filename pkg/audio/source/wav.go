package source

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/tactus-audio/tactus-go/pkg/audio"
)

// wavBlockFrames is the decode granularity. The source deliberately
// returns blocks of this size regardless of what the caller asked for,
// which is what the exact-read layer exists to absorb.
const wavBlockFrames = 4096

// WAVSource reads PCM from a WAV container. The container is parsed,
// not decoded: compressed payloads are rejected by the underlying
// reader. Output is always 16-bit little-endian; 24- and 32-bit files
// are shifted down.
//
// The source is imprecise on purpose (see wavBlockFrames) and
// seekable. Seeking backwards reopens the decoder and skips forward,
// so it costs a pass over the file.
type WAVSource struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	dec    *wav.Decoder
	format audio.Format
	buf     *goaudio.IntBuffer
	shift   uint
	pending *audio.Packet // tail of a block cut by Seek
	frames  int64         // decode position in frames from the start of the file
	total   int64         // estimated total frames
}

// OpenWAV opens and validates a WAV file.
func OpenWAV(path string) (*WAVSource, error) {
	s := &WAVSource{path: path}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *WAVSource) open() error {
	file, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("wav source: %w", err)
	}

	dec := wav.NewDecoder(file)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		file.Close()
		return fmt.Errorf("wav source: %s is not a valid WAV file", s.path)
	}
	if dec.BitDepth != 16 && dec.BitDepth != 24 && dec.BitDepth != 32 {
		file.Close()
		return fmt.Errorf("wav source: unsupported bit depth %d", dec.BitDepth)
	}
	if dec.NumChans != 1 && dec.NumChans != 2 {
		file.Close()
		return fmt.Errorf("wav source: unsupported channel count %d", dec.NumChans)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("wav source: %w", err)
	}

	s.file = file
	s.dec = dec
	s.shift = uint(dec.BitDepth - 16)
	s.format = audio.Format{
		Channels:   uint16(dec.NumChans),
		SampleBits: 16,
		SampleRate: dec.SampleRate,
	}
	s.frames = 0
	s.total = info.Size() / int64(dec.BitDepth/8) / int64(dec.NumChans)
	s.buf = &goaudio.IntBuffer{
		Data: make([]int, wavBlockFrames*int(dec.NumChans)),
		Format: &goaudio.Format{
			SampleRate:  int(dec.SampleRate),
			NumChannels: int(dec.NumChans),
		},
	}
	return nil
}

func (s *WAVSource) ReadPacket(int) (*audio.Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending != nil {
		pkt := s.pending
		s.pending = nil
		return pkt, nil
	}
	return s.readBlock()
}

// readBlock decodes one block. Caller holds the lock.
func (s *WAVSource) readBlock() (*audio.Packet, error) {
	if s.dec == nil {
		return nil, io.EOF
	}

	n, err := s.dec.PCMBuffer(s.buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("wav source: decode: %w", err)
	}
	if n == 0 {
		return nil, io.EOF
	}

	channels := int(s.format.Channels)
	samples := n - n%channels
	data := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(int16(s.buf.Data[i]>>s.shift)))
	}

	bpf := int64(s.format.BytesPerFrame())
	start := s.frames
	s.frames += int64(samples / channels)

	return &audio.Packet{
		Data:      data,
		Timestamp: s.format.BytesToDuration(start * bpf),
		Duration:  s.format.BytesToDuration(int64(len(data))),
	}, nil
}

func (s *WAVSource) Precise() bool { return false }

// Seek repositions to t. Forward seeks skip by decoding; backward
// seeks reopen the file first.
func (s *WAVSource) Seek(t time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t < 0 {
		t = 0
	}
	bpf := int64(s.format.BytesPerFrame())
	target := s.format.DurationToBytes(t) / bpf
	s.pending = nil

	if target < s.frames || s.dec == nil {
		if err := s.closeLocked(); err != nil {
			return err
		}
		if err := s.open(); err != nil {
			return err
		}
	}

	for s.frames < target {
		pkt, err := s.readBlock()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		// The block that crosses the target keeps its tail for the
		// next read, so the seek lands on the exact frame.
		if s.frames > target {
			cut := (int64(len(pkt.Data)) - (s.frames-target)*bpf)
			s.pending = &audio.Packet{
				Data:      pkt.Data[cut:],
				Timestamp: s.format.BytesToDuration(target * bpf),
				Duration:  s.format.BytesToDuration(int64(len(pkt.Data)) - cut),
			}
		}
	}
	return nil
}

func (s *WAVSource) Format() audio.Format { return s.format }

// Duration estimates the file length from its size. Header bytes make
// it run a fraction of a block long; good enough for progress display.
func (s *WAVSource) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format.BytesToDuration(s.total * int64(s.format.BytesPerFrame()))
}

// Close releases the underlying file.
func (s *WAVSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *WAVSource) closeLocked() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	s.dec = nil
	return err
}
