package playback

import (
	"bytes"
	"errors"
	"io"
	"time"

	"github.com/tactus-audio/tactus-go/pkg/audio"
	"github.com/tactus-audio/tactus-go/pkg/audio/source"
)

const (
	// minRequest keeps upstream reads from degenerating into tiny
	// calls when the caller asks for slivers.
	minRequest = 4096

	// requestGrowthCap bounds how far the request size doubles when a
	// source keeps answering short.
	requestGrowthCap = 4

	// maxEmptyReads is how many consecutive zero-length packets a
	// source may emit before it is treated as exhausted. Decoders that
	// stall without signaling end of stream hit this.
	maxEmptyReads = 4
)

// ExactReader turns a Source with arbitrary packet granularity into
// one that answers reads of an exact size. It accumulates upstream
// packets internally and slices off precisely what was asked; a short
// answer means the source has nothing more to give.
//
// Per-packet timestamps and durations are dropped on the floor, since
// they carry no information once data is byte-accurate. Embedded
// events survive: they ride along attached to the next emitted packet.
type ExactReader struct {
	src        source.Source
	buf        bytes.Buffer
	pending    []audio.Event
	exhausted  bool
	emptyReads int
}

// NewExactReader wraps src.
func NewExactReader(src source.Source) *ExactReader {
	return &ExactReader{src: src}
}

// ReadPacket returns exactly n bytes, or fewer only when the source is
// exhausted, or io.EOF once everything is drained. Non-EOF source
// errors propagate unchanged.
func (r *ExactReader) ReadPacket(n int) (*audio.Packet, error) {
	if n <= 0 {
		return &audio.Packet{}, nil
	}
	if r.exhausted && r.buf.Len() == 0 {
		return nil, io.EOF
	}

	request := int64(minRequest)
	if gap := int64(n-r.buf.Len()) + 16; gap > request {
		request = gap
	}
	maxReq := request * requestGrowthCap

	for r.buf.Len() < n && !r.exhausted {
		pkt, err := r.src.ReadPacket(int(request))
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.exhausted = true
				break
			}
			return nil, err
		}
		if len(pkt.Events) > 0 {
			r.pending = append(r.pending, pkt.Events...)
		}
		if len(pkt.Data) == 0 {
			// Events-only packets carry information and are not
			// counted against the stall allowance.
			if len(pkt.Events) == 0 {
				r.emptyReads++
				if r.emptyReads >= maxEmptyReads {
					r.exhausted = true
					break
				}
			}
			continue
		}
		r.emptyReads = 0
		r.buf.Write(pkt.Data)
		if int64(len(pkt.Data)) < request {
			// Starved; ask for more next round so a block-granular
			// source is not pumped one sliver at a time.
			request *= 2
			if request > maxReq {
				request = maxReq
			}
		}
	}

	out := n
	if r.buf.Len() < out {
		out = r.buf.Len()
	}
	events := r.pending
	r.pending = nil
	if out == 0 {
		if len(events) > 0 {
			// Deliver trailing events before reporting exhaustion.
			return &audio.Packet{Events: events}, nil
		}
		return nil, io.EOF
	}
	data := make([]byte, out)
	r.buf.Read(data)
	return &audio.Packet{Data: data, Events: events}, nil
}

// Swap replaces the wrapped source, keeping accumulated bytes and
// pending events so a source chain plays gaplessly. Exhaustion state
// resets: the new source gets a fresh empty-read allowance.
func (r *ExactReader) Swap(src source.Source) {
	r.src = src
	r.exhausted = false
	r.emptyReads = 0
}

// Reset drops all accumulated state. The source itself is untouched.
func (r *ExactReader) Reset() {
	r.buf.Reset()
	r.pending = nil
	r.exhausted = false
	r.emptyReads = 0
}

// Seek forwards to the source and, on success, resets accumulation so
// no stale pre-seek audio leaks through.
func (r *ExactReader) Seek(t time.Duration) error {
	if err := r.src.Seek(t); err != nil {
		return err
	}
	r.Reset()
	return nil
}

// Buffered reports the bytes accumulated but not yet emitted.
func (r *ExactReader) Buffered() int {
	return r.buf.Len()
}
