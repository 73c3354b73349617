package server

import (
	"errors"
	"io"
	"time"

	"github.com/tactus-audio/tactus-go/internal/protocol"
	"github.com/tactus-audio/tactus-go/pkg/audio"
)

// broadcast paces the source onto the wire: one chunk per interval,
// stamped with the position of its first frame on the stream clock.
// Clients that join mid-stream pick the timeline up from their first
// chunk. The loop ends when the source drains, which ends the server.
func (s *Server) broadcast() {
	defer s.wg.Done()
	defer close(s.pacerDone)

	src := s.config.Source
	format := src.Format()
	chunkBytes := format.DurationToBytes(s.config.Chunk)

	ticker := time.NewTicker(s.config.Chunk)
	defer ticker.Stop()

	var (
		pending []byte
		sent    int64
		chunks  int64
	)

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
		}

		for int64(len(pending)) < chunkBytes {
			pkt, err := src.ReadPacket(int(chunkBytes - int64(len(pending))))
			if err != nil {
				// Flush whatever is left and end the stream.
				s.fanOut(format, sent, pending)
				if !errors.Is(err, io.EOF) {
					s.log.Error("source read failed", "error", err)
				}
				return
			}
			s.relayMarkers(pkt.Events)
			if len(pkt.Data) == 0 {
				break
			}
			pending = append(pending, pkt.Data...)
		}

		if int64(len(pending)) < chunkBytes {
			// Source is dry this tick. Hold the partial chunk; clients
			// ride out the stall on their own wait bound.
			continue
		}

		s.fanOut(format, sent, pending[:chunkBytes])
		sent += chunkBytes
		pending = append(pending[:0], pending[chunkBytes:]...)

		chunks++
		if chunks%100 == 0 {
			s.log.Debug("broadcast position",
				"stream_time", format.BytesToDuration(sent), "clients", s.clientCount())
		}
	}
}

// fanOut frames one chunk and queues it for every client.
func (s *Server) fanOut(format audio.Format, sent int64, pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	chunk := protocol.EncodeChunk(format.BytesToDuration(sent).Microseconds(), pcm)
	for _, c := range s.snapshotClients() {
		s.sendBinary(c, chunk)
	}
}

// relayMarkers forwards marker events from the source as metadata
// pushes, so markers survive the hop to every listener.
func (s *Server) relayMarkers(events []audio.Event) {
	for _, ev := range events {
		if ev.Kind != audio.EventMarker {
			continue
		}
		meta := protocol.StreamMetadata{Title: ev.Marker}
		for _, c := range s.snapshotClients() {
			s.sendJSON(c, protocol.TypeStreamMetadata, meta)
		}
	}
}

func (s *Server) clientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
