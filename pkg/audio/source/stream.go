package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tactus-audio/tactus-go/internal/protocol"
	"github.com/tactus-audio/tactus-go/pkg/audio"
)

const (
	// streamQueueSize bounds buffered chunks; at the server's default
	// pacing this is on the order of ten seconds of audio.
	streamQueueSize = 256

	handshakeTimeout = 5 * time.Second

	// DefaultStreamWait is how long ReadPacket waits for network data
	// before reporting an empty read.
	DefaultStreamWait = 250 * time.Millisecond
)

// StreamMetadata is the track information last pushed by the server.
type StreamMetadata struct {
	Title      string
	Artist     string
	Album      string
	ArtworkURL string
}

// StreamConfig configures a stream source.
type StreamConfig struct {
	// URL of the server websocket endpoint, e.g. ws://host:8927/tactus.
	URL string
	// Name announced in the handshake. Defaults to "tactus".
	Name string
	// Wait bounds how long a read blocks for network data before
	// returning an empty packet. Defaults to DefaultStreamWait. Every
	// other source returns immediately; a stream cannot, and a stalled
	// stream ends playback through the engine's empty-read tolerance.
	Wait time.Duration
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// StreamSource plays PCM received from a tactus stream server. It is
// imprecise (packets arrive in whatever size the server sends), not
// seekable, and reports the sender's pace as the external master
// timeline, which is what the engine corrects drift against.
//
// Metadata pushes from the server surface as marker events carrying
// "title - artist" labels.
type StreamSource struct {
	cfg    StreamConfig
	log    *slog.Logger
	conn   *websocket.Conn
	format audio.Format
	cancel context.CancelFunc

	queue chan *audio.Packet

	mu          sync.Mutex
	baseTS      int64 // first chunk timestamp, microseconds
	haveBase    bool
	lastTS      time.Duration // normalized timestamp of the newest chunk
	lastArrival time.Time
	pendingMeta []audio.Event
	lastMeta    StreamMetadata
	dropped     int64
}

// DialStream connects, performs the handshake, and waits for the
// stream format announcement before returning.
func DialStream(ctx context.Context, cfg StreamConfig) (*StreamSource, error) {
	if cfg.Name == "" {
		cfg.Name = "tactus"
	}
	if cfg.Wait <= 0 {
		cfg.Wait = DefaultStreamWait
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("stream source: dial %s: %w", cfg.URL, err)
	}

	s := &StreamSource{
		cfg:   cfg,
		log:   log,
		conn:  conn,
		queue: make(chan *audio.Packet, streamQueueSize),
	}
	if err := s.handshake(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("stream source: handshake: %w", err)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.readLoop(readCtx)

	return s, nil
}

func (s *StreamSource) handshake() error {
	hello, err := protocol.Encode(protocol.TypeClientHello, protocol.ClientHello{
		ClientID: uuid.New().String(),
		Name:     s.cfg.Name,
		Version:  protocol.Version,
	})
	if err != nil {
		return err
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}

	s.conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer s.conn.SetReadDeadline(time.Time{})

	var sawHello bool
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read handshake: %w", err)
		}
		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("parse handshake: %w", err)
		}

		switch msg.Type {
		case protocol.TypeServerHello:
			var sh protocol.ServerHello
			if err := json.Unmarshal(msg.Payload, &sh); err != nil {
				return fmt.Errorf("parse server hello: %w", err)
			}
			if sh.Version != protocol.Version {
				return fmt.Errorf("server speaks protocol %d, want %d", sh.Version, protocol.Version)
			}
			s.log.Info("connected to stream server", "server", sh.Name)
			sawHello = true

		case protocol.TypeStreamStart:
			if !sawHello {
				return fmt.Errorf("stream/start before server/hello")
			}
			var start protocol.StreamStart
			if err := json.Unmarshal(msg.Payload, &start); err != nil {
				return fmt.Errorf("parse stream start: %w", err)
			}
			s.format = audio.Format{
				Channels:   uint16(start.Channels),
				SampleRate: uint32(start.SampleRate),
				SampleBits: uint16(start.SampleBits),
			}
			if !s.format.Valid() {
				return fmt.Errorf("server announced unusable format %+v", start)
			}
			return nil

		case protocol.TypeServerError:
			var se protocol.ServerError
			_ = json.Unmarshal(msg.Payload, &se)
			return fmt.Errorf("server rejected connection: %s", se.Error)

		default:
			// Servers may push metadata before the stream starts.
		}
	}
}

func (s *StreamSource) readLoop(ctx context.Context) {
	defer close(s.queue)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.log.Info("stream ended", "err", err)
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			s.handleChunk(data)
		case websocket.TextMessage:
			s.handleControl(data)
		}
	}
}

func (s *StreamSource) handleChunk(data []byte) {
	ts, pcm, err := protocol.DecodeChunk(data)
	if err != nil {
		s.log.Warn("dropping bad chunk", "err", err)
		return
	}
	if len(pcm) == 0 || !s.format.Aligned(int64(len(pcm))) {
		s.log.Warn("dropping misaligned chunk", "bytes", len(pcm))
		return
	}

	s.mu.Lock()
	if !s.haveBase {
		s.baseTS = ts
		s.haveBase = true
	}
	normalized := time.Duration(ts-s.baseTS) * time.Microsecond
	s.lastTS = normalized
	s.lastArrival = time.Now()
	events := s.pendingMeta
	s.pendingMeta = nil
	s.mu.Unlock()

	for i := range events {
		events[i].Timestamp = normalized
	}
	pkt := &audio.Packet{
		Data:      pcm,
		Timestamp: normalized,
		Duration:  s.format.BytesToDuration(int64(len(pcm))),
		Events:    events,
	}

	for {
		select {
		case s.queue <- pkt:
			return
		default:
		}
		// Queue full: shed the oldest chunk and retry. A paused or slow
		// consumer stays a bounded distance behind the live edge.
		select {
		case <-s.queue:
			s.mu.Lock()
			s.dropped++
			n := s.dropped
			s.mu.Unlock()
			if n%64 == 1 {
				s.log.Warn("consumer behind live edge, shedding chunks", "dropped", n)
			}
		default:
		}
	}
}

func (s *StreamSource) handleControl(data []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		s.log.Warn("dropping bad control message", "err", err)
		return
	}

	switch msg.Type {
	case protocol.TypeStreamMetadata:
		var meta protocol.StreamMetadata
		if err := json.Unmarshal(msg.Payload, &meta); err != nil {
			return
		}
		label := meta.Title
		if meta.Artist != "" {
			label = meta.Title + " - " + meta.Artist
		}
		s.mu.Lock()
		s.pendingMeta = append(s.pendingMeta, audio.Event{
			Kind:   audio.EventMarker,
			Marker: label,
		})
		s.lastMeta = StreamMetadata{
			Title:      meta.Title,
			Artist:     meta.Artist,
			Album:      meta.Album,
			ArtworkURL: meta.ArtworkURL,
		}
		s.mu.Unlock()
	default:
		s.log.Debug("ignoring control message", "type", msg.Type)
	}
}

// ReadPacket returns the next received chunk, waiting up to the
// configured bound for one to arrive. An empty packet means the stream
// is stalled; io.EOF means the server closed it.
func (s *StreamSource) ReadPacket(int) (*audio.Packet, error) {
	timer := time.NewTimer(s.cfg.Wait)
	defer timer.Stop()

	select {
	case pkt, ok := <-s.queue:
		if !ok {
			return nil, io.EOF
		}
		return pkt, nil
	case <-timer.C:
		return &audio.Packet{}, nil
	}
}

func (s *StreamSource) Precise() bool { return false }

func (s *StreamSource) Seek(time.Duration) error { return ErrNotSeekable }

func (s *StreamSource) Format() audio.Format { return s.format }

// Metadata returns the most recent track information. The marker event
// on the timeline says when it changed; this says what it changed to.
func (s *StreamSource) Metadata() StreamMetadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastMeta
}

// MasterTime reports the sender's stream clock, extrapolated from the
// newest chunk. The engine anchors this at play start, so the constant
// network delay cancels and only pace divergence remains.
func (s *StreamSource) MasterTime() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.haveBase {
		return 0, false
	}
	return s.lastTS + time.Since(s.lastArrival), true
}

// Close tears down the connection. ReadPacket reports io.EOF once the
// queue drains.
func (s *StreamSource) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	return s.conn.Close()
}
