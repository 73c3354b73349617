// Package protocol defines the wire format for PCM streaming between a
// tactus server and its clients: JSON control messages plus a binary
// framing for audio chunks.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Version of the stream protocol. Servers reject clients that ask for
// a different one.
const Version = 1

// Control message types.
const (
	TypeClientHello    = "client/hello"
	TypeServerHello    = "server/hello"
	TypeStreamStart    = "stream/start"
	TypeStreamMetadata = "stream/metadata"
	TypeServerError    = "server/error"
)

// Message is the top-level wrapper for all JSON control messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode wraps a payload into a Message and marshals it.
func Encode(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal %s payload: %w", msgType, err)
	}
	data, err := json.Marshal(Message{Type: msgType, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal %s: %w", msgType, err)
	}
	return data, nil
}

// ClientHello initiates the handshake.
type ClientHello struct {
	ClientID string `json:"client_id"`
	Name     string `json:"name"`
	Version  int    `json:"version"`
}

// ServerHello answers a client hello.
type ServerHello struct {
	ServerID string `json:"server_id"`
	Name     string `json:"name"`
	Version  int    `json:"version"`
}

// StreamStart announces the PCM format of the chunks that follow. The
// stream carries raw PCM only; there is no codec negotiation.
type StreamStart struct {
	Channels   int `json:"channels"`
	SampleRate int `json:"sample_rate"`
	SampleBits int `json:"sample_bits"`
}

// StreamMetadata carries track information. Clients surface it as
// marker events on the audio timeline.
type StreamMetadata struct {
	Title      string `json:"title,omitempty"`
	Artist     string `json:"artist,omitempty"`
	Album      string `json:"album,omitempty"`
	ArtworkURL string `json:"artwork_url,omitempty"`
}

// ServerError reports a fatal handshake problem before the server
// closes the connection.
type ServerError struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
