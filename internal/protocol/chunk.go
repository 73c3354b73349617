package protocol

import (
	"encoding/binary"
	"fmt"
)

// ChunkTypeAudio is the only binary message type currently defined.
const ChunkTypeAudio = 1

// chunkHeaderSize is one type byte plus an 8-byte timestamp.
const chunkHeaderSize = 9

// EncodeChunk frames a PCM slice as a binary audio chunk:
// [type:1][timestamp_us:8 big-endian][pcm:n]. The timestamp is the
// position of the chunk's first frame on the sender's stream clock,
// in microseconds.
func EncodeChunk(timestampUS int64, pcm []byte) []byte {
	chunk := make([]byte, chunkHeaderSize+len(pcm))
	chunk[0] = ChunkTypeAudio
	binary.BigEndian.PutUint64(chunk[1:chunkHeaderSize], uint64(timestampUS))
	copy(chunk[chunkHeaderSize:], pcm)
	return chunk
}

// DecodeChunk splits a binary audio chunk into its timestamp and PCM
// payload. The payload aliases the input.
func DecodeChunk(data []byte) (timestampUS int64, pcm []byte, err error) {
	if len(data) < chunkHeaderSize {
		return 0, nil, fmt.Errorf("protocol: chunk too short (%d bytes)", len(data))
	}
	if data[0] != ChunkTypeAudio {
		return 0, nil, fmt.Errorf("protocol: unknown chunk type %d", data[0])
	}
	return int64(binary.BigEndian.Uint64(data[1:chunkHeaderSize])), data[chunkHeaderSize:], nil
}
