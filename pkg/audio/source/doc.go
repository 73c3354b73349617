// Package source defines where audio comes from: the Source contract
// consumed by the playback engine, and implementations for in-memory
// PCM, generated tones, WAV files, and network streams.
package source
