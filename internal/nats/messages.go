/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package nats

import (
	"github.com/loqalabs/loqa-voicestream-go/internal/audio"
	"github.com/loqalabs/loqa-voicestream-go/internal/voicestream"
)

// ChunkMessage is one encoded audio chunk
type ChunkMessage struct {
	StreamID      string `json:"stream_id"`
	Sequence      uint64 `json:"sequence"`
	Encoding      string `json:"encoding"`
	SampleRate    int    `json:"sample_rate"`
	Channels      int    `json:"channels"`
	BitsPerSample int    `json:"bits_per_sample"`
	Timestamp     int64  `json:"timestamp_us"`
	Data          []byte `json:"data"` // base64 in JSON
}

// Stream states published on the status subject.
const (
	StateStarted = "started"
	StateEnded   = "ended"
)

// StatusMessage reports a recording starting or ending
type StatusMessage struct {
	StreamID string `json:"stream_id"`
	State    string `json:"state"`
	Format   string `json:"format,omitempty"`
	Chunks   uint64 `json:"chunks"`
}

// Control actions.
const (
	ActionInit  = "init"
	ActionStart = "start"
	ActionStop  = "stop"
)

// ControlMessage asks the module to change state
type ControlMessage struct {
	Action  string               `json:"action"`
	Options *voicestream.Options `json:"options,omitempty"`
}

// ControlReply answers a ControlMessage sent as a request
type ControlReply struct {
	OK      bool   `json:"ok"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func chunkMessage(streamID string, chunk voicestream.Chunk) ChunkMessage {
	return ChunkMessage{
		StreamID:      streamID,
		Sequence:      chunk.Sequence,
		Encoding:      string(chunk.Format.Encoding),
		SampleRate:    chunk.Format.SampleRate,
		Channels:      chunk.Format.Channels,
		BitsPerSample: chunk.Format.BitsPerSample,
		Timestamp:     chunk.Timestamp.UnixMicro(),
		Data:          chunk.Data,
	}
}

// Format returns the audio format the chunk was captured in
func (m ChunkMessage) Format() audio.Format {
	return audio.Format{
		SampleRate:    m.SampleRate,
		Channels:      m.Channels,
		BitsPerSample: m.BitsPerSample,
		Encoding:      audio.Encoding(m.Encoding),
	}
}
