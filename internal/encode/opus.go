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

package encode

import (
	"encoding/binary"
	"fmt"

	"gopkg.in/hraban/opus.v2"

	"github.com/loqalabs/loqa-voicestream-go/internal/audio"
)

// maxOpusPacket is the largest packet libopus produces.
const maxOpusPacket = 4000

// OpusSampleRates lists the rates libopus encodes natively.
var OpusSampleRates = []int{8000, 12000, 16000, 24000, 48000}

// SupportsOpus reports whether format can be Opus-encoded
func SupportsOpus(format audio.Format) error {
	if format.BitsPerSample != 16 {
		return fmt.Errorf("opus requires 16-bit samples, got %d", format.BitsPerSample)
	}
	for _, rate := range OpusSampleRates {
		if format.SampleRate == rate {
			return nil
		}
	}
	return fmt.Errorf("opus does not support %d Hz (supported: %v)", format.SampleRate, OpusSampleRates)
}

// OpusEncoder encodes PCM16 into 20ms Opus packets. Samples that do not fill
// a whole frame are held until the next buffer.
type OpusEncoder struct {
	encoder   *opus.Encoder
	channels  int
	frameSize int // samples per channel in one packet
	pending   []int16
	packet    []byte
}

// NewOpus creates a new Opus encoder
func NewOpus(format audio.Format) (Encoder, error) {
	if err := SupportsOpus(format); err != nil {
		return nil, err
	}

	encoder, err := opus.NewEncoder(format.SampleRate, format.Channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}

	frameSize := format.SampleRate / 50 // 20ms frame

	return &OpusEncoder{
		encoder:   encoder,
		channels:  format.Channels,
		frameSize: frameSize,
		pending:   make([]int16, 0, frameSize*format.Channels*2),
		packet:    make([]byte, maxOpusPacket),
	}, nil
}

// FrameSamples returns the interleaved sample count of one packet
func (e *OpusEncoder) FrameSamples() int {
	return e.frameSize * e.channels
}

// Encode appends pcm (PCM16 LE) and returns one packet per complete frame
func (e *OpusEncoder) Encode(pcm []byte) ([][]byte, error) {
	for i := 0; i+1 < len(pcm); i += 2 {
		e.pending = append(e.pending, int16(binary.LittleEndian.Uint16(pcm[i:]))) //nolint:gosec // G115: two's complement reinterpretation
	}

	need := e.FrameSamples()
	var packets [][]byte
	for len(e.pending) >= need {
		n, err := e.encoder.Encode(e.pending[:need], e.packet)
		if err != nil {
			return packets, fmt.Errorf("opus encode error: %w", err)
		}
		packet := make([]byte, n)
		copy(packet, e.packet[:n])
		packets = append(packets, packet)

		e.pending = append(e.pending[:0], e.pending[need:]...)
	}
	return packets, nil
}

// Pending returns the number of buffered samples not yet encoded
func (e *OpusEncoder) Pending() int {
	return len(e.pending)
}

// Close drops any partial frame
func (e *OpusEncoder) Close() error {
	e.pending = e.pending[:0]
	return nil
}
