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

package transport

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Binary frame protocol for streaming captured audio to a hub over plain
// HTTP/1.1 POSTs. Frames are small enough for microcontroller hubs.

// FrameType represents the type of frame being transmitted
type FrameType uint8

const (
	// Audio frame types
	FrameTypeAudioData FrameType = 0x01
	FrameTypeAudioEnd  FrameType = 0x02

	// Control frame types
	FrameTypeHeartbeat FrameType = 0x10
	FrameTypeHandshake FrameType = 0x11
	FrameTypeError     FrameType = 0x12

	// Response frame types
	FrameTypeStatus FrameType = 0x21
)

func (t FrameType) String() string {
	switch t {
	case FrameTypeAudioData:
		return "audio_data"
	case FrameTypeAudioEnd:
		return "audio_end"
	case FrameTypeHeartbeat:
		return "heartbeat"
	case FrameTypeHandshake:
		return "handshake"
	case FrameTypeError:
		return "error"
	case FrameTypeStatus:
		return "status"
	default:
		return fmt.Sprintf("unknown(0x%02X)", uint8(t))
	}
}

const (
	// FrameMagic is "VSTR" in big-endian
	FrameMagic uint32 = 0x56535452

	// Header layout: magic(4) type(1) reserved(1) length(2) session(4)
	// sequence(4) timestamp µs(8), all big-endian
	HeaderSize   = 24
	MaxFrameSize = 1536
	MaxDataSize  = MaxFrameSize - HeaderSize
)

// Frame represents a binary frame in the protocol
type Frame struct {
	Type      FrameType
	SessionID uint32
	Sequence  uint32
	Timestamp uint64
	Data      []byte
}

// FrameHeader is the decoded fixed-size header
type FrameHeader struct {
	Type      FrameType
	Length    uint16
	SessionID uint32
	Sequence  uint32
	Timestamp uint64
}

// NewFrame creates a new frame with the specified parameters
func NewFrame(frameType FrameType, sessionID, sequence uint32, timestamp uint64, data []byte) *Frame {
	return &Frame{
		Type:      frameType,
		SessionID: sessionID,
		Sequence:  sequence,
		Timestamp: timestamp,
		Data:      data,
	}
}

// MarshalBinary encodes the frame
func (f *Frame) MarshalBinary() ([]byte, error) {
	if len(f.Data) > MaxDataSize {
		return nil, fmt.Errorf("frame data too large: %d bytes (max %d)", len(f.Data), MaxDataSize)
	}

	out := make([]byte, HeaderSize+len(f.Data))
	binary.BigEndian.PutUint32(out[0:], FrameMagic)
	out[4] = byte(f.Type)
	out[5] = 0
	binary.BigEndian.PutUint16(out[6:], uint16(len(f.Data))) //nolint:gosec // G115: bounded by MaxDataSize
	binary.BigEndian.PutUint32(out[8:], f.SessionID)
	binary.BigEndian.PutUint32(out[12:], f.Sequence)
	binary.BigEndian.PutUint64(out[16:], f.Timestamp)
	copy(out[HeaderSize:], f.Data)
	return out, nil
}

// UnmarshalFrame decodes exactly one frame from data
func UnmarshalFrame(data []byte) (*Frame, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("frame too small: %d bytes (min %d)", len(data), HeaderSize)
	}

	header, err := parseFrameHeader(data[:HeaderSize])
	if err != nil {
		return nil, err
	}

	expectedSize := HeaderSize + int(header.Length)
	if len(data) != expectedSize {
		return nil, fmt.Errorf("frame size mismatch: got %d bytes, expected %d", len(data), expectedSize)
	}

	return header.frame(data[HeaderSize:]), nil
}

// ReadFrame reads the next frame from a stream of concatenated frames
func ReadFrame(r io.Reader) (*Frame, error) {
	headerData := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerData); err != nil {
		return nil, err
	}

	header, err := parseFrameHeader(headerData)
	if err != nil {
		return nil, err
	}

	payload := make([]byte, header.Length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("failed to read frame data: %w", err)
	}
	return header.frame(payload), nil
}

func parseFrameHeader(headerData []byte) (*FrameHeader, error) {
	if len(headerData) != HeaderSize {
		return nil, fmt.Errorf("invalid header size: %d bytes (expected %d)", len(headerData), HeaderSize)
	}

	if magic := binary.BigEndian.Uint32(headerData[0:]); magic != FrameMagic {
		return nil, fmt.Errorf("invalid frame magic: 0x%08X (expected 0x%08X)", magic, FrameMagic)
	}

	header := &FrameHeader{
		Type:      FrameType(headerData[4]),
		Length:    binary.BigEndian.Uint16(headerData[6:]),
		SessionID: binary.BigEndian.Uint32(headerData[8:]),
		Sequence:  binary.BigEndian.Uint32(headerData[12:]),
		Timestamp: binary.BigEndian.Uint64(headerData[16:]),
	}

	if header.Length > MaxDataSize {
		return nil, fmt.Errorf("frame data too large: %d bytes (max %d)", header.Length, MaxDataSize)
	}
	return header, nil
}

func (h *FrameHeader) frame(payload []byte) *Frame {
	f := &Frame{
		Type:      h.Type,
		SessionID: h.SessionID,
		Sequence:  h.Sequence,
		Timestamp: h.Timestamp,
	}
	if len(payload) > 0 {
		f.Data = make([]byte, len(payload))
		copy(f.Data, payload)
	}
	return f
}

// SplitPayload cuts data into pieces that each fit one frame
func SplitPayload(data []byte) [][]byte {
	if len(data) == 0 {
		return nil
	}
	pieces := make([][]byte, 0, (len(data)+MaxDataSize-1)/MaxDataSize)
	for len(data) > MaxDataSize {
		pieces = append(pieces, data[:MaxDataSize])
		data = data[MaxDataSize:]
	}
	return append(pieces, data)
}

// Size returns the total serialized size of the frame
func (f *Frame) Size() int {
	return HeaderSize + len(f.Data)
}
