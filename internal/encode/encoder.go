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

// Package encode turns captured PCM buffers into the chunks emitted as data
// events.
package encode

import (
	"fmt"

	"github.com/loqalabs/loqa-voicestream-go/internal/audio"
)

// Encoder converts PCM buffers into zero or more encoded chunks
type Encoder interface {
	// Encode consumes one PCM buffer. Stateful encoders may return no
	// chunks until enough audio has accumulated.
	Encode(pcm []byte) ([][]byte, error)

	// Close releases encoder resources
	Close() error
}

// New returns the encoder for format.Encoding
func New(format audio.Format) (Encoder, error) {
	switch format.Encoding {
	case audio.EncodingPCM16, audio.EncodingPCM8, "":
		return NewPCM(format)
	case audio.EncodingOpus:
		return NewOpus(format)
	default:
		return nil, fmt.Errorf("unsupported encoding: %q", format.Encoding)
	}
}
