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
	"fmt"

	"github.com/loqalabs/loqa-voicestream-go/internal/audio"
)

// PCMEncoder passes PCM through unchanged
type PCMEncoder struct{}

// NewPCM creates a new PCM encoder
func NewPCM(format audio.Format) (Encoder, error) {
	if format.BitsPerSample != 8 && format.BitsPerSample != 16 {
		return nil, fmt.Errorf("unsupported bit depth: %d (supported: 8, 16)", format.BitsPerSample)
	}
	return &PCMEncoder{}, nil
}

// Encode returns a copy of pcm, since capture buffers are reused
func (e *PCMEncoder) Encode(pcm []byte) ([][]byte, error) {
	if len(pcm) == 0 {
		return nil, nil
	}
	out := make([]byte, len(pcm))
	copy(out, pcm)
	return [][]byte{out}, nil
}

// Close releases resources
func (e *PCMEncoder) Close() error {
	return nil
}
