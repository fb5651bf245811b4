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

package audio

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Encoding names the payload format emitted for captured audio.
type Encoding string

const (
	EncodingPCM16 Encoding = "pcm_16bit"
	EncodingPCM8  Encoding = "pcm_8bit"
	EncodingOpus  Encoding = "opus"
)

// ParseEncoding accepts the encoding names hosts send. An empty string maps
// to the PCM encoding matching bitsPerSample.
func ParseEncoding(s string, bitsPerSample int) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		if bitsPerSample == 8 {
			return EncodingPCM8, nil
		}
		return EncodingPCM16, nil
	case "pcm", "lpcm", "linear_pcm":
		if bitsPerSample == 8 {
			return EncodingPCM8, nil
		}
		return EncodingPCM16, nil
	case "pcm_16bit", "pcm16", "s16le":
		return EncodingPCM16, nil
	case "pcm_8bit", "pcm8", "u8":
		return EncodingPCM8, nil
	case "opus":
		return EncodingOpus, nil
	default:
		return "", fmt.Errorf("unsupported encoding: %q", s)
	}
}

// Format describes captured audio.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	Encoding      Encoding
}

// DefaultFormat is 44.1kHz mono 16-bit PCM.
func DefaultFormat() Format {
	return Format{SampleRate: 44100, Channels: 1, BitsPerSample: 16, Encoding: EncodingPCM16}
}

// BytesPerFrame returns the size of one interleaved frame of PCM.
func (f Format) BytesPerFrame() int {
	return f.Channels * f.BitsPerSample / 8
}

// Validate checks that the format can be captured.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %d", f.SampleRate)
	}
	if f.Channels < 1 || f.Channels > 2 {
		return fmt.Errorf("invalid channel count: %d (supported: 1, 2)", f.Channels)
	}
	if f.BitsPerSample != 8 && f.BitsPerSample != 16 {
		return fmt.Errorf("unsupported bit depth: %d (supported: 8, 16)", f.BitsPerSample)
	}
	return nil
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch/%dbit/%s", f.SampleRate, f.Channels, f.BitsPerSample, f.Encoding)
}

// PutSamples converts float samples to PCM in dst and returns the number of
// bytes written. dst must hold len(samples)*BitsPerSample/8 bytes.
func (f Format) PutSamples(dst []byte, samples []float32) int {
	if f.BitsPerSample == 8 {
		for i, s := range samples {
			dst[i] = Float32ToPCM8(s)
		}
		return len(samples)
	}

	for i, s := range samples {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(Float32ToPCM16(s))) //nolint:gosec // G115: two's complement reinterpretation
	}
	return len(samples) * 2
}

// Float32ToPCM16 converts a [-1, 1] sample to signed 16-bit PCM.
func Float32ToPCM16(sample float32) int16 {
	// Scale by 32768 but clamp to valid int16 range
	scaled := sample * 32768
	switch {
	case scaled > 32767:
		return 32767
	case scaled <= -32768:
		return -32767 // Use -32767 instead of -32768 for symmetry
	default:
		return int16(scaled)
	}
}

// Float32ToPCM8 converts a [-1, 1] sample to unsigned 8-bit PCM.
func Float32ToPCM8(sample float32) uint8 {
	scaled := sample*128 + 128
	switch {
	case scaled > 255:
		return 255
	case scaled < 0:
		return 0
	default:
		return uint8(scaled)
	}
}

// PCM16ToFloat32 converts signed 16-bit PCM to a [-1, 1] sample.
func PCM16ToFloat32(sample int16) float32 {
	return float32(sample) / 32768
}
