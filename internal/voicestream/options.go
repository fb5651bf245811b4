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

package voicestream

import (
	"errors"
	"fmt"

	"github.com/loqalabs/loqa-voicestream-go/internal/audio"
	"github.com/loqalabs/loqa-voicestream-go/internal/encode"
)

const (
	DefaultSampleRate    = 44100
	DefaultChannels      = 1
	DefaultBitsPerSample = 16
	DefaultBufferSize    = 2048

	MinSampleRate = 8000
	MaxSampleRate = 48000
	MinBufferSize = 1024

	// maxReadSize caps the bytes captured per buffer.
	maxReadSize = 4096
)

// Options are the host-supplied recording options. Zero values leave the
// current setting unchanged.
type Options struct {
	SampleRate    int    `json:"sampleRate,omitempty" mapstructure:"sample_rate"`
	BufferSize    int    `json:"bufferSize,omitempty" mapstructure:"buffer_size"`
	Channels      int    `json:"channels,omitempty" mapstructure:"channels"`
	BitsPerSample int    `json:"bitsPerSample,omitempty" mapstructure:"bits_per_sample"`
	Encoding      string `json:"encoding,omitempty" mapstructure:"encoding"`
	AudioSource   string `json:"audioSource,omitempty" mapstructure:"device"`
}

// Config is the resolved recording configuration.
type Config struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	BufferSize    int
	Encoding      audio.Encoding
	AudioSource   string
	MinBufferSize int
}

// DefaultConfig returns 44.1kHz mono PCM16 with a 2048-byte buffer.
func DefaultConfig() Config {
	return Config{
		SampleRate:    DefaultSampleRate,
		Channels:      DefaultChannels,
		BitsPerSample: DefaultBitsPerSample,
		BufferSize:    DefaultBufferSize,
		Encoding:      audio.EncodingPCM16,
	}
}

// Format returns the capture format.
func (c Config) Format() audio.Format {
	return audio.Format{
		SampleRate:    c.SampleRate,
		Channels:      c.Channels,
		BitsPerSample: c.BitsPerSample,
		Encoding:      c.Encoding,
	}
}

// ReadSize returns the capture buffer size in bytes: a quarter of the
// configured buffer, at most 4096.
func (c Config) ReadSize() int {
	return min(c.BufferSize/4, maxReadSize)
}

func (c Config) String() string {
	return fmt.Sprintf("SampleRate: %d, Channels: %d, BitsPerSample: %d, Encoding: %s, AudioSource: %q, BufferSize: %d, MinBufferSize: %d",
		c.SampleRate, c.Channels, c.BitsPerSample, c.Encoding, c.AudioSource, c.BufferSize, c.MinBufferSize)
}

// Merge applies opts on top of c and validates the result.
func (c Config) Merge(opts Options) (Config, error) {
	next := c
	var errs []error

	if opts.SampleRate != 0 {
		if opts.SampleRate < MinSampleRate || opts.SampleRate > MaxSampleRate {
			errs = append(errs, fmt.Errorf("sampleRate %d outside %d..%d", opts.SampleRate, MinSampleRate, MaxSampleRate))
		}
		next.SampleRate = opts.SampleRate
	}
	if opts.Channels != 0 {
		if opts.Channels < 1 || opts.Channels > 2 {
			errs = append(errs, fmt.Errorf("channels %d outside 1..2", opts.Channels))
		}
		next.Channels = opts.Channels
	}
	if opts.BitsPerSample != 0 {
		if opts.BitsPerSample != 8 && opts.BitsPerSample != 16 {
			errs = append(errs, fmt.Errorf("bitsPerSample %d not 8 or 16", opts.BitsPerSample))
		}
		next.BitsPerSample = opts.BitsPerSample
	}
	if opts.BufferSize != 0 {
		if opts.BufferSize < MinBufferSize {
			errs = append(errs, fmt.Errorf("bufferSize %d below %d", opts.BufferSize, MinBufferSize))
		}
		next.BufferSize = opts.BufferSize
	}
	if opts.AudioSource != "" {
		next.AudioSource = opts.AudioSource
	}

	switch {
	case opts.Encoding != "":
		enc, err := audio.ParseEncoding(opts.Encoding, next.BitsPerSample)
		if err != nil {
			errs = append(errs, err)
		}
		next.Encoding = enc
	case next.Encoding != audio.EncodingOpus:
		// PCM follows the sample width
		next.Encoding, _ = audio.ParseEncoding("", next.BitsPerSample)
	}

	switch next.Encoding {
	case audio.EncodingOpus:
		if err := encode.SupportsOpus(next.Format()); err != nil {
			errs = append(errs, err)
		}
	case audio.EncodingPCM16:
		if next.BitsPerSample != 16 {
			errs = append(errs, fmt.Errorf("encoding %s needs 16-bit samples", next.Encoding))
		}
	case audio.EncodingPCM8:
		if next.BitsPerSample != 8 {
			errs = append(errs, fmt.Errorf("encoding %s needs 8-bit samples", next.Encoding))
		}
	}

	if len(errs) > 0 {
		return c, errors.Join(errs...)
	}
	return next, nil
}
