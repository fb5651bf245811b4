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
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAlreadyRunning is returned when starting a queue that is recording.
	ErrAlreadyRunning = errors.New("audio queue already running")

	// ErrNotInitialized is returned by backends used before Initialize.
	ErrNotInitialized = errors.New("audio backend not initialized")

	// ErrNoInputDevice is returned when no capture device is available.
	ErrNoInputDevice = errors.New("no audio input device available")

	// ErrStreamStart wraps failures of an opened stream to begin capturing.
	ErrStreamStart = errors.New("failed to start input stream")
)

// AudioBackend provides an abstraction layer over a native capture API.
// This enables dependency injection and makes testing hardware-independent.
type AudioBackend interface {
	// Initialize the audio subsystem
	Initialize() error

	// Terminate the audio subsystem
	Terminate() error

	// CreateInputStream opens a capture stream
	CreateInputStream(params StreamParams) (StreamInterface, error)

	// MinBufferSize returns the smallest capture buffer, in bytes, the
	// device accepts for the given format
	MinBufferSize(format Format) (int, error)

	// HasInputDevice reports whether a capture device can be used
	HasInputDevice() (bool, error)
}

// StreamInterface abstracts capture stream operations
type StreamInterface interface {
	// Start the audio stream
	Start() error

	// Stop the audio stream
	Stop() error

	// Close the audio stream and release resources
	Close() error

	// Read blocks until len(data) samples are captured. Samples are
	// interleaved and normalized to [-1, 1].
	Read(data []float32) error

	// IsActive returns true if the stream is currently active
	IsActive() bool
}

// StreamParams holds parameters for stream creation
type StreamParams struct {
	SampleRate      float64
	Channels        int
	FramesPerBuffer int
	Device          string // empty selects the default input device
}

// Backend names accepted by NewBackend.
const (
	BackendPortAudio = "portaudio"
	BackendMalgo     = "malgo"
	BackendMock      = "mock"
)

// NewBackend returns an uninitialized backend by name. An empty name selects
// PortAudio.
func NewBackend(name string) (AudioBackend, error) {
	switch strings.ToLower(name) {
	case "", BackendPortAudio:
		return NewPortAudioBackend(), nil
	case BackendMalgo, "miniaudio":
		return NewMalgoBackend(), nil
	case BackendMock:
		return NewMockAudioBackend(), nil
	default:
		return nil, fmt.Errorf("unknown audio backend: %q", name)
	}
}
