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
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudioBackend implements AudioBackend using the PortAudio library.
// Reads are blocking; the AudioQueue capture goroutine plays the role of the
// audio thread.
type PortAudioBackend struct {
	mu          sync.Mutex
	initialized bool
}

// NewPortAudioBackend creates a new PortAudio backend
func NewPortAudioBackend() *PortAudioBackend {
	return &PortAudioBackend{}
}

// Initialize initializes the PortAudio subsystem
func (p *PortAudioBackend) Initialize() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		return nil
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	p.initialized = true
	return nil
}

// Terminate terminates the PortAudio subsystem
func (p *PortAudioBackend) Terminate() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return nil
	}

	err := portaudio.Terminate()
	p.initialized = false
	return err
}

func (p *PortAudioBackend) isInitialized() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initialized
}

// CreateInputStream opens a capture stream on the named or default device
func (p *PortAudioBackend) CreateInputStream(params StreamParams) (StreamInterface, error) {
	if !p.isInitialized() {
		return nil, fmt.Errorf("PortAudio: %w", ErrNotInitialized)
	}

	device, err := p.inputDevice(params.Device)
	if err != nil {
		return nil, err
	}

	// Create input buffer
	inputBuffer := make([]float32, params.FramesPerBuffer*params.Channels)

	streamParams := portaudio.LowLatencyParameters(device, nil)
	streamParams.Input.Channels = params.Channels
	streamParams.SampleRate = params.SampleRate
	streamParams.FramesPerBuffer = params.FramesPerBuffer

	stream, err := portaudio.OpenStream(streamParams, inputBuffer)
	if err != nil {
		return nil, fmt.Errorf("failed to open input stream: %w", err)
	}

	return &PortAudioStream{
		stream:      stream,
		inputBuffer: inputBuffer,
	}, nil
}

// MinBufferSize derives the minimum buffer from the device's low input latency
func (p *PortAudioBackend) MinBufferSize(format Format) (int, error) {
	if err := format.Validate(); err != nil {
		return 0, err
	}
	if !p.isInitialized() {
		return 0, fmt.Errorf("PortAudio: %w", ErrNotInitialized)
	}

	device, err := portaudio.DefaultInputDevice()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNoInputDevice, err)
	}

	frames := int(device.DefaultLowInputLatency.Seconds() * float64(format.SampleRate))
	if frames < 1 {
		frames = format.SampleRate / 100
	}
	return frames * format.BytesPerFrame(), nil
}

// HasInputDevice reports whether a default capture device exists
func (p *PortAudioBackend) HasInputDevice() (bool, error) {
	if !p.isInitialized() {
		return false, fmt.Errorf("PortAudio: %w", ErrNotInitialized)
	}

	device, err := portaudio.DefaultInputDevice()
	if err != nil {
		return false, nil
	}
	return device.MaxInputChannels > 0, nil
}

func (p *PortAudioBackend) inputDevice(name string) (*portaudio.DeviceInfo, error) {
	if name == "" {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoInputDevice, err)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list audio devices: %w", err)
	}
	for _, device := range devices {
		if device.Name == name && device.MaxInputChannels > 0 {
			return device, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNoInputDevice, name)
}

// PortAudioStream implements StreamInterface using PortAudio streams
type PortAudioStream struct {
	mu          sync.Mutex
	stream      *portaudio.Stream
	inputBuffer []float32
	active      bool
}

// Start starts the audio stream
func (p *PortAudioStream) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		return fmt.Errorf("stream is nil")
	}
	if err := p.stream.Start(); err != nil {
		return err
	}
	p.active = true
	return nil
}

// Stop stops the audio stream
func (p *PortAudioStream) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		return fmt.Errorf("stream is nil")
	}
	if !p.active {
		return nil
	}
	p.active = false
	return p.stream.Stop()
}

// Close closes the audio stream
func (p *PortAudioStream) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		return fmt.Errorf("stream is nil")
	}
	err := p.stream.Close()
	p.stream = nil
	p.active = false
	return err
}

// Read reads one buffer of audio from the input stream
func (p *PortAudioStream) Read(data []float32) error {
	// Not holding mu: Read blocks for a full buffer and Stop must be able
	// to interrupt it
	stream := p.currentStream()
	if stream == nil {
		return fmt.Errorf("stream is nil")
	}

	if err := stream.Read(); err != nil {
		// Input overflow only means samples were lost upstream
		if err != portaudio.InputOverflowed {
			return err
		}
		log.Debug("input overflowed")
	}

	// Copy data from input buffer
	copy(data, p.inputBuffer)
	return nil
}

func (p *PortAudioStream) currentStream() *portaudio.Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stream
}

// IsActive returns true if the stream is started and not stopped
func (p *PortAudioStream) IsActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}
