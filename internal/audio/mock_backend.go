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
	"math"
	"sync"
	"time"
)

// ErrStreamStopped is returned by mock reads on a stopped stream.
var ErrStreamStopped = errors.New("stream stopped")

// MockAudioBackend implements AudioBackend for testing without hardware dependencies
type MockAudioBackend struct {
	mu                 sync.Mutex
	initialized        bool
	streams            map[string]*MockStream
	streamCounter      int
	initError          error
	terminateError     error
	createStreamError  error
	startError         error
	readError          error
	simulateRealTiming bool
	hasInputDevice     bool
	minBufferSize      int
	generator          func([]float32)
	recordedAudioData  [][]float32
	lastParams         StreamParams
}

// NewMockAudioBackend creates a new mock audio backend
func NewMockAudioBackend() *MockAudioBackend {
	return &MockAudioBackend{
		streams:            make(map[string]*MockStream),
		simulateRealTiming: true,
		hasInputDevice:     true,
		recordedAudioData:  make([][]float32, 0),
	}
}

// SetInitError configures the backend to return an error on Initialize()
func (m *MockAudioBackend) SetInitError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initError = err
}

// SetCreateStreamError configures the backend to return an error on stream creation
func (m *MockAudioBackend) SetCreateStreamError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createStreamError = err
}

// SetStartError configures streams created afterwards to fail on Start()
func (m *MockAudioBackend) SetStartError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startError = err
}

// SetReadError configures streams created afterwards to fail on Read()
func (m *MockAudioBackend) SetReadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readError = err
}

// FailOpenStreams makes every currently open stream fail its next Read
// with err. Streams created later are unaffected.
func (m *MockAudioBackend) FailOpenStreams(err error) {
	m.mu.Lock()
	streams := make([]*MockStream, 0, len(m.streams))
	for _, s := range m.streams {
		streams = append(streams, s)
	}
	m.mu.Unlock()

	for _, s := range streams {
		s.mu.Lock()
		s.readError = err
		s.mu.Unlock()
	}
}

// SetSimulateRealTiming controls whether reads take as long as real capture
func (m *MockAudioBackend) SetSimulateRealTiming(simulate bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.simulateRealTiming = simulate
}

// SetHasInputDevice controls the microphone availability probe
func (m *MockAudioBackend) SetHasInputDevice(available bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hasInputDevice = available
}

// SetMinBufferSize overrides the minimum buffer size reported to callers
func (m *MockAudioBackend) SetMinBufferSize(size int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.minBufferSize = size
}

// SetAudioDataGenerator sets a function to generate mock audio input data
func (m *MockAudioBackend) SetAudioDataGenerator(generator func([]float32)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generator = generator
}

// GetRecordedAudioData returns all audio data that was "recorded"
func (m *MockAudioBackend) GetRecordedAudioData() [][]float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([][]float32, len(m.recordedAudioData))
	copy(result, m.recordedAudioData)
	return result
}

// LastStreamParams returns the parameters of the most recent stream
func (m *MockAudioBackend) LastStreamParams() StreamParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastParams
}

// OpenStreams returns the number of streams not yet closed
func (m *MockAudioBackend) OpenStreams() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

// Initialize initializes the mock audio subsystem
func (m *MockAudioBackend) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initError != nil {
		return m.initError
	}

	m.initialized = true
	return nil
}

// Terminate terminates the mock audio subsystem
func (m *MockAudioBackend) Terminate() error {
	m.mu.Lock()
	if m.terminateError != nil {
		m.mu.Unlock()
		return m.terminateError
	}

	var streams []*MockStream
	for _, stream := range m.streams {
		streams = append(streams, stream)
	}
	m.mu.Unlock()

	// Stop/Close take the backend lock, so call them unlocked
	for _, stream := range streams {
		_ = stream.Stop()  // Ignore errors during cleanup
		_ = stream.Close() // Ignore errors during cleanup
	}

	m.mu.Lock()
	m.initialized = false
	m.mu.Unlock()
	return nil
}

// CreateInputStream creates a mock input stream
func (m *MockAudioBackend) CreateInputStream(params StreamParams) (StreamInterface, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil, fmt.Errorf("mock audio backend: %w", ErrNotInitialized)
	}

	if m.createStreamError != nil {
		return nil, m.createStreamError
	}

	if params.Channels < 1 || params.FramesPerBuffer < 1 || params.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid stream parameters: %+v", params)
	}

	streamID := fmt.Sprintf("input_%d", m.streamCounter)
	m.streamCounter++
	m.lastParams = params

	stream := &MockStream{
		id:                 streamID,
		backend:            m,
		params:             params,
		simulateRealTiming: m.simulateRealTiming,
		startError:         m.startError,
		readError:          m.readError,
		generator:          m.generator,
		isOpen:             true,
	}

	m.streams[streamID] = stream
	return stream, nil
}

// MinBufferSize returns the configured minimum, or 20ms of audio by default
func (m *MockAudioBackend) MinBufferSize(format Format) (int, error) {
	if err := format.Validate(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.minBufferSize > 0 {
		return m.minBufferSize, nil
	}
	return format.SampleRate / 50 * format.BytesPerFrame(), nil
}

// HasInputDevice reports the configured availability
func (m *MockAudioBackend) HasInputDevice() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return false, fmt.Errorf("mock audio backend: %w", ErrNotInitialized)
	}
	return m.hasInputDevice, nil
}

func (m *MockAudioBackend) record(data []float32) {
	dataCopy := make([]float32, len(data))
	copy(dataCopy, data)

	m.mu.Lock()
	m.recordedAudioData = append(m.recordedAudioData, dataCopy)
	m.mu.Unlock()
}

func (m *MockAudioBackend) forget(id string) {
	m.mu.Lock()
	delete(m.streams, id)
	m.mu.Unlock()
}

// MockStream implements StreamInterface for testing
type MockStream struct {
	mu                 sync.Mutex
	id                 string
	backend            *MockAudioBackend
	params             StreamParams
	isOpen             bool
	isActive           bool
	simulateRealTiming bool
	startError         error
	readError          error
	generator          func([]float32)
	phase              float64
	reads              int
}

// Start starts the mock stream
func (m *MockStream) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.startError != nil {
		return m.startError
	}
	if !m.isOpen {
		return fmt.Errorf("stream not open")
	}
	if m.isActive {
		return fmt.Errorf("stream already active")
	}

	m.isActive = true
	return nil
}

// Stop stops the mock stream
func (m *MockStream) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.isActive = false
	return nil
}

// Close closes the mock stream
func (m *MockStream) Close() error {
	m.mu.Lock()
	if !m.isOpen {
		m.mu.Unlock()
		return nil // Already closed
	}
	m.isOpen = false
	m.isActive = false
	m.mu.Unlock()

	m.backend.forget(m.id)
	return nil
}

// Read fills data with generated audio
func (m *MockStream) Read(data []float32) error {
	m.mu.Lock()
	if m.readError != nil {
		m.mu.Unlock()
		return m.readError
	}
	if !m.isOpen {
		m.mu.Unlock()
		return fmt.Errorf("stream not open")
	}
	if !m.isActive {
		m.mu.Unlock()
		return ErrStreamStopped
	}

	if m.generator != nil {
		m.generator(data)
	} else {
		// Default: 440 Hz sine wave, continuous across reads
		step := 2 * math.Pi * 440 / m.params.SampleRate
		for i := 0; i < len(data); i += m.params.Channels {
			v := float32(0.1 * math.Sin(m.phase))
			for c := 0; c < m.params.Channels && i+c < len(data); c++ {
				data[i+c] = v
			}
			m.phase += step
		}
	}
	m.reads++
	simulate := m.simulateRealTiming
	m.mu.Unlock()

	m.backend.record(data)

	// Simulate real timing if enabled
	if simulate {
		frames := len(data) / m.params.Channels
		time.Sleep(time.Duration(float64(frames) / m.params.SampleRate * float64(time.Second)))
	} else {
		// Yield so tight test loops don't starve other goroutines
		time.Sleep(time.Millisecond)
	}
	return nil
}

// IsActive returns true if the mock stream is active
func (m *MockStream) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isActive
}

// Reads returns the number of successful reads
func (m *MockStream) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}
