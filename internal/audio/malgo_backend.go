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
	"math"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

// malgoPendingChunks bounds how many device periods may wait for Read.
const malgoPendingChunks = 16

// MalgoBackend implements AudioBackend on miniaudio via malgo. miniaudio
// invokes the data callback on its own audio thread; the callback copies
// frames into a bounded channel that Read drains.
type MalgoBackend struct {
	mu  sync.Mutex
	ctx *malgo.AllocatedContext
}

// NewMalgoBackend creates a new malgo backend
func NewMalgoBackend() *MalgoBackend {
	return &MalgoBackend{}
}

// Initialize creates the miniaudio context
func (b *MalgoBackend) Initialize() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ctx != nil {
		return nil
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		log.Debug("miniaudio", "message", message)
	})
	if err != nil {
		return fmt.Errorf("failed to initialize malgo context: %w", err)
	}

	b.ctx = ctx
	return nil
}

// Terminate releases the miniaudio context
func (b *MalgoBackend) Terminate() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ctx == nil {
		return nil
	}

	err := b.ctx.Uninit()
	b.ctx.Free()
	b.ctx = nil
	return err
}

func (b *MalgoBackend) context() (*malgo.AllocatedContext, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx == nil {
		return nil, fmt.Errorf("malgo: %w", ErrNotInitialized)
	}
	return b.ctx, nil
}

// CreateInputStream initializes a capture device delivering float32 frames
func (b *MalgoBackend) CreateInputStream(params StreamParams) (StreamInterface, error) {
	ctx, err := b.context()
	if err != nil {
		return nil, err
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(params.Channels)          //nolint:gosec // G115: 1 or 2
	deviceConfig.SampleRate = uint32(params.SampleRate)              //nolint:gosec // G115: validated sample rate
	deviceConfig.PeriodSizeInFrames = uint32(params.FramesPerBuffer) //nolint:gosec // G115: bounded by buffer size
	deviceConfig.Alsa.NoMMap = 1

	if params.Device != "" {
		info, err := b.findDevice(ctx, params.Device)
		if err != nil {
			return nil, err
		}
		deviceConfig.Capture.DeviceID = info.ID.Pointer()
	}

	stream := &MalgoStream{
		channels: params.Channels,
		pending:  make(chan []float32, malgoPendingChunks),
		stopped:  make(chan struct{}),
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			stream.onData(input, frameCount)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize capture device: %w", err)
	}

	stream.device = device
	return stream, nil
}

// MinBufferSize returns one 10ms period, miniaudio's low-latency default
func (b *MalgoBackend) MinBufferSize(format Format) (int, error) {
	if err := format.Validate(); err != nil {
		return 0, err
	}
	return format.SampleRate / 100 * format.BytesPerFrame(), nil
}

// HasInputDevice reports whether miniaudio sees any capture device
func (b *MalgoBackend) HasInputDevice() (bool, error) {
	ctx, err := b.context()
	if err != nil {
		return false, err
	}

	devices, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return false, fmt.Errorf("failed to list capture devices: %w", err)
	}
	return len(devices) > 0, nil
}

func (b *MalgoBackend) findDevice(ctx *malgo.AllocatedContext, name string) (malgo.DeviceInfo, error) {
	devices, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return malgo.DeviceInfo{}, fmt.Errorf("failed to list capture devices: %w", err)
	}
	for _, info := range devices {
		if info.Name() == name {
			return info, nil
		}
	}
	return malgo.DeviceInfo{}, fmt.Errorf("%w: %q", ErrNoInputDevice, name)
}

// MalgoStream adapts a callback-driven malgo capture device to blocking reads
type MalgoStream struct {
	mu       sync.Mutex
	device   *malgo.Device
	channels int
	active   atomic.Bool

	pending  chan []float32
	leftover []float32
	stopped  chan struct{}
	stopOnce sync.Once
	dropped  atomic.Uint64
}

// onData runs on the miniaudio audio thread.
func (s *MalgoStream) onData(input []byte, frameCount uint32) {
	if !s.active.Load() {
		return
	}

	n := int(frameCount) * s.channels
	if len(input) < n*4 {
		n = len(input) / 4
	}
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(input[i*4:]))
	}

	select {
	case s.pending <- samples:
	default:
		s.dropped.Add(1)
	}
}

// Start starts the capture device
func (s *MalgoStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.device == nil {
		return fmt.Errorf("device is nil")
	}
	s.active.Store(true)
	if err := s.device.Start(); err != nil {
		s.active.Store(false)
		return fmt.Errorf("failed to start capture device: %w", err)
	}
	return nil
}

// Stop stops the capture device and unblocks pending reads
func (s *MalgoStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.device == nil {
		return fmt.Errorf("device is nil")
	}
	s.active.Store(false)
	s.stopOnce.Do(func() { close(s.stopped) })
	return s.device.Stop()
}

// Close releases the capture device
func (s *MalgoStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.device == nil {
		return nil
	}
	s.active.Store(false)
	s.stopOnce.Do(func() { close(s.stopped) })
	s.device.Uninit()
	s.device = nil

	if n := s.dropped.Load(); n > 0 {
		log.Warn("⚠️ malgo periods dropped", "dropped", n)
	}
	return nil
}

// Read blocks until data is full or the stream is stopped
func (s *MalgoStream) Read(data []float32) error {
	filled := copy(data, s.leftover)
	s.leftover = s.leftover[filled:]

	for filled < len(data) {
		select {
		case chunk := <-s.pending:
			n := copy(data[filled:], chunk)
			filled += n
			if n < len(chunk) {
				s.leftover = chunk[n:]
			}
		case <-s.stopped:
			return ErrStreamStopped
		}
	}
	return nil
}

// IsActive returns true while the device is capturing
func (s *MalgoStream) IsActive() bool {
	return s.active.Load()
}
