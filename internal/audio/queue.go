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
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-voicestream-go/internal/logging"
	"github.com/loqalabs/loqa-voicestream-go/internal/registry"
)

var log = logging.L("audio")

const (
	// NumberBuffers is the size of the capture buffer pool: one buffer being
	// filled, one in the callback, one waiting to be re-enqueued.
	NumberBuffers = 3

	// DefaultStopTimeout bounds how long Stop waits for the capture and
	// callback goroutines.
	DefaultStopTimeout = 500 * time.Millisecond
)

// QueueBuffer is one capture buffer in the pool.
type QueueBuffer struct {
	Index     int
	Data      []byte // capacity is RecordState.BufferByteSize
	Len       int    // bytes of PCM currently held
	Timestamp time.Time
}

// Bytes returns the filled portion of the buffer.
func (b *QueueBuffer) Bytes() []byte {
	return b.Data[:b.Len]
}

// RecordState is the capture state for one recording. Owner refers back to
// the module that started it; callbacks resolve it through a registry and
// never hold the module itself.
type RecordState struct {
	Format         Format
	Buffers        [NumberBuffers]*QueueBuffer
	BufferByteSize int
	Owner          registry.Handle

	running atomic.Bool
}

// IsRunning reports whether the queue is capturing.
func (s *RecordState) IsRunning() bool {
	return s.running.Load()
}

// InputCallback is invoked on the callback goroutine with each filled buffer.
// The buffer is re-enqueued when the callback returns, so it must not be
// retained.
type InputCallback func(state *RecordState, buf *QueueBuffer)

// QueueConfig configures an AudioQueue.
type QueueConfig struct {
	Format         Format
	BufferByteSize int
	Device         string
	Owner          registry.Handle
	Callback       InputCallback
	OnError        func(error)
	StopTimeout    time.Duration
}

// AudioQueue records from a backend input stream into a fixed pool of
// buffers and hands filled buffers to a callback goroutine.
type AudioQueue struct {
	backend AudioBackend
	cfg     QueueConfig

	mu           sync.Mutex
	state        *RecordState
	stream       StreamInterface
	free         chan *QueueBuffer
	filled       chan *QueueBuffer
	stopCh       chan struct{}
	captureDone  chan struct{}
	callbackDone chan struct{}

	delivered atomic.Uint64
	overruns  atomic.Uint64

	errMu   sync.Mutex
	lastErr error
}

// NewAudioQueue creates a stopped queue.
func NewAudioQueue(backend AudioBackend, cfg QueueConfig) (*AudioQueue, error) {
	if backend == nil {
		return nil, fmt.Errorf("audio backend is required")
	}
	if cfg.Callback == nil {
		return nil, fmt.Errorf("input callback is required")
	}
	if err := cfg.Format.Validate(); err != nil {
		return nil, err
	}
	if cfg.BufferByteSize < cfg.Format.BytesPerFrame() {
		return nil, fmt.Errorf("buffer size %d smaller than one frame (%d bytes)",
			cfg.BufferByteSize, cfg.Format.BytesPerFrame())
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}

	return &AudioQueue{backend: backend, cfg: cfg}, nil
}

// Start allocates and enqueues the buffers, opens the input stream and
// begins capturing.
func (q *AudioQueue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state != nil {
		if q.state.IsRunning() {
			return ErrAlreadyRunning
		}
		// Capture failed earlier; release it before starting over
		q.teardownLocked()
	}

	format := q.cfg.Format
	frames := q.cfg.BufferByteSize / format.BytesPerFrame()
	byteSize := frames * format.BytesPerFrame()

	stream, err := q.backend.CreateInputStream(StreamParams{
		SampleRate:      float64(format.SampleRate),
		Channels:        format.Channels,
		FramesPerBuffer: frames,
		Device:          q.cfg.Device,
	})
	if err != nil {
		return fmt.Errorf("failed to create input stream: %w", err)
	}

	state := &RecordState{
		Format:         format,
		BufferByteSize: byteSize,
		Owner:          q.cfg.Owner,
	}

	q.free = make(chan *QueueBuffer, NumberBuffers)
	q.filled = make(chan *QueueBuffer, NumberBuffers)
	for i := range state.Buffers {
		buf := &QueueBuffer{Index: i, Data: make([]byte, byteSize)}
		state.Buffers[i] = buf
		q.free <- buf
	}

	if err := stream.Start(); err != nil {
		if closeErr := stream.Close(); closeErr != nil {
			log.Warn("⚠️ failed to close input stream", logging.Err(closeErr))
		}
		return fmt.Errorf("%w: %w", ErrStreamStart, err)
	}

	q.state = state
	q.stream = stream
	q.stopCh = make(chan struct{})
	q.captureDone = make(chan struct{})
	q.callbackDone = make(chan struct{})
	q.setErr(nil)

	state.running.Store(true)

	samples := make([]float32, frames*format.Channels)
	go q.captureLoop(state, stream, samples)
	go q.callbackLoop(state)

	log.Info("🎤 audio queue started",
		"format", format.String(),
		"buffers", NumberBuffers,
		"bufferBytes", byteSize,
		"framesPerBuffer", frames)
	return nil
}

// Stop stops capturing and releases the buffers. Stopping a stopped queue
// is a no-op.
func (q *AudioQueue) Stop() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state == nil {
		return nil
	}

	q.state.running.Store(false)
	close(q.stopCh)

	var errs []error
	if err := q.stream.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop input stream: %w", err))
	}

	timer := time.NewTimer(q.cfg.StopTimeout)
	defer timer.Stop()
	for _, done := range []chan struct{}{q.captureDone, q.callbackDone} {
		select {
		case <-done:
		case <-timer.C:
			log.Warn("⚠️ audio goroutines didn't finish gracefully", "timeout", q.cfg.StopTimeout)
		}
	}

	if err := q.stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close input stream: %w", err))
	}
	q.releaseLocked()

	log.Info("🎤 audio queue stopped",
		"delivered", q.delivered.Load(),
		"overruns", q.overruns.Load())
	return errors.Join(errs...)
}

// IsRunning reports whether the queue is capturing.
func (q *AudioQueue) IsRunning() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state != nil && q.state.IsRunning()
}

// State returns the current capture state, or nil when stopped.
func (q *AudioQueue) State() *RecordState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Delivered returns the number of buffers handed to the callback.
func (q *AudioQueue) Delivered() uint64 {
	return q.delivered.Load()
}

// Overruns returns the number of reads discarded because every buffer was
// still in use.
func (q *AudioQueue) Overruns() uint64 {
	return q.overruns.Load()
}

// Err returns the error that ended capture, if any.
func (q *AudioQueue) Err() error {
	q.errMu.Lock()
	defer q.errMu.Unlock()
	return q.lastErr
}

func (q *AudioQueue) setErr(err error) {
	q.errMu.Lock()
	q.lastErr = err
	q.errMu.Unlock()
}

// teardownLocked releases a queue whose capture already ended.
func (q *AudioQueue) teardownLocked() {
	close(q.stopCh)
	<-q.captureDone
	select {
	case <-q.callbackDone:
	case <-time.After(q.cfg.StopTimeout):
	}
	_ = q.stream.Stop()  // Ignore errors during cleanup
	_ = q.stream.Close() // Ignore errors during cleanup
	q.releaseLocked()
}

func (q *AudioQueue) releaseLocked() {
	for i := range q.state.Buffers {
		q.state.Buffers[i] = nil
	}
	q.state = nil
	q.stream = nil
	q.free = nil
	q.filled = nil
}

// captureLoop runs on its own goroutine and owns the stream reads.
func (q *AudioQueue) captureLoop(state *RecordState, stream StreamInterface, samples []float32) {
	defer close(q.captureDone)
	defer func() {
		if r := recover(); r != nil {
			q.fail(state, fmt.Errorf("capture panic: %v", r))
		}
	}()

	free, filled, stopCh := q.free, q.filled, q.stopCh

	for state.IsRunning() {
		var buf *QueueBuffer
		select {
		case buf = <-free:
		default:
		}

		// Read even without a free buffer so the device keeps draining
		if err := stream.Read(samples); err != nil {
			if buf != nil {
				free <- buf
			}
			if !state.IsRunning() {
				return
			}
			q.fail(state, fmt.Errorf("failed to read audio: %w", err))
			return
		}

		if !state.IsRunning() {
			if buf != nil {
				free <- buf
			}
			return
		}

		if buf == nil {
			n := q.overruns.Add(1)
			if n == 1 || n%50 == 0 {
				log.Warn("⚠️ all capture buffers busy, discarding audio", "overruns", n)
			}
			continue
		}

		buf.Len = state.Format.PutSamples(buf.Data, samples)
		buf.Timestamp = time.Now()

		select {
		case filled <- buf:
		case <-stopCh:
			free <- buf
			return
		}
	}
}

// callbackLoop delivers filled buffers and re-enqueues them.
func (q *AudioQueue) callbackLoop(state *RecordState) {
	defer close(q.callbackDone)

	free, filled, stopCh := q.free, q.filled, q.stopCh

	for {
		select {
		case <-stopCh:
			return
		case buf := <-filled:
			if state.IsRunning() {
				q.invoke(state, buf)
			}
			buf.Len = 0
			free <- buf
		}
	}
}

func (q *AudioQueue) invoke(state *RecordState, buf *QueueBuffer) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("❌ input callback panic", "panic", r, "buffer", buf.Index)
		}
	}()
	q.cfg.Callback(state, buf)
	q.delivered.Add(1)
}

func (q *AudioQueue) fail(state *RecordState, err error) {
	state.running.Store(false)
	q.setErr(err)
	log.Error("❌ audio capture stopped", logging.Err(err))
	if q.cfg.OnError != nil {
		q.cfg.OnError(err)
	}
}
