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

// Package voicestream is the VoiceStream module: it records microphone audio
// and emits base64 chunks as "data" events to the host.
package voicestream

import (
	"encoding/base64"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/loqalabs/loqa-voicestream-go/internal/audio"
	"github.com/loqalabs/loqa-voicestream-go/internal/encode"
	"github.com/loqalabs/loqa-voicestream-go/internal/events"
	"github.com/loqalabs/loqa-voicestream-go/internal/logging"
	"github.com/loqalabs/loqa-voicestream-go/internal/registry"
)

var log = logging.L("voicestream")

const (
	// ModuleName is the name the module is exposed under.
	ModuleName = "VoiceStream"

	// DataEvent carries base64 audio.
	DataEvent = "data"
)

// modules resolves the Owner handle carried by capture state. The audio
// callback never holds a *Module directly.
var modules = registry.New[*Module]()

// DataListener receives one base64 chunk.
type DataListener func(data string)

// Module records audio from a backend and emits it as data events.
type Module struct {
	mu sync.Mutex // serializes Init, Start, Stop and Invalidate

	backend      audio.AudioBackend
	backendReady bool
	emitter      *events.Emitter
	handle       registry.Handle
	config       Config
	queue        *audio.AudioQueue
	invalidated  bool
	initialized  atomic.Bool
	recording    atomic.Bool
	bridgeCount  atomic.Int64
	seq          atomic.Uint64
	generation   atomic.Uint64 // bumped by every Start
	lastErr      atomic.Pointer[error]

	encMu   sync.Mutex
	encoder encode.Encoder

	sinkMu sync.RWMutex
	sinks  []*sinkWorker
}

// New creates a module recording from backend. The backend is initialized on
// the first call that needs it.
func New(backend audio.AudioBackend) *Module {
	m := &Module{
		backend: backend,
		emitter: events.NewEmitter(events.DefaultQueueSize, DataEvent),
		config:  DefaultConfig(),
	}
	m.handle = modules.Register(m)
	return m
}

// Name returns "VoiceStream".
func (m *Module) Name() string {
	return ModuleName
}

// Config returns the current configuration.
func (m *Module) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

// IsInitialized reports whether Init has succeeded.
func (m *Module) IsInitialized() bool {
	return m.initialized.Load()
}

// IsRecording reports whether audio is being captured.
func (m *Module) IsRecording() bool {
	return m.recording.Load()
}

// Err returns the last capture failure, if any.
func (m *Module) Err() error {
	if p := m.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}

func (m *Module) ensureBackendLocked() error {
	if m.backendReady {
		return nil
	}
	if err := m.backend.Initialize(); err != nil {
		return err
	}
	m.backendReady = true
	return nil
}

// Init validates opts, merges them onto the current configuration and marks
// the module initialized. Init fails while recording.
func (m *Module) Init(opts Options) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.invalidated {
		return newError(CodeInit, nil, "Module has been invalidated")
	}
	if m.recording.Load() {
		return newError(CodeInit, nil, "Cannot initialize while recording is active")
	}

	log.Debug("initializing VoiceStream", "options", opts)

	next, err := m.config.Merge(opts)
	if err != nil {
		return newError(CodeInit, err, "Invalid audio configuration options")
	}

	if err := m.ensureBackendLocked(); err != nil {
		return newError(CodeInit, err, "Failed to initialize audio backend")
	}

	minSize, err := m.backend.MinBufferSize(next.Format())
	if err != nil || minSize <= 0 {
		return newError(CodeInit, err, "Invalid audio configuration for this device")
	}
	next.MinBufferSize = minSize
	if next.BufferSize < minSize {
		next.BufferSize = minSize
		log.Warn("⚠️ buffer size increased to minimum required", "bufferSize", next.BufferSize)
	}

	m.config = next
	m.initialized.Store(true)

	log.Info("✅ VoiceStream initialized", "config", m.config.String())
	return nil
}

// Start begins recording. Starting while recording is a no-op.
func (m *Module) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.invalidated || !m.initialized.Load():
		return newError(CodeStart, nil, "VoiceStream not initialized. Call init() first.")
	case m.recording.Load():
		log.Warn("⚠️ already recording")
		return nil
	}

	if ok, err := m.hasPermissionLocked(); !ok {
		return newError(CodePermission, err, "Audio recording permission not granted")
	}

	log.Debug("starting voice stream")

	format := m.config.Format()
	gen := m.generation.Add(1)
	enc, err := encode.New(format)
	if err != nil {
		return newError(CodeAudioRecord, err, "Failed to create encoder")
	}

	queue, err := audio.NewAudioQueue(m.backend, audio.QueueConfig{
		Format:         format,
		BufferByteSize: m.config.ReadSize(),
		Device:         m.config.AudioSource,
		Owner:          m.handle,
		Callback:       handleInputBuffer,
		OnError:        func(err error) { m.onCaptureError(gen, err) },
	})
	if err != nil {
		_ = enc.Close()
		return newError(CodeAudioRecord, err, "Failed to initialize audio queue")
	}

	m.encMu.Lock()
	m.encoder = enc
	m.encMu.Unlock()
	m.seq.Store(0)
	m.lastErr.Store(nil)
	m.recording.Store(true)

	if err := queue.Start(); err != nil {
		m.recording.Store(false)
		m.closeEncoder()
		if errors.Is(err, audio.ErrStreamStart) {
			return newError(CodeStart, err, "Failed to start recording")
		}
		return newError(CodeAudioRecord, err, "Failed to initialize audio input")
	}
	m.queue = queue

	m.forEachSink(sinkOp{kind: opBegin, format: format})

	log.Info("🎤 voice stream started", "format", format.String(), "readSize", m.config.ReadSize())
	return nil
}

// Stop ends recording. Stopping when not recording is a no-op.
func (m *Module) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.recording.Load() {
		log.Warn("⚠️ not currently recording")
		return nil
	}

	log.Debug("stopping voice stream")
	if err := m.stopLocked(); err != nil {
		return newError(CodeStop, err, "Failed to stop voice stream")
	}

	log.Info("🛑 voice stream stopped")
	return nil
}

func (m *Module) stopLocked() error {
	m.recording.Store(false)

	var err error
	if m.queue != nil {
		err = m.queue.Stop()
		m.queue = nil
	}
	m.closeEncoder()
	m.forEachSink(sinkOp{kind: opEnd})
	return err
}

func (m *Module) closeEncoder() {
	m.encMu.Lock()
	defer m.encMu.Unlock()
	if m.encoder != nil {
		_ = m.encoder.Close()
		m.encoder = nil
	}
}

// onCaptureError runs on the capture goroutine, which Stop joins, so the
// cleanup happens elsewhere. gen identifies the recording that failed; a
// later recording is left alone.
func (m *Module) onCaptureError(gen uint64, err error) {
	if m.generation.Load() != gen {
		log.Debug("ignoring failure of a finished recording", logging.Err(err))
		return
	}
	m.lastErr.Store(&err)
	log.Error("❌ audio recording failed", "code", CodeAudioRecord, logging.Err(err))

	go func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.recording.Load() && m.generation.Load() == gen {
			if stopErr := m.stopLocked(); stopErr != nil {
				log.Warn("⚠️ cleanup after capture failure", logging.Err(stopErr))
			}
		}
	}()
}

// Listen replaces every data listener with fn, as the host facade does.
func (m *Module) Listen(event string, fn DataListener) (*events.Subscription, error) {
	if event != DataEvent {
		return nil, newError(CodeInvalidEvent, nil, "Invalid event %q", event)
	}
	m.emitter.RemoveAllListeners(event)
	return m.Subscribe(event, fn)
}

// Subscribe adds fn without removing other listeners. Listeners run on the
// event loop goroutine and only see chunks emitted while recording.
func (m *Module) Subscribe(event string, fn DataListener) (*events.Subscription, error) {
	if fn == nil {
		return nil, newError(CodeInvalidEvent, nil, "listener for %q is nil", event)
	}

	sub, err := m.emitter.AddListener(event, func(payload any) {
		if !m.recording.Load() {
			return
		}
		if data, ok := payload.(string); ok {
			fn(data)
		}
	})
	if err != nil {
		return nil, newError(CodeInvalidEvent, err, "Invalid event %q", event)
	}
	return sub, nil
}

// AddListener records that the host bridge listens for event.
func (m *Module) AddListener(event string) error {
	if !m.emitter.Supports(event) {
		return newError(CodeInvalidEvent, nil, "Invalid event %q", event)
	}
	m.bridgeCount.Add(1)
	return nil
}

// RemoveListeners records that the host bridge dropped count listeners.
func (m *Module) RemoveListeners(count int) {
	if count <= 0 {
		return
	}
	if m.bridgeCount.Add(-int64(count)) < 0 {
		m.bridgeCount.Store(0)
	}
}

// BridgeListenerCount returns the host bridge's listener count.
func (m *Module) BridgeListenerCount() int {
	return int(m.bridgeCount.Load())
}

// ListenerCount returns the number of data listeners.
func (m *Module) ListenerCount() int {
	return m.emitter.ListenerCount(DataEvent)
}

// CheckMicrophonePermission reports whether a capture device may be used.
func (m *Module) CheckMicrophonePermission() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasPermissionLocked()
}

// RequestMicrophonePermission asks for capture access. Desktop audio APIs
// have no prompt, so this probes like CheckMicrophonePermission.
func (m *Module) RequestMicrophonePermission() (bool, error) {
	return m.CheckMicrophonePermission()
}

func (m *Module) hasPermissionLocked() (bool, error) {
	if m.invalidated {
		return false, nil
	}
	if err := m.ensureBackendLocked(); err != nil {
		return false, err
	}
	ok, err := m.backend.HasInputDevice()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// AddSink forwards every recording to s.
func (m *Module) AddSink(s Sink) {
	w := newSinkWorker(s)

	m.sinkMu.Lock()
	m.sinks = append(m.sinks, w)
	m.sinkMu.Unlock()

	if m.recording.Load() {
		w.enqueue(sinkOp{kind: opBegin, format: m.Config().Format()})
	}
}

func (m *Module) forEachSink(op sinkOp) {
	m.sinkMu.RLock()
	defer m.sinkMu.RUnlock()
	for _, w := range m.sinks {
		w.enqueue(op)
	}
}

// Invalidate stops recording and releases the module. It cannot be used
// afterwards.
func (m *Module) Invalidate() {
	log.Debug("module invalidating")

	m.mu.Lock()
	if m.invalidated {
		m.mu.Unlock()
		return
	}

	if m.recording.Load() {
		if err := m.stopLocked(); err != nil {
			log.Warn("⚠️ error stopping during invalidate", logging.Err(err))
		}
	}
	m.initialized.Store(false)
	m.invalidated = true
	modules.Release(m.handle)

	if m.backendReady {
		if err := m.backend.Terminate(); err != nil {
			log.Warn("⚠️ error terminating audio backend", logging.Err(err))
		}
		m.backendReady = false
	}
	m.mu.Unlock()

	m.sinkMu.Lock()
	sinks := m.sinks
	m.sinks = nil
	m.sinkMu.Unlock()
	for _, w := range sinks {
		w.close()
	}

	m.emitter.Close()
}

// handleInputBuffer is the queue callback. It resolves the owning module
// through the registry and drops the buffer if the module is gone.
func handleInputBuffer(state *audio.RecordState, buf *audio.QueueBuffer) {
	m, ok := modules.Lookup(state.Owner)
	if !ok {
		return
	}
	if !state.IsRunning() || !m.recording.Load() {
		return
	}
	m.deliver(state.Format, buf)
}

func (m *Module) deliver(format audio.Format, buf *audio.QueueBuffer) {
	m.encMu.Lock()
	if m.encoder == nil {
		m.encMu.Unlock()
		return
	}
	chunks, err := m.encoder.Encode(buf.Bytes())
	m.encMu.Unlock()
	if err != nil {
		log.Warn("⚠️ failed to encode audio", logging.Err(err))
	}

	for _, chunk := range chunks {
		if !m.recording.Load() {
			return
		}

		m.emitter.Emit(DataEvent, base64.StdEncoding.EncodeToString(chunk))
		m.forEachSink(sinkOp{kind: opWrite, chunk: Chunk{
			Sequence:  m.seq.Add(1),
			Data:      chunk,
			Format:    format,
			Timestamp: buf.Timestamp,
		}})
	}
}
