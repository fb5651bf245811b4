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
	"encoding/base64"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-voicestream-go/internal/audio"
)

func newTestModule(t *testing.T) (*Module, *audio.MockAudioBackend) {
	t.Helper()
	backend := audio.NewMockAudioBackend()
	backend.SetSimulateRealTiming(false)
	m := New(backend)
	t.Cleanup(m.Invalidate)
	return m, backend
}

func collectData(t *testing.T, m *Module) <-chan string {
	t.Helper()
	ch := make(chan string, 256)
	_, err := m.Listen(DataEvent, func(data string) {
		select {
		case ch <- data:
		default:
		}
	})
	require.NoError(t, err)
	return ch
}

func nextData(t *testing.T, ch <-chan string) []byte {
	t.Helper()
	select {
	case data := <-ch:
		raw, err := base64.StdEncoding.DecodeString(data)
		require.NoError(t, err)
		return raw
	case <-time.After(2 * time.Second):
		t.Fatal("no data event")
		return nil
	}
}

func requireCode(t *testing.T, err error, code Code) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, CodeOf(err), "error: %v", err)
}

func TestModuleName(t *testing.T) {
	m, _ := newTestModule(t)
	assert.Equal(t, "VoiceStream", m.Name())
}

func TestInitDefaults(t *testing.T) {
	m, _ := newTestModule(t)
	assert.False(t, m.IsInitialized())

	require.NoError(t, m.Init(Options{}))
	assert.True(t, m.IsInitialized())

	cfg := m.Config()
	assert.Equal(t, 44100, cfg.SampleRate)
	assert.Equal(t, 2048, cfg.BufferSize)
	assert.Equal(t, 44100/50*2, cfg.MinBufferSize)
}

func TestInitInvalidOptions(t *testing.T) {
	m, _ := newTestModule(t)

	requireCode(t, m.Init(Options{SampleRate: 96000}), CodeInit)
	requireCode(t, m.Init(Options{BufferSize: 512}), CodeInit)
	assert.False(t, m.IsInitialized())
	assert.Equal(t, DefaultConfig(), m.Config())
}

func TestInitRaisesBufferToMinimum(t *testing.T) {
	m, backend := newTestModule(t)
	backend.SetMinBufferSize(8192)

	require.NoError(t, m.Init(Options{BufferSize: 1024}))
	cfg := m.Config()
	assert.Equal(t, 8192, cfg.BufferSize)
	assert.Equal(t, 8192, cfg.MinBufferSize)
}

func TestInitBackendFailure(t *testing.T) {
	m, backend := newTestModule(t)
	backend.SetInitError(errors.New("no sound server"))

	err := m.Init(Options{})
	requireCode(t, err, CodeInit)
	assert.ErrorContains(t, err, "no sound server")
}

func TestStartRequiresInit(t *testing.T) {
	m, _ := newTestModule(t)
	requireCode(t, m.Start(), CodeStart)
	assert.False(t, m.IsRecording())
}

func TestStartWithoutPermission(t *testing.T) {
	m, backend := newTestModule(t)
	require.NoError(t, m.Init(Options{}))
	backend.SetHasInputDevice(false)

	requireCode(t, m.Start(), CodePermission)
	assert.False(t, m.IsRecording())
}

func TestStartStreamFailures(t *testing.T) {
	t.Run("create", func(t *testing.T) {
		m, backend := newTestModule(t)
		require.NoError(t, m.Init(Options{}))
		backend.SetCreateStreamError(errors.New("device busy"))

		requireCode(t, m.Start(), CodeAudioRecord)
		assert.False(t, m.IsRecording())
	})

	t.Run("start", func(t *testing.T) {
		m, backend := newTestModule(t)
		require.NoError(t, m.Init(Options{}))
		backend.SetStartError(errors.New("device lost"))

		requireCode(t, m.Start(), CodeStart)
		assert.False(t, m.IsRecording())
		assert.Equal(t, 0, backend.OpenStreams())
	})
}

func TestRecordingEmitsBase64PCM(t *testing.T) {
	m, backend := newTestModule(t)
	data := collectData(t, m)

	require.NoError(t, m.Init(Options{}))
	require.NoError(t, m.Start())
	assert.True(t, m.IsRecording())

	// 2048 / 4 bytes of mono PCM16 per event
	for i := 0; i < 3; i++ {
		assert.Len(t, nextData(t, data), 512)
	}
	assert.Equal(t, 256, backend.LastStreamParams().FramesPerBuffer)

	require.NoError(t, m.Stop())
	assert.False(t, m.IsRecording())
	assert.Equal(t, 0, backend.OpenStreams())
}

func TestEightBitRecording(t *testing.T) {
	m, _ := newTestModule(t)
	data := collectData(t, m)

	require.NoError(t, m.Init(Options{SampleRate: 16000, BitsPerSample: 8}))
	require.NoError(t, m.Start())
	defer func() { _ = m.Stop() }()

	chunk := nextData(t, data)
	assert.Len(t, chunk, 512)
}

func TestOpusRecording(t *testing.T) {
	m, _ := newTestModule(t)
	data := collectData(t, m)

	require.NoError(t, m.Init(Options{SampleRate: 16000, Encoding: "opus"}))
	require.NoError(t, m.Start())
	defer func() { _ = m.Stop() }()

	packet := nextData(t, data)
	assert.NotEmpty(t, packet)
	assert.Less(t, len(packet), 640, "opus packet should be smaller than 20ms of PCM")
}

func TestStartTwiceIsNoop(t *testing.T) {
	m, backend := newTestModule(t)
	require.NoError(t, m.Init(Options{}))
	require.NoError(t, m.Start())
	defer func() { _ = m.Stop() }()

	assert.NoError(t, m.Start())
	assert.Equal(t, 1, backend.OpenStreams())
}

func TestStopWhenNotRecording(t *testing.T) {
	m, _ := newTestModule(t)
	assert.NoError(t, m.Stop())

	require.NoError(t, m.Init(Options{}))
	assert.NoError(t, m.Stop())
}

func TestInitWhileRecording(t *testing.T) {
	m, _ := newTestModule(t)
	require.NoError(t, m.Init(Options{}))
	require.NoError(t, m.Start())
	defer func() { _ = m.Stop() }()

	requireCode(t, m.Init(Options{SampleRate: 16000}), CodeInit)
	assert.Equal(t, 44100, m.Config().SampleRate)
}

func TestNoDataAfterStop(t *testing.T) {
	m, _ := newTestModule(t)
	data := collectData(t, m)

	require.NoError(t, m.Init(Options{}))
	require.NoError(t, m.Start())
	nextData(t, data)
	require.NoError(t, m.Stop())

	// Drain anything delivered before Stop returned
	time.Sleep(20 * time.Millisecond)
	for len(data) > 0 {
		<-data
	}

	select {
	case <-data:
		t.Fatal("data event after stop")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRestartAfterStop(t *testing.T) {
	m, _ := newTestModule(t)
	data := collectData(t, m)
	require.NoError(t, m.Init(Options{}))

	for i := 0; i < 3; i++ {
		require.NoError(t, m.Start(), "cycle %d", i)
		nextData(t, data)
		require.NoError(t, m.Stop(), "cycle %d", i)
	}
}

func TestListen(t *testing.T) {
	m, _ := newTestModule(t)

	_, err := m.Listen("error", func(string) {})
	requireCode(t, err, CodeInvalidEvent)

	_, err = m.Listen(DataEvent, func(string) {})
	require.NoError(t, err)
	_, err = m.Listen(DataEvent, func(string) {})
	require.NoError(t, err)
	assert.Equal(t, 1, m.ListenerCount(), "listen replaces existing listeners")

	sub, err := m.Subscribe(DataEvent, func(string) {})
	require.NoError(t, err)
	assert.Equal(t, 2, m.ListenerCount())

	sub.Remove()
	assert.Equal(t, 1, m.ListenerCount())
}

func TestBridgeListenerBookkeeping(t *testing.T) {
	m, _ := newTestModule(t)

	requireCode(t, m.AddListener("volume"), CodeInvalidEvent)
	require.NoError(t, m.AddListener(DataEvent))
	require.NoError(t, m.AddListener(DataEvent))
	assert.Equal(t, 2, m.BridgeListenerCount())

	m.RemoveListeners(-2)
	assert.Equal(t, 2, m.BridgeListenerCount())
	m.RemoveListeners(1)
	assert.Equal(t, 1, m.BridgeListenerCount())
	m.RemoveListeners(5)
	assert.Equal(t, 0, m.BridgeListenerCount())
}

func TestMicrophonePermission(t *testing.T) {
	m, backend := newTestModule(t)

	ok, err := m.CheckMicrophonePermission()
	require.NoError(t, err)
	assert.True(t, ok)

	backend.SetHasInputDevice(false)
	ok, err = m.RequestMicrophonePermission()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCaptureFailureStopsRecording(t *testing.T) {
	m, backend := newTestModule(t)
	require.NoError(t, m.Init(Options{}))
	backend.SetReadError(errors.New("device unplugged"))

	require.NoError(t, m.Start())
	assert.Eventually(t, func() bool { return !m.IsRecording() }, 2*time.Second, 5*time.Millisecond)
	assert.ErrorContains(t, m.Err(), "device unplugged")
	assert.Eventually(t, func() bool { return backend.OpenStreams() == 0 }, 2*time.Second, 5*time.Millisecond)

	backend.SetReadError(nil)
	require.NoError(t, m.Start())
	assert.NoError(t, m.Err())
	require.NoError(t, m.Stop())
}

func TestStaleCaptureFailureKeepsNewRecording(t *testing.T) {
	m, backend := newTestModule(t)
	require.NoError(t, m.Init(Options{}))
	require.NoError(t, m.Start())

	// The failure arrives while a host call holds the module lock, so its
	// cleanup runs only after the host has already restarted.
	m.mu.Lock()
	backend.FailOpenStreams(errors.New("device unplugged"))
	require.Eventually(t, func() bool { return m.Err() != nil }, 2*time.Second, 5*time.Millisecond)
	m.mu.Unlock()

	require.NoError(t, m.Stop())
	require.NoError(t, m.Start())

	time.Sleep(50 * time.Millisecond)
	assert.True(t, m.IsRecording(), "new recording must survive cleanup of the failed one")
	assert.NoError(t, m.Err())
	require.NoError(t, m.Stop())
}

// blockingSink hangs in Write until released.
type blockingSink struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
	ends    atomic.Int32
}

func newBlockingSink() *blockingSink {
	return &blockingSink{entered: make(chan struct{}), release: make(chan struct{})}
}

func (s *blockingSink) Begin(audio.Format) error { return nil }

func (s *blockingSink) Write(Chunk) error {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	return nil
}

func (s *blockingSink) End() error {
	s.ends.Add(1)
	return nil
}

func TestStalledSinkDoesNotBlockStop(t *testing.T) {
	m, _ := newTestModule(t)
	sink := newBlockingSink()
	t.Cleanup(func() { close(sink.release) })
	m.AddSink(sink)

	require.NoError(t, m.Init(Options{}))
	require.NoError(t, m.Start())

	select {
	case <-sink.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("sink never received audio")
	}
	// Let the queue fill up behind the stuck write.
	time.Sleep(100 * time.Millisecond)

	stopped := make(chan error, 1)
	go func() { stopped <- m.Stop() }()

	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on a stalled sink")
	}

	assert.False(t, m.IsRecording())
	require.NoError(t, m.Start())
	require.NoError(t, m.Stop())
	assert.Zero(t, sink.ends.Load(), "end is queued behind the stuck write")
}

type recordingSink struct {
	mu     sync.Mutex
	begins []audio.Format
	chunks []Chunk
	ends   int
}

func (s *recordingSink) Begin(format audio.Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.begins = append(s.begins, format)
	return nil
}

func (s *recordingSink) Write(chunk Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, chunk)
	return nil
}

func (s *recordingSink) End() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ends++
	return nil
}

func (s *recordingSink) snapshot() ([]audio.Format, []Chunk, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audio.Format(nil), s.begins...), append([]Chunk(nil), s.chunks...), s.ends
}

func TestSinksReceiveRecording(t *testing.T) {
	m, _ := newTestModule(t)
	sink := &recordingSink{}
	m.AddSink(sink)

	require.NoError(t, m.Init(Options{SampleRate: 16000}))
	require.NoError(t, m.Start())
	assert.Eventually(t, func() bool {
		_, chunks, _ := sink.snapshot()
		return len(chunks) >= 3
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, m.Stop())

	assert.Eventually(t, func() bool {
		_, _, ends := sink.snapshot()
		return ends == 1
	}, 2*time.Second, 5*time.Millisecond)

	begins, chunks, _ := sink.snapshot()
	require.Len(t, begins, 1)
	assert.Equal(t, 16000, begins[0].SampleRate)
	for i, c := range chunks {
		assert.Equal(t, uint64(i+1), c.Sequence)
		assert.Len(t, c.Data, 512)
		assert.Equal(t, 16000, c.Format.SampleRate)
	}
}

func TestInvalidate(t *testing.T) {
	m, backend := newTestModule(t)
	require.NoError(t, m.Init(Options{}))
	require.NoError(t, m.Start())

	handle := m.handle
	m.Invalidate()

	assert.False(t, m.IsRecording())
	assert.False(t, m.IsInitialized())
	assert.Equal(t, 0, backend.OpenStreams())

	_, ok := modules.Lookup(handle)
	assert.False(t, ok, "handle must be released")

	requireCode(t, m.Start(), CodeStart)
	requireCode(t, m.Init(Options{}), CodeInit)

	// A callback still holding the old handle is dropped
	state := &audio.RecordState{Format: audio.DefaultFormat(), Owner: handle}
	assert.NotPanics(t, func() {
		handleInputBuffer(state, &audio.QueueBuffer{Data: make([]byte, 16), Len: 16})
	})

	assert.NotPanics(t, m.Invalidate, "second invalidate is a no-op")
}

func TestErrorFormatting(t *testing.T) {
	cause := errors.New("boom")
	err := newError(CodeStop, cause, "Failed to stop voice stream")

	assert.Equal(t, "STOP_ERROR: Failed to stop voice stream: boom", err.Error())
	assert.ErrorIs(t, err, cause)

	var vsErr *Error
	require.ErrorAs(t, error(err), &vsErr)
	assert.Equal(t, CodeStop, vsErr.Code)

	assert.Equal(t, Code(""), CodeOf(cause))
	assert.Equal(t, "INIT_ERROR: bad", newError(CodeInit, nil, "bad").Error())
}
