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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockBackendRequiresInit(t *testing.T) {
	backend := NewMockAudioBackend()

	_, err := backend.CreateInputStream(voiceParams())
	assert.ErrorIs(t, err, ErrNotInitialized)

	_, err = backend.HasInputDevice()
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestMockBackendInitError(t *testing.T) {
	backend := NewMockAudioBackend()
	backend.SetInitError(errors.New("no sound server"))

	assert.EqualError(t, backend.Initialize(), "no sound server")
}

func TestMockStreamLifecycle(t *testing.T) {
	backend := NewMockAudioBackend()
	backend.SetSimulateRealTiming(false)
	require.NoError(t, backend.Initialize())

	stream, err := backend.CreateInputStream(voiceParams())
	require.NoError(t, err)
	assert.Equal(t, 1, backend.OpenStreams())
	assert.Equal(t, voiceParams(), backend.LastStreamParams())

	// Not started yet
	assert.ErrorIs(t, stream.Read(make([]float32, 8)), ErrStreamStopped)

	require.NoError(t, stream.Start())
	assert.True(t, stream.IsActive())
	assert.Error(t, stream.Start(), "double start should fail")

	buf := make([]float32, 64)
	require.NoError(t, stream.Read(buf))
	assert.NotEqual(t, make([]float32, 64), buf, "default generator should produce a tone")
	assert.Len(t, backend.GetRecordedAudioData(), 1)

	require.NoError(t, stream.Stop())
	assert.ErrorIs(t, stream.Read(buf), ErrStreamStopped)

	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close(), "double close is a no-op")
	assert.Equal(t, 0, backend.OpenStreams())
}

func TestMockFailOpenStreams(t *testing.T) {
	backend := NewMockAudioBackend()
	backend.SetSimulateRealTiming(false)
	require.NoError(t, backend.Initialize())

	first, err := backend.CreateInputStream(voiceParams())
	require.NoError(t, err)
	require.NoError(t, first.Start())

	unplugged := errors.New("device unplugged")
	backend.FailOpenStreams(unplugged)
	assert.ErrorIs(t, first.Read(make([]float32, 8)), unplugged)

	second, err := backend.CreateInputStream(voiceParams())
	require.NoError(t, err)
	require.NoError(t, second.Start())
	assert.NoError(t, second.Read(make([]float32, 8)), "later streams keep working")
}

func TestMockGenerator(t *testing.T) {
	backend := NewMockAudioBackend()
	backend.SetSimulateRealTiming(false)
	backend.SetAudioDataGenerator(func(data []float32) {
		for i := range data {
			data[i] = 0.25
		}
	})
	require.NoError(t, backend.Initialize())

	stream, err := backend.CreateInputStream(voiceParams())
	require.NoError(t, err)
	require.NoError(t, stream.Start())

	buf := make([]float32, 4)
	require.NoError(t, stream.Read(buf))
	assert.Equal(t, []float32{0.25, 0.25, 0.25, 0.25}, buf)
	assert.Equal(t, 1, stream.(*MockStream).Reads())
}

func TestMockTerminateClosesStreams(t *testing.T) {
	backend := NewMockAudioBackend()
	require.NoError(t, backend.Initialize())

	for i := 0; i < 3; i++ {
		_, err := backend.CreateInputStream(voiceParams())
		require.NoError(t, err)
	}
	assert.Equal(t, 3, backend.OpenStreams())

	require.NoError(t, backend.Terminate())
	assert.Equal(t, 0, backend.OpenStreams())
}

func TestMockMinBufferSizeAndDevice(t *testing.T) {
	backend := NewMockAudioBackend()
	require.NoError(t, backend.Initialize())

	size, err := backend.MinBufferSize(DefaultFormat())
	require.NoError(t, err)
	assert.Equal(t, 44100/50*2, size)

	backend.SetMinBufferSize(4096)
	size, err = backend.MinBufferSize(DefaultFormat())
	require.NoError(t, err)
	assert.Equal(t, 4096, size)

	ok, err := backend.HasInputDevice()
	require.NoError(t, err)
	assert.True(t, ok)

	backend.SetHasInputDevice(false)
	ok, err = backend.HasInputDevice()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewBackend(t *testing.T) {
	for name, want := range map[string]any{
		"":          &PortAudioBackend{},
		"portaudio": &PortAudioBackend{},
		"malgo":     &MalgoBackend{},
		"mock":      &MockAudioBackend{},
	} {
		backend, err := NewBackend(name)
		require.NoError(t, err, name)
		assert.IsType(t, want, backend, name)
	}

	_, err := NewBackend("alsa")
	assert.Error(t, err)
}
