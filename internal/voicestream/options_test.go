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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-voicestream-go/internal/audio"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 44100, cfg.SampleRate)
	assert.Equal(t, 1, cfg.Channels)
	assert.Equal(t, 16, cfg.BitsPerSample)
	assert.Equal(t, 2048, cfg.BufferSize)
	assert.Equal(t, audio.EncodingPCM16, cfg.Encoding)
	assert.Empty(t, cfg.AudioSource)
	assert.Equal(t, 512, cfg.ReadSize())
}

func TestReadSizeCapped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferSize = 64 * 1024
	assert.Equal(t, 4096, cfg.ReadSize())
}

func TestMergeKeepsUnsetFields(t *testing.T) {
	base := DefaultConfig()

	next, err := base.Merge(Options{SampleRate: 16000, AudioSource: "USB Mic"})
	require.NoError(t, err)
	assert.Equal(t, 16000, next.SampleRate)
	assert.Equal(t, "USB Mic", next.AudioSource)
	assert.Equal(t, base.Channels, next.Channels)
	assert.Equal(t, base.BufferSize, next.BufferSize)

	// A later merge builds on the previous result
	again, err := next.Merge(Options{Channels: 2})
	require.NoError(t, err)
	assert.Equal(t, 16000, again.SampleRate)
	assert.Equal(t, 2, again.Channels)
}

func TestMergeBoundaries(t *testing.T) {
	valid := []Options{
		{SampleRate: 8000},
		{SampleRate: 48000},
		{Channels: 2},
		{BitsPerSample: 8},
		{BufferSize: 1024},
		{Encoding: "pcm_16bit"},
		{SampleRate: 16000, Encoding: "opus"},
	}
	for _, opts := range valid {
		_, err := DefaultConfig().Merge(opts)
		assert.NoError(t, err, "%+v", opts)
	}

	invalid := []Options{
		{SampleRate: 7999},
		{SampleRate: 48001},
		{Channels: 3},
		{Channels: -1},
		{BitsPerSample: 24},
		{BufferSize: 1023},
		{Encoding: "mp3"},
		{Encoding: "opus"}, // 44.1kHz
		{SampleRate: 16000, BitsPerSample: 8, Encoding: "opus"},
		{BitsPerSample: 8, Encoding: "pcm_16bit"},
	}
	for _, opts := range invalid {
		before := DefaultConfig()
		after, err := before.Merge(opts)
		assert.Error(t, err, "%+v", opts)
		assert.Equal(t, before, after, "failed merge must not change config")
	}
}

func TestMergeReportsEveryProblem(t *testing.T) {
	_, err := DefaultConfig().Merge(Options{SampleRate: 1, Channels: 9})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sampleRate")
	assert.Contains(t, err.Error(), "channels")
}

func TestMergePCMFollowsBitDepth(t *testing.T) {
	next, err := DefaultConfig().Merge(Options{BitsPerSample: 8})
	require.NoError(t, err)
	assert.Equal(t, audio.EncodingPCM8, next.Encoding)

	next, err = next.Merge(Options{BitsPerSample: 16})
	require.NoError(t, err)
	assert.Equal(t, audio.EncodingPCM16, next.Encoding)
}
