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

package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-voicestream-go/internal/audio"
	"github.com/loqalabs/loqa-voicestream-go/internal/logging"
	"github.com/loqalabs/loqa-voicestream-go/internal/voicestream"
)

// DefaultHeartbeatInterval is used when the sink is given none.
const DefaultHeartbeatInterval = 30 * time.Second

// StreamSink forwards each recording to a hub as binary frames
type StreamSink struct {
	client            *HTTPStreamingClient
	streamID          string
	heartbeatInterval time.Duration

	mu         sync.Mutex
	stopBeat   context.CancelFunc
	beatDone   chan struct{}
	lastStatus atomic.Pointer[[]byte]
	sentFrames atomic.Uint64
	skipped    atomic.Uint64 // chunks dropped without a session, per recording
}

// NewStreamSink creates a sink for the hub at hubURL
func NewStreamSink(hubURL, streamID string, heartbeatInterval time.Duration) *StreamSink {
	if heartbeatInterval <= 0 {
		heartbeatInterval = DefaultHeartbeatInterval
	}

	s := &StreamSink{
		client:            NewHTTPStreamingClient(hubURL, streamID),
		streamID:          streamID,
		heartbeatInterval: heartbeatInterval,
	}
	s.client.SetFrameHandler(s.handleFrame)
	return s
}

// Client returns the underlying HTTP client
func (s *StreamSink) Client() *HTTPStreamingClient {
	return s.client
}

// Begin opens a hub session for a new recording
func (s *StreamSink) Begin(format audio.Format) error {
	s.skipped.Store(0)
	handshake := fmt.Sprintf("stream:%s;format:%s", s.streamID, format.String())
	if err := s.client.Connect(context.Background(), []byte(handshake)); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.stopBeat = cancel
	s.beatDone = done
	s.mu.Unlock()

	go s.heartbeat(ctx, done)
	return nil
}

// Write sends a chunk, split across frames when it exceeds MaxDataSize
func (s *StreamSink) Write(chunk voicestream.Chunk) error {
	if !s.client.IsConnected() {
		if s.skipped.Add(1) == 1 {
			log.Warn("⚠️ no hub session, dropping audio for this recording", logging.KeyStreamID, s.streamID)
		}
		return nil
	}
	for _, piece := range SplitPayload(chunk.Data) {
		if err := s.client.SendAudioData(context.Background(), piece); err != nil {
			return fmt.Errorf("failed to send audio frame (chunk %d): %w", chunk.Sequence, err)
		}
		if n := s.sentFrames.Add(1); n%100 == 0 {
			log.Debug("📤 audio frames sent", "frames", n)
		}
	}
	return nil
}

// End sends AudioEnd and closes the session
func (s *StreamSink) End() error {
	s.mu.Lock()
	stop, done := s.stopBeat, s.beatDone
	s.stopBeat, s.beatDone = nil, nil
	s.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}

	if !s.client.IsConnected() {
		return nil
	}
	defer s.client.Disconnect()
	return s.client.SendAudioEnd(context.Background())
}

// LastStatus returns the payload of the most recent status frame
func (s *StreamSink) LastStatus() []byte {
	if p := s.lastStatus.Load(); p != nil {
		return *p
	}
	return nil
}

// SentFrames returns the number of audio frames sent
func (s *StreamSink) SentFrames() uint64 {
	return s.sentFrames.Load()
}

// SkippedChunks returns how many chunks of the current recording were
// dropped because no hub session was open
func (s *StreamSink) SkippedChunks() uint64 {
	return s.skipped.Load()
}

func (s *StreamSink) handleFrame(frame *Frame) {
	if frame.Type == FrameTypeStatus {
		data := frame.Data
		s.lastStatus.Store(&data)
	}
}

func (s *StreamSink) heartbeat(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.client.SendHeartbeat(ctx); err != nil && ctx.Err() == nil {
				log.Warn("⚠️ failed to send heartbeat", logging.Err(err))
			}
		}
	}
}
