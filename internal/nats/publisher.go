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

package nats

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/loqalabs/loqa-voicestream-go/internal/audio"
	"github.com/loqalabs/loqa-voicestream-go/internal/voicestream"
)

// Publisher forwards recordings to NATS
type Publisher struct {
	conn     Connection
	streamID string
	chunks   atomic.Uint64
}

// NewPublisher creates a publisher for streamID
func NewPublisher(conn Connection, streamID string) *Publisher {
	return &Publisher{conn: conn, streamID: streamID}
}

// Begin announces a new recording
func (p *Publisher) Begin(format audio.Format) error {
	p.chunks.Store(0)
	return p.publish(StatusSubject(p.streamID), StatusMessage{
		StreamID: p.streamID,
		State:    StateStarted,
		Format:   format.String(),
	})
}

// Write publishes one chunk
func (p *Publisher) Write(chunk voicestream.Chunk) error {
	p.chunks.Add(1)
	return p.publish(DataSubject(p.streamID), chunkMessage(p.streamID, chunk))
}

// End announces the end of the recording
func (p *Publisher) End() error {
	n := p.chunks.Load()
	log.Info("📤 published recording", "subject", DataSubject(p.streamID), "chunks", n)
	return p.publish(StatusSubject(p.streamID), StatusMessage{
		StreamID: p.streamID,
		State:    StateEnded,
		Chunks:   n,
	})
}

func (p *Publisher) publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %T: %w", v, err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}
