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

// Package nats publishes captured audio and accepts remote control commands
// over NATS subjects.
package nats

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-voicestream-go/internal/logging"
)

var log = logging.L("nats")

const (
	connectAttempts   = 5
	connectRetryDelay = 2 * time.Second
)

// Connection is the subset of *nats.Conn the package uses
type Connection interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
	Close()
}

// ConnectionAdapter adapts *nats.Conn to Connection
type ConnectionAdapter struct {
	conn *nats.Conn
}

func NewConnectionAdapter(conn *nats.Conn) *ConnectionAdapter {
	return &ConnectionAdapter{conn: conn}
}

func (a *ConnectionAdapter) Publish(subject string, data []byte) error {
	return a.conn.Publish(subject, data)
}

func (a *ConnectionAdapter) Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error) {
	return a.conn.Subscribe(subject, cb)
}

func (a *ConnectionAdapter) Close() {
	if err := a.conn.Drain(); err != nil {
		a.conn.Close()
	}
}

// Connect dials natsURL, retrying a few times before giving up
func Connect(natsURL, clientName string) (*ConnectionAdapter, error) {
	var nc *nats.Conn
	var err error

	for i := 0; i < connectAttempts; i++ {
		nc, err = nats.Connect(natsURL,
			nats.Name(clientName),
			nats.MaxReconnects(-1),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					log.Warn("⚠️ NATS disconnected", logging.Err(err))
				}
			}),
			nats.ReconnectHandler(func(c *nats.Conn) {
				log.Info("🔄 NATS reconnected", "url", c.ConnectedUrl())
			}),
		)
		if err == nil {
			break
		}
		log.Warn("⚠️ failed to connect to NATS", "attempt", i+1, "attempts", connectAttempts, logging.Err(err))
		if i < connectAttempts-1 {
			time.Sleep(connectRetryDelay)
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS after %d attempts: %w", connectAttempts, err)
	}

	log.Info("✅ connected to NATS", "url", natsURL)
	return NewConnectionAdapter(nc), nil
}

// DataSubject carries ChunkMessage for a stream.
func DataSubject(streamID string) string {
	return fmt.Sprintf("voicestream.%s.data", streamID)
}

// StatusSubject carries StatusMessage for a stream.
func StatusSubject(streamID string) string {
	return fmt.Sprintf("voicestream.%s.status", streamID)
}

// ControlSubject carries ControlMessage for a stream.
func ControlSubject(streamID string) string {
	return fmt.Sprintf("voicestream.%s.control", streamID)
}

// BroadcastControlSubject carries ControlMessage for every stream.
const BroadcastControlSubject = "voicestream.broadcast.control"
