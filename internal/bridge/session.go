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

package bridge

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/loqalabs/loqa-voicestream-go/internal/events"
	"github.com/loqalabs/loqa-voicestream-go/internal/logging"
)

const (
	sendQueueSize = 64
	writeWait     = 5 * time.Second
)

// session is one connected host.
type session struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	closeOnce sync.Once
	dropped   atomic.Uint64

	subMu sync.Mutex
	subs  []*events.Subscription
}

func newSession(conn *websocket.Conn) *session {
	return &session{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}
}

// enqueue queues v for the writer. Events are dropped when the queue is full
// so a slow host never stalls the event loop.
func (s *session) enqueue(v any, mayDrop bool) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error("❌ failed to marshal bridge message", logging.KeySessionID, s.id, logging.Err(err))
		return
	}

	if mayDrop {
		select {
		case s.send <- data:
		case <-s.done:
		default:
			if n := s.dropped.Add(1); n == 1 || n%100 == 0 {
				log.Warn("⚠️ bridge session too slow, dropping events", logging.KeySessionID, s.id, "dropped", n)
			}
		}
		return
	}

	select {
	case s.send <- data:
	case <-s.done:
	}
}

func (s *session) writeLoop() {
	for {
		select {
		case data := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug("bridge write failed", logging.KeySessionID, s.id, logging.Err(err))
				s.close()
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *session) addSubscription(sub *events.Subscription) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.subs = append(s.subs, sub)
}

// removeSubscriptions drops up to count of the newest subscriptions and
// returns how many were removed.
func (s *session) removeSubscriptions(count int) int {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	if count < 0 {
		count = 0
	}
	if count > len(s.subs) {
		count = len(s.subs)
	}
	for i := 0; i < count; i++ {
		last := len(s.subs) - 1
		s.subs[last].Remove()
		s.subs = s.subs[:last]
	}
	return count
}

func (s *session) listenerCount() int {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return len(s.subs)
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}
