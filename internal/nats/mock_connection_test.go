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
	"errors"
	"sync"

	"github.com/nats-io/nats.go"
)

// MockConnection records publishes and dispatches messages to subscribers.
type MockConnection struct {
	mu          sync.Mutex
	subscribers map[string][]nats.MsgHandler
	published   []*nats.Msg
	errors      map[string]error
	closed      bool
}

func NewMockConnection() *MockConnection {
	return &MockConnection{
		subscribers: make(map[string][]nats.MsgHandler),
		errors:      make(map[string]error),
	}
}

func (m *MockConnection) Publish(subject string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.New("connection closed")
	}
	if err, ok := m.errors[subject]; ok {
		return err
	}
	m.published = append(m.published, &nats.Msg{Subject: subject, Data: append([]byte(nil), data...)})
	return nil
}

func (m *MockConnection) Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errors.New("connection closed")
	}
	if err, ok := m.errors[subject]; ok {
		return nil, err
	}
	m.subscribers[subject] = append(m.subscribers[subject], cb)
	return &nats.Subscription{Subject: subject}, nil
}

func (m *MockConnection) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

// PublishMessage delivers a message to every handler on subject synchronously
func (m *MockConnection) PublishMessage(subject, reply string, data []byte) {
	m.mu.Lock()
	handlers := append([]nats.MsgHandler(nil), m.subscribers[subject]...)
	m.mu.Unlock()

	for _, handler := range handlers {
		handler(&nats.Msg{Subject: subject, Reply: reply, Data: data})
	}
}

func (m *MockConnection) SetError(subject string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[subject] = err
}

func (m *MockConnection) Published(subject string) []*nats.Msg {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*nats.Msg
	for _, msg := range m.published {
		if msg.Subject == subject {
			out = append(out, msg)
		}
	}
	return out
}

func (m *MockConnection) SubscriberCount(subject string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subscribers[subject])
}
