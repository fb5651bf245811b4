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

// Package events delivers named events from audio goroutines to listeners on
// a single event-loop goroutine.
package events

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/loqalabs/loqa-voicestream-go/internal/logging"
)

var log = logging.L("events")

var (
	// ErrInvalidEvent is returned when subscribing to an unsupported event name.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrClosed is returned when subscribing to a closed emitter.
	ErrClosed = errors.New("emitter closed")
)

// DefaultQueueSize bounds the number of pending events.
const DefaultQueueSize = 64

// Listener receives an event payload.
type Listener func(payload any)

type envelope struct {
	event   string
	payload any
}

// Emitter fans events out to listeners. Emit never blocks the caller.
type Emitter struct {
	mu        sync.RWMutex
	supported map[string]bool
	listeners map[string]map[uint64]Listener
	nextID    uint64

	sendMu    sync.RWMutex // guards queue against close during Emit
	queue     chan envelope
	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
	dropped   atomic.Uint64
}

// NewEmitter starts an emitter that accepts only the given event names.
func NewEmitter(queueSize int, supported ...string) *Emitter {
	if queueSize < 1 {
		queueSize = DefaultQueueSize
	}

	e := &Emitter{
		supported: make(map[string]bool, len(supported)),
		listeners: make(map[string]map[uint64]Listener),
		queue:     make(chan envelope, queueSize),
		done:      make(chan struct{}),
	}
	for _, name := range supported {
		e.supported[name] = true
	}

	go e.loop()
	return e
}

// SupportedEvents returns the accepted event names.
func (e *Emitter) SupportedEvents() []string {
	names := make([]string, 0, len(e.supported))
	for name := range e.supported {
		names = append(names, name)
	}
	return names
}

// Supports reports whether event is accepted by this emitter.
func (e *Emitter) Supports(event string) bool {
	return e.supported[event]
}

// AddListener registers fn for event.
func (e *Emitter) AddListener(event string, fn Listener) (*Subscription, error) {
	if !e.supported[event] {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEvent, event)
	}
	if fn == nil {
		return nil, fmt.Errorf("listener for %q is nil", event)
	}
	if e.closed.Load() {
		return nil, ErrClosed
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	id := e.nextID
	if e.listeners[event] == nil {
		e.listeners[event] = make(map[uint64]Listener)
	}
	e.listeners[event][id] = fn

	return &Subscription{emitter: e, event: event, id: id}, nil
}

// RemoveAllListeners drops every listener for event.
func (e *Emitter) RemoveAllListeners(event string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.listeners, event)
}

// ListenerCount returns the number of listeners registered for event.
func (e *Emitter) ListenerCount(event string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners[event])
}

// Emit queues payload for delivery. It returns false if the event was dropped
// because the queue is full, the emitter is closed or the name is unsupported.
func (e *Emitter) Emit(event string, payload any) bool {
	if !e.supported[event] {
		return false
	}

	e.sendMu.RLock()
	defer e.sendMu.RUnlock()
	if e.closed.Load() {
		return false
	}

	select {
	case e.queue <- envelope{event: event, payload: payload}:
		return true
	default:
		n := e.dropped.Add(1)
		if n == 1 || n%100 == 0 {
			log.Warn("⚠️ event queue full, dropping event", "event", event, "dropped", n)
		}
		return false
	}
}

// Dropped returns the number of events dropped on a full queue.
func (e *Emitter) Dropped() uint64 {
	return e.dropped.Load()
}

// Close stops the event loop after pending events are delivered. It must not
// be called from a listener.
func (e *Emitter) Close() {
	e.closeOnce.Do(func() {
		e.sendMu.Lock()
		e.closed.Store(true)
		close(e.queue)
		e.sendMu.Unlock()
		<-e.done
	})
}

func (e *Emitter) loop() {
	defer close(e.done)

	for env := range e.queue {
		e.dispatch(env)
	}
}

func (e *Emitter) dispatch(env envelope) {
	e.mu.RLock()
	targets := make([]Listener, 0, len(e.listeners[env.event]))
	for _, fn := range e.listeners[env.event] {
		targets = append(targets, fn)
	}
	e.mu.RUnlock()

	for _, fn := range targets {
		e.invoke(env.event, fn, env.payload)
	}
}

func (e *Emitter) invoke(event string, fn Listener, payload any) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("❌ listener panic", "event", event, "panic", r)
		}
	}()
	fn(payload)
}

// Subscription is a handle to a registered listener.
type Subscription struct {
	emitter *Emitter
	event   string
	id      uint64
	once    sync.Once
}

// Event returns the subscribed event name.
func (s *Subscription) Event() string {
	return s.event
}

// Remove unregisters the listener. Safe to call more than once.
func (s *Subscription) Remove() {
	s.once.Do(func() {
		s.emitter.mu.Lock()
		defer s.emitter.mu.Unlock()
		delete(s.emitter.listeners[s.event], s.id)
	})
}
