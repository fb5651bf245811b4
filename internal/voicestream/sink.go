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
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-voicestream-go/internal/audio"
	"github.com/loqalabs/loqa-voicestream-go/internal/logging"
)

const (
	// sinkQueueSize bounds the chunks waiting for one slow sink.
	sinkQueueSize = 64

	// sinkCloseTimeout bounds how long Invalidate waits for a sink.
	sinkCloseTimeout = 2 * time.Second
)

// Chunk is one encoded piece of audio forwarded to sinks.
type Chunk struct {
	Sequence  uint64
	Data      []byte
	Format    audio.Format
	Timestamp time.Time
}

// Sink receives the encoded audio of each recording. Calls for one sink are
// made in order from a dedicated goroutine.
type Sink interface {
	// Begin is called when a recording starts.
	Begin(format audio.Format) error

	// Write delivers one chunk.
	Write(chunk Chunk) error

	// End is called when the recording stops.
	End() error
}

type sinkOp struct {
	kind   int
	format audio.Format
	chunk  Chunk
}

const (
	opBegin = iota
	opWrite
	opEnd
)

// sinkWorker decouples a sink from the audio callback and from the module
// lock. Enqueueing never blocks: writes beyond sinkQueueSize are dropped and
// begin/end are always queued, so a stalled sink cannot hold up Stop.
type sinkWorker struct {
	name string
	sink Sink
	wake chan struct{}
	done chan struct{}

	mu      sync.Mutex
	pending []sinkOp
	writes  int // writes in pending
	closed  bool

	dropped atomic.Uint64
}

func newSinkWorker(sink Sink) *sinkWorker {
	w := &sinkWorker{
		name: fmt.Sprintf("%T", sink),
		sink: sink,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *sinkWorker) enqueue(op sinkOp) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	if op.kind == opWrite && w.writes >= sinkQueueSize {
		w.mu.Unlock()
		n := w.dropped.Add(1)
		if n == 1 || n%50 == 0 {
			log.Warn("⚠️ sink queue full, dropping chunk", "sink", w.name, "dropped", n)
		}
		return
	}
	w.pending = append(w.pending, op)
	if op.kind == opWrite {
		w.writes++
	}
	w.mu.Unlock()

	w.signal()
}

func (w *sinkWorker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// next blocks until an op is queued. It reports false once the worker is
// closed and drained.
func (w *sinkWorker) next() (sinkOp, bool) {
	for {
		w.mu.Lock()
		if len(w.pending) > 0 {
			op := w.pending[0]
			w.pending[0] = sinkOp{}
			w.pending = w.pending[1:]
			if op.kind == opWrite {
				w.writes--
			}
			w.mu.Unlock()
			return op, true
		}
		closed := w.closed
		w.mu.Unlock()

		if closed {
			return sinkOp{}, false
		}
		<-w.wake
	}
}

// close stops accepting ops and waits up to sinkCloseTimeout for the queued
// ones to finish.
func (w *sinkWorker) close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()
	w.signal()

	select {
	case <-w.done:
	case <-time.After(sinkCloseTimeout):
		log.Warn("⚠️ sink did not finish in time, abandoning it", "sink", w.name, "timeout", sinkCloseTimeout)
	}
}

func (w *sinkWorker) run() {
	defer close(w.done)

	for {
		op, ok := w.next()
		if !ok {
			return
		}

		var err error
		switch op.kind {
		case opBegin:
			err = w.sink.Begin(op.format)
		case opWrite:
			err = w.sink.Write(op.chunk)
		case opEnd:
			err = w.sink.End()
		}
		if err != nil {
			log.Warn("⚠️ sink error", "sink", w.name, "op", op.kind, logging.Err(err))
		}
	}
}
