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

// Package registry provides a generation-checked slot table. Code that runs
// outside normal object lifetimes (audio callbacks) holds a Handle instead of
// a pointer and resolves it on every use; a released slot invalidates every
// outstanding handle to it.
package registry

import "sync"

// Handle identifies a registered value. The zero Handle is never valid.
type Handle struct {
	Index      uint32
	Generation uint32
}

// IsZero reports whether h is the zero handle.
func (h Handle) IsZero() bool {
	return h.Generation == 0
}

type slot[T any] struct {
	value      T
	generation uint32
	occupied   bool
}

// Table maps handles to values of type T.
type Table[T any] struct {
	mu    sync.RWMutex
	slots []slot[T]
	free  []uint32
}

// New creates an empty table.
func New[T any]() *Table[T] {
	return &Table[T]{}
}

// Register stores v and returns a handle to it.
func (t *Table[T]) Register(v T) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	var idx uint32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		idx = uint32(len(t.slots)) //nolint:gosec // G115: slot count stays far below MaxUint32
		t.slots = append(t.slots, slot[T]{})
	}

	s := &t.slots[idx]
	s.generation++
	if s.generation == 0 {
		// Skip zero so the zero Handle stays invalid after wraparound
		s.generation = 1
	}
	s.value = v
	s.occupied = true

	return Handle{Index: idx, Generation: s.generation}
}

// Lookup resolves h. It fails for released or never-issued handles.
func (t *Table[T]) Lookup(h Handle) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var zero T
	if h.IsZero() || int(h.Index) >= len(t.slots) {
		return zero, false
	}
	s := t.slots[h.Index]
	if !s.occupied || s.generation != h.Generation {
		return zero, false
	}
	return s.value, true
}

// Release removes the value behind h. It returns false if h was already stale.
func (t *Table[T]) Release(h Handle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if h.IsZero() || int(h.Index) >= len(t.slots) {
		return false
	}
	s := &t.slots[h.Index]
	if !s.occupied || s.generation != h.Generation {
		return false
	}

	var zero T
	s.value = zero
	s.occupied = false
	t.free = append(t.free, h.Index)
	return true
}

// Len returns the number of live entries.
func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.slots) - len(t.free)
}
