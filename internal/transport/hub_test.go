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
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// mockHub records frames posted by the client.
type mockHub struct {
	t *testing.T

	mu         sync.Mutex
	frames     []*Frame
	streamIDs  []string
	sessionIDs []string
	status     int
	reply      []byte
}

func newMockHub(t *testing.T) (*mockHub, *httptest.Server) {
	hub := &mockHub{t: t, status: http.StatusOK}
	server := httptest.NewServer(hub)
	t.Cleanup(server.Close)
	return hub, server
}

func (h *mockHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != sendPath && r.URL.Path != handshakePath {
		h.t.Errorf("Unexpected path: %s", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Header.Get("Content-Type") != "application/octet-stream" {
		h.t.Errorf("Expected Content-Type: application/octet-stream, got: %s", r.Header.Get("Content-Type"))
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.t.Errorf("Failed to read frame data: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	frame, err := UnmarshalFrame(body)
	if err != nil {
		h.t.Errorf("Invalid frame posted to %s: %v", r.URL.Path, err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if (r.URL.Path == handshakePath) != (frame.Type == FrameTypeHandshake) {
		h.t.Errorf("Frame %s posted to %s", frame.Type, r.URL.Path)
	}

	h.mu.Lock()
	h.frames = append(h.frames, frame)
	h.streamIDs = append(h.streamIDs, r.URL.Query().Get("stream_id"))
	h.sessionIDs = append(h.sessionIDs, r.Header.Get("X-Session-ID"))
	status, reply := h.status, h.reply
	h.mu.Unlock()

	w.WriteHeader(status)
	if status == http.StatusOK && len(reply) > 0 {
		_, _ = w.Write(reply)
	}
}

func (h *mockHub) setStatus(status int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = status
}

func (h *mockHub) setReply(frames ...*Frame) {
	var reply []byte
	for _, f := range frames {
		data, err := f.MarshalBinary()
		if err != nil {
			h.t.Fatal(err)
		}
		reply = append(reply, data...)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reply = reply
}

func (h *mockHub) received() []*Frame {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*Frame(nil), h.frames...)
}

func (h *mockHub) request(i int) (streamID, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.streamIDs[i], h.sessionIDs[i]
}

func (h *mockHub) typesReceived() []FrameType {
	var types []FrameType
	for _, f := range h.received() {
		types = append(types, f.Type)
	}
	return types
}
