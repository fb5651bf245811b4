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
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loqalabs/loqa-voicestream-go/internal/logging"
)

var log = logging.L("transport")

const (
	sendPath      = "/send/voicestream"
	handshakePath = "/handshake/voicestream"

	defaultRequestTimeout = 10 * time.Second
)

// ErrNotConnected is returned when sending before Connect.
var ErrNotConnected = errors.New("not connected to hub")

// FrameHandler receives frames the hub returns in response bodies.
type FrameHandler func(*Frame)

// HTTPStreamingClient sends binary frames to a hub, one POST per frame
type HTTPStreamingClient struct {
	hubURL   string
	streamID string

	mutex       sync.Mutex
	sessionID   uuid.UUID
	sequence    uint32
	isConnected bool
	handler     FrameHandler

	client *http.Client
}

// NewHTTPStreamingClient creates a new HTTP streaming client
func NewHTTPStreamingClient(hubURL, streamID string) *HTTPStreamingClient {
	transport := &http.Transport{
		MaxIdleConns:        2,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     30 * time.Second,
		ForceAttemptHTTP2:   false,
	}

	return &HTTPStreamingClient{
		hubURL:   strings.TrimRight(hubURL, "/"),
		streamID: streamID,
		client: &http.Client{
			Timeout:   defaultRequestTimeout,
			Transport: transport,
		},
	}
}

// SetRequestTimeout bounds each frame POST
func (c *HTTPStreamingClient) SetRequestTimeout(timeout time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.client.Timeout = timeout
}

// SetFrameHandler registers fn for frames returned by the hub
func (c *HTTPStreamingClient) SetFrameHandler(fn FrameHandler) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.handler = fn
}

// Connect starts a new session and sends the handshake frame
func (c *HTTPStreamingClient) Connect(ctx context.Context, handshake []byte) error {
	c.mutex.Lock()
	if c.isConnected {
		c.mutex.Unlock()
		return fmt.Errorf("already connected")
	}
	c.sessionID = uuid.New()
	c.sequence = 0
	c.mutex.Unlock()

	log.Info("🔗 connecting to hub", "hub", c.hubURL, logging.KeyStreamID, c.streamID)

	if err := c.post(ctx, handshakePath, FrameTypeHandshake, handshake); err != nil {
		return fmt.Errorf("failed to connect to hub: %w", err)
	}

	c.mutex.Lock()
	c.isConnected = true
	c.mutex.Unlock()

	log.Info("✅ connected to hub", logging.KeySessionID, c.GetSessionID())
	return nil
}

// SendFrame sends one frame to the hub
func (c *HTTPStreamingClient) SendFrame(ctx context.Context, frameType FrameType, data []byte) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return c.post(ctx, sendPath, frameType, data)
}

// SendAudioData sends audio data as a frame
func (c *HTTPStreamingClient) SendAudioData(ctx context.Context, audioData []byte) error {
	return c.SendFrame(ctx, FrameTypeAudioData, audioData)
}

// SendAudioEnd marks the end of the current recording
func (c *HTTPStreamingClient) SendAudioEnd(ctx context.Context) error {
	return c.SendFrame(ctx, FrameTypeAudioEnd, nil)
}

// SendHeartbeat sends a heartbeat frame to keep the session alive
func (c *HTTPStreamingClient) SendHeartbeat(ctx context.Context) error {
	return c.SendFrame(ctx, FrameTypeHeartbeat, nil)
}

func (c *HTTPStreamingClient) post(ctx context.Context, path string, frameType FrameType, data []byte) error {
	c.mutex.Lock()
	c.sequence++
	frame := NewFrame(
		frameType,
		sessionHash(c.sessionID),
		c.sequence,
		uint64(time.Now().UnixMicro()), //nolint:gosec // Safe conversion from int64 to uint64
		data,
	)
	sessionID := c.sessionID.String()
	handler := c.handler
	c.mutex.Unlock()

	frameData, err := frame.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to serialize frame: %w", err)
	}

	endpoint := fmt.Sprintf("%s%s?stream_id=%s", c.hubURL, path, url.QueryEscape(c.streamID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(frameData))
	if err != nil {
		return fmt.Errorf("failed to create send request: %w", err)
	}

	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Stream-ID", c.streamID)
	req.Header.Set("X-Session-ID", sessionID)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send frame: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			log.Warn("⚠️ failed to close send response body", logging.Err(closeErr))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("send %s frame failed with status: %d", frame.Type, resp.StatusCode)
	}

	if frame.Type != FrameTypeAudioData {
		log.Debug("📤 sent frame", "type", frame.Type.String(), "bytes", len(frameData))
	}

	return c.readResponseFrames(resp.Body, handler)
}

// readResponseFrames hands any frames in a response body to handler.
func (c *HTTPStreamingClient) readResponseFrames(body io.Reader, handler FrameHandler) error {
	for {
		frame, err := ReadFrame(body)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			log.Warn("⚠️ invalid frame in hub response", logging.Err(err))
			return nil
		}

		switch frame.Type {
		case FrameTypeError:
			log.Error("❌ hub reported error", "message", string(frame.Data))
		case FrameTypeHeartbeat:
		default:
			log.Debug("📥 received frame", "type", frame.Type.String(), "bytes", len(frame.Data))
		}

		if handler != nil {
			handler(frame)
		}
	}
}

// Disconnect ends the session
func (c *HTTPStreamingClient) Disconnect() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.isConnected {
		return
	}
	c.isConnected = false

	if transport, ok := c.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
	log.Info("👋 disconnected from hub", logging.KeySessionID, c.sessionID.String())
}

// IsConnected returns whether the client is currently connected
func (c *HTTPStreamingClient) IsConnected() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.isConnected
}

// GetSessionID returns the current session ID
func (c *HTTPStreamingClient) GetSessionID() string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.sessionID.String()
}

// sessionHash folds a session UUID into the 32-bit header field.
func sessionHash(id uuid.UUID) uint32 {
	return binary.BigEndian.Uint32(id[0:4]) ^ binary.BigEndian.Uint32(id[12:16])
}
