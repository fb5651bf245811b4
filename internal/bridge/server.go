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

// Package bridge exposes a VoiceStream module to a host over WebSocket.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/loqalabs/loqa-voicestream-go/internal/events"
	"github.com/loqalabs/loqa-voicestream-go/internal/logging"
	"github.com/loqalabs/loqa-voicestream-go/internal/voicestream"
)

var log = logging.L("bridge")

// DefaultPath is where the WebSocket endpoint is mounted.
const DefaultPath = "/voicestream"

// Module is the part of voicestream.Module the bridge drives.
type Module interface {
	Init(opts voicestream.Options) error
	Start() error
	Stop() error
	CheckMicrophonePermission() (bool, error)
	RequestMicrophonePermission() (bool, error)
	AddListener(event string) error
	RemoveListeners(count int)
	Subscribe(event string, fn voicestream.DataListener) (*events.Subscription, error)
}

// Config holds server configuration
type Config struct {
	Listen string
	Path   string
}

// Server accepts host sessions
type Server struct {
	config   Config
	module   Module
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
	wg       sync.WaitGroup
}

// NewServer creates a bridge for module
func NewServer(config Config, module Module) *Server {
	if config.Path == "" {
		config.Path = DefaultPath
	}
	return &Server{
		config: config,
		module: module,
		upgrader: websocket.Upgrader{
			// Hosts are local processes and non-browser clients.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		sessions: make(map[string]*session),
	}
}

// Handler returns the HTTP handler serving the WebSocket endpoint
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.config.Path, s.handleWebSocket)
	return mux
}

// ListenAndServe serves until ctx is done
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- httpServer.Serve(ln)
	}()

	log.Info("🌉 bridge listening", "addr", ln.Addr().String(), "path", s.config.Path)

	var serveErr error
	select {
	case <-ctx.Done():
	case err := <-errChan:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("⚠️ bridge shutdown error", logging.Err(err))
	}
	s.closeSessions()
	s.wg.Wait()

	if serveErr != nil {
		return fmt.Errorf("bridge server failed: %w", serveErr)
	}
	log.Info("👋 bridge stopped")
	return nil
}

// SessionCount returns the number of connected hosts
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) closeSessions() {
	s.mu.Lock()
	s.closed = true
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.close()
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("⚠️ WebSocket upgrade failed", logging.Err(err))
		return
	}

	sess := newSession(conn)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sess.close()
		return
	}
	s.sessions[sess.id] = sess
	s.wg.Add(1)
	s.mu.Unlock()

	log.Info("🔗 host connected", logging.KeySessionID, sess.id, "remote", r.RemoteAddr)

	go func() {
		defer s.wg.Done()
		sess.writeLoop()
	}()

	s.readLoop(sess)

	if n := sess.removeSubscriptions(sess.listenerCount()); n > 0 {
		s.module.RemoveListeners(n)
	}
	sess.close()

	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()

	log.Info("👋 host disconnected", logging.KeySessionID, sess.id)
}

func (s *Server) readLoop(sess *session) {
	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("bridge read failed", logging.KeySessionID, sess.id, logging.Err(err))
			}
			return
		}

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			sess.enqueue(Response{Error: &ResponseError{
				Code:    CodeBadRequest,
				Message: fmt.Sprintf("invalid request: %v", err),
			}}, false)
			continue
		}

		sess.enqueue(s.dispatch(sess, req), false)
	}
}

func (s *Server) dispatch(sess *session, req Request) Response {
	resp := Response{ID: req.ID}

	result, err := s.call(sess, req)
	if err != nil {
		resp.Error = toResponseError(err)
		log.Debug("bridge call failed", "method", req.Method, logging.Err(err))
		return resp
	}
	resp.Result = result
	return resp
}

func (s *Server) call(sess *session, req Request) (any, error) {
	switch req.Method {
	case MethodInit:
		var opts voicestream.Options
		if err := decodeParams(req.Params, &opts); err != nil {
			return nil, err
		}
		return nil, s.module.Init(opts)

	case MethodStart:
		return nil, s.module.Start()

	case MethodStop:
		return nil, s.module.Stop()

	case MethodCheckMicrophonePermission:
		return s.permission(s.module.CheckMicrophonePermission())

	case MethodRequestMicrophonePermission:
		return s.permission(s.module.RequestMicrophonePermission())

	case MethodAddListener:
		var p listenerParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		return nil, s.addListener(sess, p.Event)

	case MethodRemoveListeners:
		var p removeListenersParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		s.module.RemoveListeners(sess.removeSubscriptions(p.Count))
		return nil, nil

	default:
		return nil, &ResponseError{Code: CodeUnknownMethod, Message: fmt.Sprintf("unknown method %q", req.Method)}
	}
}

func (s *Server) permission(granted bool, err error) (any, error) {
	if err != nil {
		if voicestream.CodeOf(err) == "" {
			return nil, &ResponseError{Code: string(voicestream.CodePermission), Message: err.Error()}
		}
		return nil, err
	}
	return granted, nil
}

func (s *Server) addListener(sess *session, event string) error {
	if err := s.module.AddListener(event); err != nil {
		return err
	}
	sub, err := s.module.Subscribe(event, func(payload string) {
		sess.enqueue(Event{Event: event, Payload: payload}, true)
	})
	if err != nil {
		s.module.RemoveListeners(1)
		return err
	}
	sess.addSubscription(sub)
	return nil
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &ResponseError{Code: CodeBadRequest, Message: fmt.Sprintf("invalid params: %v", err)}
	}
	return nil
}

func (e *ResponseError) Error() string {
	return e.Code + ": " + e.Message
}

func toResponseError(err error) *ResponseError {
	var respErr *ResponseError
	if errors.As(err, &respErr) {
		return respErr
	}
	var vsErr *voicestream.Error
	if errors.As(err, &vsErr) {
		return &ResponseError{Code: string(vsErr.Code), Message: vsErr.Error()}
	}
	return &ResponseError{Code: string(voicestream.CodeAudioRecord), Message: err.Error()}
}
