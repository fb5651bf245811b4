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

package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-voicestream-go/internal/config"
	vsnats "github.com/loqalabs/loqa-voicestream-go/internal/nats"
)

func mockConfig() *config.Config {
	cfg := config.Default()
	cfg.Audio.Backend = "mock"
	cfg.Bridge.Listen = "127.0.0.1:0"
	return cfg
}

type fakeConn struct {
	mu       sync.Mutex
	subjects []string
	closed   bool
}

func (f *fakeConn) Publish(subject string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subject)
	return nil
}

func (f *fakeConn) Subscribe(subject string, _ nats.MsgHandler) (*nats.Subscription, error) {
	return &nats.Subscription{Subject: subject}, nil
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeConn) published(subject string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.subjects {
		if s == subject {
			n++
		}
	}
	return n
}

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "monitor", "discover", "version"} {
		assert.True(t, names[want], "missing %s command", want)
	}
	for _, flag := range []string{"config", "log-level", "backend"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), "missing --%s", flag)
	}
}

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Equal(t, "voicestream dev\n", out.String())
}

func TestLoadConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voicestream.yaml")
	require.NoError(t, os.WriteFile(path, []byte("audio:\n  backend: portaudio\n"), 0o600))

	cfg, err := loadConfig(&rootFlags{cfgFile: path, backend: "mock", logLevel: "debug"})
	require.NoError(t, err)
	assert.Equal(t, "mock", cfg.Audio.Backend)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfigInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voicestream.yaml")
	require.NoError(t, os.WriteFile(path, []byte("audio:\n  sample_rate: 1000\n"), 0o600))

	_, err := loadConfig(&rootFlags{cfgFile: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestServiceInitFailure(t *testing.T) {
	cfg := mockConfig()
	cfg.Audio.Backend = "coreaudio"
	_, err := newService(cfg)
	assert.Error(t, err)
}

func TestServiceWiresOutputs(t *testing.T) {
	var mu sync.Mutex
	hubRequests := 0
	hub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		hubRequests++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer hub.Close()

	cfg := mockConfig()
	cfg.Hub.URL = hub.URL
	cfg.NATS.StreamID = "kitchen"
	conn := &fakeConn{}

	svc, err := newServiceWithConn(cfg, conn)
	require.NoError(t, err)
	assert.True(t, svc.module.IsInitialized())

	require.NoError(t, svc.module.Start())
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return hubRequests >= 2 && conn.published(vsnats.DataSubject("kitchen")) >= 1
	}, 3*time.Second, 20*time.Millisecond)
	require.NoError(t, svc.module.Stop())

	svc.Close()
	assert.True(t, conn.closed)
	assert.False(t, svc.module.IsInitialized())
}

func TestServiceRunStopsOnCancel(t *testing.T) {
	svc, err := newService(mockConfig())
	require.NoError(t, err)
	defer svc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
