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
	"context"
	"fmt"
	"net"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-voicestream-go/internal/audio"
	"github.com/loqalabs/loqa-voicestream-go/internal/bridge"
	"github.com/loqalabs/loqa-voicestream-go/internal/config"
	"github.com/loqalabs/loqa-voicestream-go/internal/discovery"
	"github.com/loqalabs/loqa-voicestream-go/internal/logging"
	vsnats "github.com/loqalabs/loqa-voicestream-go/internal/nats"
	"github.com/loqalabs/loqa-voicestream-go/internal/transport"
	"github.com/loqalabs/loqa-voicestream-go/internal/voicestream"
)

var log = logging.L("main")

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the module behind the WebSocket bridge",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			closer := logging.Init(cfg.LogOptions())
			defer func() { _ = closer.Close() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc, err := newService(cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			return svc.Run(ctx)
		},
	}
}

// service wires the module to every configured output.
type service struct {
	cfg     *config.Config
	module  *voicestream.Module
	bridge  *bridge.Server
	conn    vsnats.Connection
	control *vsnats.ControlSubscriber
	mdns    *discovery.Manager
}

func newService(cfg *config.Config) (*service, error) {
	return newServiceWithConn(cfg, nil)
}

// newServiceWithConn uses conn for NATS instead of dialing nats.url.
func newServiceWithConn(cfg *config.Config, conn vsnats.Connection) (*service, error) {
	backend, err := audio.NewBackend(cfg.Audio.Backend)
	if err != nil {
		return nil, err
	}

	svc := &service{cfg: cfg, module: voicestream.New(backend)}

	if err := svc.module.Init(cfg.Audio.Options); err != nil {
		svc.Close()
		return nil, err
	}

	if cfg.Hub.URL != "" {
		svc.module.AddSink(transport.NewStreamSink(cfg.Hub.URL, cfg.Hub.StreamID, cfg.HeartbeatInterval()))
		log.Info("🔗 streaming recordings to hub", "hub", cfg.Hub.URL, logging.KeyStreamID, cfg.Hub.StreamID)
	}

	if conn == nil && cfg.NATS.URL != "" {
		adapter, err := vsnats.Connect(cfg.NATS.URL, "voicestream-"+cfg.NATS.StreamID)
		if err != nil {
			svc.Close()
			return nil, err
		}
		conn = adapter
	}
	if conn != nil {
		svc.conn = conn
		svc.module.AddSink(vsnats.NewPublisher(conn, cfg.NATS.StreamID))
		svc.control = vsnats.NewControlSubscriber(conn, cfg.NATS.StreamID, svc.module)
		if err := svc.control.Start(); err != nil {
			svc.Close()
			return nil, err
		}
	}

	svc.bridge = bridge.NewServer(bridge.Config{Listen: cfg.Bridge.Listen, Path: cfg.Bridge.Path}, svc.module)
	return svc, nil
}

// Run serves the bridge until ctx is done
func (s *service) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Bridge.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Bridge.Listen, err)
	}

	if s.cfg.Bridge.MDNS {
		port := ln.Addr().(*net.TCPAddr).Port
		s.mdns = discovery.NewManager(discovery.Config{
			ServiceName: s.cfg.Bridge.Name,
			Port:        port,
			Path:        s.cfg.Bridge.Path,
		})
		if err := s.mdns.Advertise(); err != nil {
			log.Warn("⚠️ mDNS advertisement failed", "port", port, logging.Err(err))
		}
	}

	log.Info("🎤 VoiceStream ready", "config", s.module.Config().String())
	return s.bridge.Serve(ctx, ln)
}

func (s *service) Close() {
	if s.mdns != nil {
		s.mdns.Stop()
	}
	if s.control != nil {
		s.control.Close()
	}
	s.module.Invalidate()
	if s.conn != nil {
		s.conn.Close()
	}
}
