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

// Package discovery advertises the bridge over mDNS.
package discovery

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/hashicorp/mdns"

	"github.com/loqalabs/loqa-voicestream-go/internal/logging"
)

var log = logging.L("discovery")

// ServiceType is the mDNS service the bridge registers as.
const ServiceType = "_voicestream._tcp"

// Config holds discovery configuration
type Config struct {
	ServiceName string
	Port        int
	Path        string
}

// Service describes a discovered bridge
type Service struct {
	Name string
	Host string
	Port int
	Info []string
}

// Manager handles mDNS operations
type Manager struct {
	config Config
	server *mdns.Server
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	return &Manager{config: config}
}

// TXTRecords returns the TXT records advertised with the service
func (m *Manager) TXTRecords() []string {
	path := m.config.Path
	if path == "" {
		path = "/"
	}
	return []string{"path=" + path, "proto=voicestream"}
}

// Advertise starts answering mDNS queries for the bridge
func (m *Manager) Advertise() error {
	if m.server != nil {
		return nil
	}

	ips, err := localIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(
		m.config.ServiceName,
		ServiceType,
		"",
		"",
		m.config.Port,
		ips,
		m.TXTRecords(),
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}
	m.server = server

	log.Info("📡 advertising mDNS service", "name", m.config.ServiceName, "type", ServiceType, "port", m.config.Port)
	return nil
}

// Stop stops advertising
func (m *Manager) Stop() {
	if m.server == nil {
		return
	}
	if err := m.server.Shutdown(); err != nil {
		log.Warn("⚠️ mDNS shutdown error", logging.Err(err))
	}
	m.server = nil
}

// Browse queries the local network for bridges until timeout or ctx is done
func Browse(ctx context.Context, timeout time.Duration) ([]Service, error) {
	entries := make(chan *mdns.ServiceEntry, 16)
	results := make(chan []Service, 1)

	go func() {
		var found []Service
		for entry := range entries {
			host := entry.Host
			if entry.AddrV4 != nil {
				host = entry.AddrV4.String()
			}
			found = append(found, Service{Name: entry.Name, Host: host, Port: entry.Port, Info: entry.InfoFields})
		}
		results <- found
	}()

	params := mdns.DefaultParams(ServiceType)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true

	errChan := make(chan error, 1)
	go func() {
		errChan <- mdns.Query(params)
		close(entries)
	}()

	select {
	case err := <-errChan:
		found := <-results
		if err != nil {
			return found, fmt.Errorf("mdns query failed: %w", err)
		}
		return found, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func localIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
				ips = append(ips, ipnet.IP)
			}
		}
	}

	return ips, nil
}
