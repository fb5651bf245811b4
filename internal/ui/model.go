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

// Package ui is a terminal monitor for a VoiceStream module.
package ui

import (
	"encoding/base64"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/loqalabs/loqa-voicestream-go/internal/voicestream"
)

const (
	maxRecentChunks = 8
	previewLength   = 30
)

// Controller is the module surface the monitor drives
type Controller interface {
	Init(opts voicestream.Options) error
	Start() error
	Stop() error
	IsInitialized() bool
	IsRecording() bool
}

// ChunkMsg carries one base64 data event
type ChunkMsg struct {
	Payload string
}

// ResultMsg reports the outcome of an action
type ResultMsg struct {
	Action string
	Err    error
}

// Model represents the monitor state
type Model struct {
	controller Controller
	options    voicestream.Options

	initialized bool
	recording   bool

	chunks     int
	totalBytes int
	recent     []string
	status     string
	lastErr    string

	width int
}

// NewModel creates a monitor for controller. opts are passed to Init.
func NewModel(controller Controller, opts voicestream.Options) Model {
	return Model{
		controller: controller,
		options:    opts,
		status:     "press i to initialize",
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case ChunkMsg:
		m.applyChunk(msg)
	case ResultMsg:
		m.applyResult(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "i":
		return m, m.action("init", func() error { return m.controller.Init(m.options) })
	case "s":
		return m, m.action("start", m.controller.Start)
	case "x":
		return m, m.action("stop", m.controller.Stop)
	case "c":
		m.chunks = 0
		m.totalBytes = 0
		m.recent = nil
		m.lastErr = ""
	}
	return m, nil
}

func (m Model) action(name string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		return ResultMsg{Action: name, Err: fn()}
	}
}

func (m *Model) applyChunk(msg ChunkMsg) {
	m.chunks++
	m.totalBytes += base64.StdEncoding.DecodedLen(len(msg.Payload)) - padding(msg.Payload)

	preview := msg.Payload
	if len(preview) > previewLength {
		preview = preview[:previewLength] + "..."
	}
	m.recent = append(m.recent, preview)
	if len(m.recent) > maxRecentChunks {
		m.recent = m.recent[len(m.recent)-maxRecentChunks:]
	}
}

func (m *Model) applyResult(msg ResultMsg) {
	m.initialized = m.controller.IsInitialized()
	m.recording = m.controller.IsRecording()

	if msg.Err != nil {
		m.lastErr = msg.Err.Error()
		m.status = msg.Action + " failed"
		return
	}
	m.lastErr = ""
	m.status = msg.Action + " ok"
}

// View renders the monitor
func (m Model) View() string {
	var b strings.Builder

	b.WriteString("┌─ VoiceStream Monitor ──────────────────────────────┐\n")
	fmt.Fprintf(&b, "│ Initialized: %-5s  Recording: %-5s               │\n", yesNo(m.initialized), yesNo(m.recording))
	fmt.Fprintf(&b, "│ Chunks: %-8d Bytes: %-22d │\n", m.chunks, m.totalBytes)
	fmt.Fprintf(&b, "│ Status: %-42s │\n", truncate(m.status, 42))
	if m.lastErr != "" {
		fmt.Fprintf(&b, "│ Error:  %-42s │\n", truncate(m.lastErr, 42))
	}
	b.WriteString("├────────────────────────────────────────────────────┤\n")
	if len(m.recent) == 0 {
		b.WriteString("│ (no audio yet)                                     │\n")
	}
	for _, p := range m.recent {
		fmt.Fprintf(&b, "│ %-50s │\n", p)
	}
	b.WriteString("├────────────────────────────────────────────────────┤\n")
	b.WriteString("│ i:Init  s:Start  x:Stop  c:Clear  q:Quit           │\n")
	b.WriteString("└────────────────────────────────────────────────────┘\n")
	return b.String()
}

func padding(s string) int {
	return len(s) - len(strings.TrimRight(s, "="))
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}
