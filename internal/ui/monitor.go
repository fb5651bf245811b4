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

package ui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/loqalabs/loqa-voicestream-go/internal/voicestream"
)

// Run shows the monitor for module until the user quits. Data events reach
// the program through a module subscription.
func Run(module *voicestream.Module, opts voicestream.Options, teaOpts ...tea.ProgramOption) error {
	p := tea.NewProgram(NewModel(module, opts), teaOpts...)

	sub, err := module.Subscribe(voicestream.DataEvent, func(payload string) {
		p.Send(ChunkMsg{Payload: payload})
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to audio: %w", err)
	}
	defer sub.Remove()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("monitor failed: %w", err)
	}

	if module.IsRecording() {
		return module.Stop()
	}
	return nil
}
