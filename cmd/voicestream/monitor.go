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
	"io"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-voicestream-go/internal/audio"
	"github.com/loqalabs/loqa-voicestream-go/internal/logging"
	"github.com/loqalabs/loqa-voicestream-go/internal/ui"
	"github.com/loqalabs/loqa-voicestream-go/internal/voicestream"
)

func newMonitorCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Record locally and show incoming chunks",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}

			// The monitor owns the terminal; logs go to log.file or nowhere.
			logOpts := cfg.LogOptions()
			if logOpts.File == "" {
				logOpts.Output = io.Discard
			}
			closer := logging.Init(logOpts)
			defer func() { _ = closer.Close() }()

			backend, err := audio.NewBackend(cfg.Audio.Backend)
			if err != nil {
				return err
			}
			module := voicestream.New(backend)
			defer module.Invalidate()

			return ui.Run(module, cfg.Audio.Options)
		},
	}
}
