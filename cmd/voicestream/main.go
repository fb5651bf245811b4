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

// Command voicestream records microphone audio and serves it to hosts over a
// WebSocket bridge, NATS and a hub.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-voicestream-go/internal/config"
)

var version = "dev"

type rootFlags struct {
	cfgFile  string
	logLevel string
	backend  string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "voicestream",
		Short:         "VoiceStream audio capture service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.cfgFile, "config", "", "config file (default is ./voicestream.yaml)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override log.level")
	root.PersistentFlags().StringVar(&flags.backend, "backend", "", "override audio.backend (portaudio, malgo, mock)")

	root.AddCommand(newServeCmd(flags))
	root.AddCommand(newMonitorCmd(flags))
	root.AddCommand(newDiscoverCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "voicestream %s\n", version)
		},
	}
}

// loadConfig applies flag overrides and validates the result.
func loadConfig(flags *rootFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.cfgFile)
	if err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if flags.backend != "" {
		cfg.Audio.Backend = flags.backend
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "❌", err)
		os.Exit(1)
	}
}
