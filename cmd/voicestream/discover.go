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
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-voicestream-go/internal/discovery"
)

func newDiscoverCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List VoiceStream bridges advertised on the local network",
		RunE: func(cmd *cobra.Command, _ []string) error {
			services, err := discovery.Browse(cmd.Context(), timeout)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(services) == 0 {
				fmt.Fprintln(out, "no bridges found")
				return nil
			}
			for _, s := range services {
				fmt.Fprintf(out, "%s\t%s:%d\t%v\n", s.Name, s.Host, s.Port, s.Info)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "how long to wait for answers")
	return cmd
}
