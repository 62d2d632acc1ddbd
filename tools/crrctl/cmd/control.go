/*
 * Copyright © 2025 Clyso GmbH
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clyso/crr/tools/crrctl/internal/api"
)

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "pause replication",
	Long: `Pause replication on all destinations.
Source writes are still recorded and replicated after resume.
In-flight attempts are finished.

  crrctl pause`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		status, err := newClient().Pause(ctx)
		if err != nil {
			api.PrintError(err)
		}
		fmt.Println(status)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "resume replication",
	Long: `Resume paused replication.

  crrctl resume`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		status, err := newClient().Resume(ctx)
		if err != nil {
			api.PrintError(err)
		}
		fmt.Println(status)
	},
}

var modeCmd = &cobra.Command{
	Use:   "mode",
	Short: "prints replication mode",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		mode, err := newClient().Mode(ctx)
		if err != nil {
			api.PrintError(err)
		}
		fmt.Printf("%s (epoch %d)\n", mode.Mode, mode.Epoch)
	},
}

func init() {
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(modeCmd)
}
