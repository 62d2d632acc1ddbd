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
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/clyso/crr/tools/crrctl/internal/api"
)

var queuesCmd = &cobra.Command{
	Use:     "queues",
	Aliases: []string{"queue", "q"},
	Short:   "prints replication backlog per destination",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		res, err := newClient().Queues(ctx)
		if err != nil {
			api.PrintError(err)
		}
		// io.Writer, minwidth, tabwidth, padding int, padchar byte, flags uint
		w := tabwriter.NewWriter(os.Stdout, 10, 1, 5, ' ', 0)
		fmt.Fprintln(w, "DESTINATION\tPENDING\tREADY\tIN_PROGRESS\tCOMPLETED\tFAILED\tQUEUED\tLATENCY")
		for _, q := range res {
			queued, latency := "-", "-"
			if q.Queue != nil {
				queued = fmt.Sprint(q.Queue.Unprocessed)
				latency = q.Queue.Latency.String()
			}
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%s\t%s\n",
				q.Destination, q.Pending, q.Ready, q.InProgress, q.Completed, q.Failed, queued, latency)
		}
		w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(queuesCmd)
}
