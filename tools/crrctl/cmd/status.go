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
	"sort"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/clyso/crr/tools/crrctl/internal/api"
)

var (
	stBucket  string
	stKey     string
	stVersion string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "prints replication status of source object version",
	Long: `Prints replication status of source object version on every destination.

  crrctl status --bucket photos --key 2025/cat.jpg
  crrctl status --bucket photos --key 2025/cat.jpg --version 3HL4kqtJlcpXroDTDmJ`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		res, err := newClient().Status(ctx, stBucket, stKey, stVersion)
		if err != nil {
			api.PrintError(err)
		}
		fmt.Printf("Object:  %s\n", res.Source)
		fmt.Printf("Size:    %d\n", res.Size)
		fmt.Printf("Created: %s\n", res.CreatedAt.Format(time.RFC3339))
		fmt.Printf("Status:  %s\n\n", res.Status)

		dests := make([]string, 0, len(res.Destinations))
		for d := range res.Destinations {
			dests = append(dests, d)
		}
		sort.Strings(dests)
		// io.Writer, minwidth, tabwidth, padding int, padchar byte, flags uint
		w := tabwriter.NewWriter(os.Stdout, 10, 1, 5, ' ', 0)
		fmt.Fprintln(w, "DESTINATION\tSTATE\tATTEMPTS\tUPDATED\tERROR")
		for _, d := range dests {
			p := res.Destinations[d]
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", d, p.State, p.Attempts, p.UpdatedAt.Format(time.RFC3339), p.LastError)
		}
		w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVarP(&stBucket, "bucket", "b", "", "source bucket")
	statusCmd.Flags().StringVarP(&stKey, "key", "k", "", "source object key")
	statusCmd.Flags().StringVar(&stVersion, "version", "", "source object version id; empty for unversioned buckets")
	if err := statusCmd.MarkFlagRequired("bucket"); err != nil {
		logrus.WithError(err).Fatal()
	}
	if err := statusCmd.MarkFlagRequired("key"); err != nil {
		logrus.WithError(err).Fatal()
	}
}
