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
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	crrapi "github.com/clyso/crr/pkg/api"
	"github.com/clyso/crr/tools/crrctl/internal/api"
)

var (
	fDestination string
	fLimit       int
	frBucket     string
	frKey        string
	frVersion    string
	frAll        bool
)

var failedCmd = &cobra.Command{
	Use:   "failed",
	Short: "lists failed replications of destination",
	Long: `Lists objects which failed to replicate to destination, oldest first.

  crrctl failed --destination azure
  crrctl failed --destination azure --limit 10`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		res, err := newClient().Failed(ctx, fDestination, fLimit)
		if err != nil {
			api.PrintError(err)
		}
		// io.Writer, minwidth, tabwidth, padding int, padchar byte, flags uint
		w := tabwriter.NewWriter(os.Stdout, 10, 1, 5, ' ', 0)
		fmt.Fprintln(w, "BUCKET\tKEY\tVERSION\tFAILED AT\tATTEMPTS\tERROR")
		for _, f := range res {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
				f.Source.Bucket, f.Source.Name, f.Source.Version, f.FailedAt.Format(time.RFC3339), f.State.Attempts, f.State.LastError)
		}
		w.Flush()
	},
}

var failedRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "retries failed replications of destination",
	Long: `Moves failed replications back to pending with reset attempts.

Single object:
  crrctl failed retry --destination azure --bucket photos --key cat.jpg

All failed objects of destination:
  crrctl failed retry --destination azure --all`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		if frAll == (frKey != "") {
			return fmt.Errorf("exactly one of --all or --key must be set")
		}
		if frKey != "" && frBucket == "" {
			return fmt.Errorf("--bucket must be set with --key")
		}
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		client := newClient()
		var items []crrapi.RetryRequest
		if frAll {
			failed, err := client.Failed(ctx, fDestination, fLimit)
			if err != nil {
				api.PrintError(err)
			}
			for _, f := range failed {
				items = append(items, crrapi.RetryRequest{
					Bucket:      f.Source.Bucket,
					Key:         f.Source.Name,
					VersionID:   f.Source.Version,
					Destination: fDestination,
				})
			}
		} else {
			items = append(items, crrapi.RetryRequest{
				Bucket:      frBucket,
				Key:         frKey,
				VersionID:   frVersion,
				Destination: fDestination,
			})
		}
		if len(items) == 0 {
			fmt.Println("nothing to retry")
			return
		}
		res, err := client.RetryFailed(ctx, items)
		if err != nil {
			api.PrintError(err)
		}
		fmt.Printf("retried: %d, skipped: %d\n", res.Retried, res.Skipped)
	},
}

func init() {
	rootCmd.AddCommand(failedCmd)
	failedCmd.AddCommand(failedRetryCmd)
	failedCmd.PersistentFlags().StringVarP(&fDestination, "destination", "d", "", "destination name")
	failedCmd.PersistentFlags().IntVarP(&fLimit, "limit", "l", 0, "max number of failed objects; 0 for server default")
	if err := failedCmd.MarkPersistentFlagRequired("destination"); err != nil {
		logrus.WithError(err).Fatal()
	}

	failedRetryCmd.Flags().StringVarP(&frBucket, "bucket", "b", "", "source bucket")
	failedRetryCmd.Flags().StringVarP(&frKey, "key", "k", "", "source object key")
	failedRetryCmd.Flags().StringVar(&frVersion, "version", "", "source object version id")
	failedRetryCmd.Flags().BoolVar(&frAll, "all", false, "retry all listed failed objects of destination")
}
