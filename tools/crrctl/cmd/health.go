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
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	crrapi "github.com/clyso/crr/pkg/api"
	"github.com/clyso/crr/tools/crrctl/internal/api"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "checks worker grpc health",
	Long: `Checks worker grpc health. Replication service reports
NOT_SERVING while replication is paused.

  crrctl health --grpc-address localhost:9670`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		tlsOption, err := getTLSOptions()
		if err != nil {
			logrus.WithError(err).Fatal("unable to get tls options")
		}
		for _, service := range []string{"", crrapi.ReplicationService} {
			status, err := api.Health(ctx, grpcAddress, service, tlsOption)
			if err != nil {
				logrus.WithError(err).WithField("address", grpcAddress).Fatal("unable to check health")
			}
			name := service
			if name == "" {
				name = "server"
			}
			fmt.Printf("%s: %s\n", name, status)
		}
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
