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

package api

import (
	"context"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/clyso/crr/pkg/control"
)

// ReplicationService is the grpc health service name reporting replication mode.
const ReplicationService = "crr.Replication"

// HealthObserver reports replication service as NOT_SERVING while replication is paused.
func HealthObserver(srv *health.Server) control.Observer {
	return func(_ context.Context, s control.Snapshot) {
		status := healthpb.HealthCheckResponse_SERVING
		if s.Paused() {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		srv.SetServingStatus(ReplicationService, status)
	}
}
