// Copyright 2025 Clyso GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tasks

import (
	"fmt"
	"strings"
)

type Queue string

const QueueAttemptPrefix Queue = "crr"

// QueueName returns name of the destination attempt queue.
func QueueName(destination string) string {
	return fmt.Sprintf("%s:%s", QueueAttemptPrefix, destination)
}

// DestinationFromQueue is the inverse of QueueName.
func DestinationFromQueue(queue string) (string, bool) {
	return strings.CutPrefix(queue, string(QueueAttemptPrefix)+":")
}

// ServerQueues returns asynq server queue priorities for destination worker pool.
// Each destination is served by a dedicated server, so it listens to a single queue.
func ServerQueues(destination string) map[string]int {
	return map[string]int{QueueName(destination): 1}
}
