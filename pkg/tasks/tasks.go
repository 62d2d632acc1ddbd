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

	"github.com/clyso/crr/pkg/dom"
	"github.com/clyso/crr/pkg/entity"
)

const TypeAttempt = "crr:attempt"

// AttemptPayload is a single replication attempt of leased (entry, destination) pair.
type AttemptPayload struct {
	EntryID     entity.EntryID
	Destination string
	LeaseToken  string
	Epoch       uint64
}

func (p AttemptPayload) validate() error {
	if err := p.EntryID.Validate(); err != nil {
		return err
	}
	if p.Destination == "" {
		return fmt.Errorf("%w: attempt destination is empty", dom.ErrInvalidArg)
	}
	if p.LeaseToken == "" {
		return fmt.Errorf("%w: attempt lease token is empty", dom.ErrInvalidArg)
	}
	return nil
}

// Lease restores journal lease from task payload.
func (p AttemptPayload) Lease() entity.Lease {
	return entity.Lease{
		ID:          p.EntryID,
		Destination: p.Destination,
		Token:       p.LeaseToken,
		Epoch:       p.Epoch,
	}
}

func AttemptFromLease(l entity.Lease) AttemptPayload {
	return AttemptPayload{
		EntryID:     l.ID,
		Destination: l.Destination,
		LeaseToken:  l.Token,
		Epoch:       l.Epoch,
	}
}

func toTaskID(in ...string) string {
	return strings.Join(in, ":")
}
