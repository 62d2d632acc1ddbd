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

package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"time"

	"github.com/clyso/crr/pkg/dom"
)

// EntryID identifies a replication entry. It is derived from the source
// object version, so the same version always maps to the same entry.
type EntryID string

func NewEntryID(obj dom.Object) EntryID {
	h := sha256.New()
	h.Write([]byte(obj.Bucket))
	h.Write([]byte{0})
	h.Write([]byte(obj.Name))
	h.Write([]byte{0})
	h.Write([]byte(obj.Version))
	return EntryID(hex.EncodeToString(h.Sum(nil)[:16]))
}

func (id EntryID) String() string {
	return string(id)
}

func (id EntryID) Validate() error {
	if len(id) != 32 {
		return fmt.Errorf("%w: invalid entry id %q", dom.ErrInvalidArg, string(id))
	}
	if _, err := hex.DecodeString(string(id)); err != nil {
		return fmt.Errorf("%w: invalid entry id %q", dom.ErrInvalidArg, string(id))
	}
	return nil
}

// Entry is the journal record of one source object version and
// its replication state per destination.
type Entry struct {
	ID        EntryID
	Source    dom.Object
	Size      int64
	Checksum  string
	Targets   []string
	CreatedAt time.Time
	States    map[string]PairState
}

func (e Entry) Validate() error {
	if e.Source.Bucket == "" {
		return fmt.Errorf("%w: source bucket is empty", dom.ErrInvalidArg)
	}
	if e.Source.Name == "" {
		return fmt.Errorf("%w: source key is empty", dom.ErrInvalidArg)
	}
	if len(e.Targets) == 0 {
		return fmt.Errorf("%w: entry %s has no destinations", dom.ErrInvalidArg, e.Source)
	}
	if e.Size < 0 {
		return fmt.Errorf("%w: negative object size %d", dom.ErrInvalidArg, e.Size)
	}
	seen := make(map[string]struct{}, len(e.Targets))
	for _, t := range e.Targets {
		if t == "" {
			return fmt.Errorf("%w: empty destination name", dom.ErrInvalidArg)
		}
		if _, ok := seen[t]; ok {
			return fmt.Errorf("%w: duplicated destination %q", dom.ErrInvalidArg, t)
		}
		seen[t] = struct{}{}
	}
	return nil
}

func (e Entry) HasTarget(dest string) bool {
	return slices.Contains(e.Targets, dest)
}

// PairState is the replication state of one (entry, destination) pair.
type PairState struct {
	State         State     `json:"state"`
	Attempts      int       `json:"attempts"`
	LastError     string    `json:"lastError,omitempty"`
	ReadyAt       time.Time `json:"readyAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
	CompletedAt   time.Time `json:"completedAt,omitempty"`
	LeaseToken    string    `json:"-"`
	LeaseUntil    time.Time `json:"leaseUntil,omitempty"`
	Epoch         uint64    `json:"epoch,omitempty"`
	TargetVersion string    `json:"targetVersion,omitempty"`
}

// Pending is a reference to a dispatchable pair returned by the journal.
type Pending struct {
	ID      EntryID
	ReadyAt time.Time
}

// Lease grants a worker exclusive ownership of a pair for one attempt.
type Lease struct {
	ID          EntryID
	Destination string
	Token       string
	Epoch       uint64
	Until       time.Time
	Attempt     int
}
