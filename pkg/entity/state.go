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
	"fmt"
	"strings"

	"github.com/clyso/crr/pkg/dom"
)

// State of a single (entry, destination) pair.
type State string

const (
	StatePending    State = "PENDING"
	StateInProgress State = "IN_PROGRESS"
	StateCompleted  State = "COMPLETED"
	StateFailed     State = "FAILED"
)

func ParseState(s string) (State, error) {
	switch State(strings.ToUpper(s)) {
	case StatePending:
		return StatePending, nil
	case StateInProgress:
		return StateInProgress, nil
	case StateCompleted:
		return StateCompleted, nil
	case StateFailed:
		return StateFailed, nil
	}
	return "", fmt.Errorf("%w: unknown replication state %q", dom.ErrInvalidArg, s)
}

func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// transitions lists allowed source states per target state.
// FAILED -> PENDING is reachable only through an explicit operator retry.
var transitions = map[State][]State{
	StatePending:    {StateInProgress, StateFailed},
	StateInProgress: {StatePending},
	StateCompleted:  {StateInProgress},
	StateFailed:     {StateInProgress},
}

// AllowedFrom returns the states a pair may be in to move to target.
func AllowedFrom(target State) []State {
	return transitions[target]
}

func CanTransition(from, to State) bool {
	for _, s := range transitions[to] {
		if s == from {
			return true
		}
	}
	return false
}

// AggregateStatus is the per source object replication status.
type AggregateStatus string

const (
	AggregatePending    AggregateStatus = "PENDING"
	AggregateProcessing AggregateStatus = "PROCESSING"
	AggregateCompleted  AggregateStatus = "COMPLETED"
	AggregateFailed     AggregateStatus = "FAILED"
)

func Aggregate(states map[string]PairState) AggregateStatus {
	if len(states) == 0 {
		return AggregatePending
	}
	completed, started := 0, false
	for _, s := range states {
		switch s.State {
		case StateFailed:
			return AggregateFailed
		case StateCompleted:
			completed++
			started = true
		case StateInProgress:
			started = true
		}
	}
	switch {
	case completed == len(states):
		return AggregateCompleted
	case started:
		return AggregateProcessing
	default:
		return AggregatePending
	}
}
