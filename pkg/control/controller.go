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

package control

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/clyso/crr/pkg/dom"
	"github.com/clyso/crr/pkg/metrics"
)

type Mode string

const (
	ModeRunning Mode = "running"
	ModePaused  Mode = "paused"
)

type Config struct {
	StartPaused bool `yaml:"startPaused"`
}

// Snapshot is a consistent read of replication mode.
// Epoch is incremented on every mode change.
type Snapshot struct {
	Mode  Mode   `json:"mode"`
	Epoch uint64 `json:"epoch"`
}

func (s Snapshot) Paused() bool {
	return s.Mode == ModePaused
}

// Ack is returned by Pause and Resume. Changed is false if
// the controller already was in requested mode.
type Ack struct {
	Snapshot
	Changed bool `json:"changed"`
}

// Observer is notified about every mode change in order of changes.
// Observers are called under the controller lock and must not block.
type Observer func(ctx context.Context, s Snapshot)

// Controller is the process wide pause/resume state cell consulted
// before every dispatch decision.
type Controller struct {
	mu        sync.RWMutex
	state     Snapshot
	closed    bool
	changed   chan struct{}
	observers []Observer
}

func New(conf Config, metricsSvc metrics.Service, observers ...Observer) *Controller {
	c := &Controller{
		state:   Snapshot{Mode: ModeRunning},
		changed: make(chan struct{}),
	}
	if conf.StartPaused {
		c.state.Mode = ModePaused
	}
	if metricsSvc != nil {
		observers = append([]Observer{func(_ context.Context, s Snapshot) {
			metricsSvc.ControllerState(s.Paused(), s.Epoch)
		}}, observers...)
	}
	c.observers = observers
	for _, o := range c.observers {
		o(context.Background(), c.state)
	}
	return c
}

// Observe registers additional observer and notifies it with the current state.
func (c *Controller) Observe(ctx context.Context, o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
	o(ctx, c.state)
}

// Pause stops new dispatch decisions. When Pause returns, no dispatch guarded
// by an older epoch is running or can start. Leased attempts are not preempted.
func (c *Controller) Pause(ctx context.Context) (Ack, error) {
	return c.set(ctx, ModePaused)
}

func (c *Controller) Resume(ctx context.Context) (Ack, error) {
	return c.set(ctx, ModeRunning)
}

func (c *Controller) set(ctx context.Context, mode Mode) (Ack, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return Ack{}, fmt.Errorf("%w: controller is closed", dom.ErrControlUnavailable)
	}
	if c.state.Mode == mode {
		return Ack{Snapshot: c.state}, nil
	}
	c.state = Snapshot{Mode: mode, Epoch: c.state.Epoch + 1}
	close(c.changed)
	c.changed = make(chan struct{})
	for _, o := range c.observers {
		o(ctx, c.state)
	}
	zerolog.Ctx(ctx).Info().Str("mode", string(mode)).Uint64("epoch", c.state.Epoch).Msg("replication mode changed")
	return Ack{Snapshot: c.state, Changed: true}, nil
}

func (c *Controller) CurrentMode() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Changed returns channel closed on the next mode change or on Close.
func (c *Controller) Changed() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.changed
}

// Guard runs fn only if replication is running with the given epoch.
// Mode cannot change while fn is running.
// Returns dom.ErrStaleEpoch if mode was changed since epoch was read.
func (c *Controller) Guard(epoch uint64, fn func() error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return fmt.Errorf("%w: controller is closed", dom.ErrControlUnavailable)
	}
	if c.state.Epoch != epoch || c.state.Paused() {
		return fmt.Errorf("%w: current epoch %d mode %s, got %d", dom.ErrStaleEpoch, c.state.Epoch, c.state.Mode, epoch)
	}
	return fn()
}

// WaitRunning blocks until replication is running and returns its snapshot.
func (c *Controller) WaitRunning(ctx context.Context) (Snapshot, error) {
	for {
		c.mu.RLock()
		snap, changed, closed := c.state, c.changed, c.closed
		c.mu.RUnlock()
		if closed {
			return snap, fmt.Errorf("%w: controller is closed", dom.ErrControlUnavailable)
		}
		if !snap.Paused() {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-changed:
		}
	}
}

// Close makes controller unavailable. Subsequent Pause and Resume calls fail
// with dom.ErrControlUnavailable and dispatch stops.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.changed)
}
