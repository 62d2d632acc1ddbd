/*
 * Copyright © 2024 Clyso GmbH
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

package worker

import (
	"embed"
	"fmt"
	"io/fs"
	"time"

	"github.com/clyso/crr/pkg/api"
	"github.com/clyso/crr/pkg/backend"
	"github.com/clyso/crr/pkg/config"
	"github.com/clyso/crr/pkg/control"
	"github.com/clyso/crr/pkg/dispatch"
	"github.com/clyso/crr/pkg/dom"
	"github.com/clyso/crr/pkg/journal"
	"github.com/clyso/crr/pkg/ratelimit"
	"github.com/clyso/crr/pkg/s3client"
	"github.com/clyso/crr/service/worker/handler"
)

//go:embed config.yaml
var configFile embed.FS

func defaultConfig() fs.File {
	defaultFile, err := configFile.Open("config.yaml")
	if err != nil {
		panic(err)
	}
	return defaultFile
}

type Config struct {
	config.Common `yaml:",inline,omitempty" mapstructure:",squash"`
	Source        s3client.Config        `yaml:"source"`
	Destinations  map[string]Destination `yaml:"destinations"`

	// ProbeDestinations writes and deletes test object on every destination at startup.
	ProbeDestinations bool          `yaml:"probeDestinations"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout"`

	Api        *api.Config     `yaml:"api,omitempty"`
	Controller control.Config  `yaml:"controller"`
	Dispatcher dispatch.Config `yaml:"dispatcher"`
	Journal    journal.Config  `yaml:"journal"`
	Retry      handler.Config  `yaml:"retry"`
}

// Destination is a replication target storage with its worker pool settings.
type Destination struct {
	backend.Config `yaml:",inline" mapstructure:",squash"`

	Workers int           `yaml:"workers"`
	Timeout time.Duration `yaml:"timeout"`
	// PrefixSourceBucket stores replicas under <source bucket>/<key>.
	// Defaults to true for aws destinations.
	PrefixSourceBucket *bool                     `yaml:"prefixSourceBucket,omitempty"`
	RateLimit          ratelimit.RateLimit       `yaml:"rateLimit"`
	Concurrency        ratelimit.SemaphoreConfig `yaml:"concurrency"`
}

func (d Destination) GetPrefixSourceBucket() bool {
	if d.PrefixSourceBucket != nil {
		return *d.PrefixSourceBucket
	}
	return d.Kind == backend.KindAWS
}

func (d Destination) validate(name string) error {
	if err := d.Config.Validate(); err != nil {
		return fmt.Errorf("%w: destination %q", err, name)
	}
	if d.Workers <= 0 {
		return fmt.Errorf("%w: destination %q: workers must be positive: %d", dom.ErrInvalidArg, name, d.Workers)
	}
	if d.Timeout < 0 {
		return fmt.Errorf("%w: destination %q: negative timeout", dom.ErrInvalidArg, name)
	}
	if d.RateLimit.Enabled && d.RateLimit.RPM <= 0 {
		return fmt.Errorf("%w: destination %q: rateLimit rpm must be positive", dom.ErrInvalidArg, name)
	}
	if d.Concurrency.Enabled && d.Concurrency.Limit <= 0 {
		return fmt.Errorf("%w: destination %q: concurrency limit must be positive", dom.ErrInvalidArg, name)
	}
	return nil
}

func (c *Config) Validate() error {
	if err := c.Common.Validate(); err != nil {
		return err
	}
	if err := c.Source.Validate(); err != nil {
		return err
	}
	if len(c.Destinations) == 0 {
		return fmt.Errorf("worker config: no destinations configured")
	}
	for name, d := range c.Destinations {
		if err := d.validate(name); err != nil {
			return err
		}
	}
	if c.Api == nil {
		return fmt.Errorf("worker config: empty Api config")
	}
	if err := c.Api.Validate(); err != nil {
		return err
	}
	if err := c.Dispatcher.Validate(); err != nil {
		return err
	}
	if err := c.Retry.Validate(); err != nil {
		return err
	}
	if c.Journal.PollInterval <= 0 || c.Journal.BatchSize <= 0 {
		return fmt.Errorf("worker config: journal pollInterval and batchSize must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker config: shutdownTimeout must be positive")
	}
	return nil
}

// DestinationNames returns configured destination names.
func (c *Config) DestinationNames() []string {
	res := make([]string, 0, len(c.Destinations))
	for name := range c.Destinations {
		res = append(res, name)
	}
	return res
}

// Backends returns storage configs of all destinations.
func (c *Config) Backends() map[string]backend.Config {
	res := make(map[string]backend.Config, len(c.Destinations))
	for name, d := range c.Destinations {
		res[name] = d.Config
	}
	return res
}

// RateLimits returns per destination requests per minute limits.
func (c *Config) RateLimits() map[string]ratelimit.RateLimit {
	res := make(map[string]ratelimit.RateLimit, len(c.Destinations))
	for name, d := range c.Destinations {
		res[name] = d.RateLimit
	}
	return res
}

func GetConfig(src ...config.Src) (*Config, error) {
	dc := defaultConfig()
	var conf Config
	cfgSource := []config.Src{config.Reader(dc, "worker_default_cfg")}
	cfgSource = append(cfgSource, src...)
	err := config.Get(&conf, cfgSource...)
	_ = dc.Close()
	if err != nil {
		return nil, err
	}
	return &conf, err
}
