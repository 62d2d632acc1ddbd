/*
 * Copyright © 2024 Clyso GmbH
 * Copyright © 2025 STRATO GmbH
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

package standalone

import (
	"embed"
	"fmt"
	"io/fs"

	"github.com/clyso/crr/pkg/config"
	"github.com/clyso/crr/pkg/ingest"
	"github.com/clyso/crr/service/worker"
)

//go:embed config.yaml
var configFile embed.FS

//go:embed test-conf.yaml
var testConfigFile embed.FS

func defaultConfig() fs.File {
	defaultFile, err := configFile.Open("config.yaml")
	if err != nil {
		panic(err)
	}
	return defaultFile
}

func testConfig() fs.File {
	testFile, err := testConfigFile.Open("test-conf.yaml")
	if err != nil {
		panic(err)
	}
	return testFile
}

// Config runs worker and agent in one process. Empty source address or
// address in form ":<port>" starts fake in-memory s3 source.
type Config struct {
	worker.Config `yaml:",inline,omitempty" mapstructure:",squash"`

	Agent struct {
		ingest.Config `yaml:",inline" mapstructure:",squash"`

		Port int `yaml:"port"`
	} `yaml:"agent"`
}

func (c *Config) Validate() error {
	if err := c.Config.Validate(); err != nil {
		return err
	}
	if c.Agent.Port <= 0 {
		return fmt.Errorf("crr config: agent port must be positive: %d", c.Agent.Port)
	}
	if len(c.Agent.Rules) == 0 {
		return fmt.Errorf("crr config: no replication rules configured")
	}
	if err := c.Agent.Config.Validate(c.DestinationNames()...); err != nil {
		return err
	}
	if c.Api.Enabled && (c.Agent.Port == c.Api.GrpcPort || c.Agent.Port == c.Api.HttpPort) {
		return fmt.Errorf("crr config: agent port %d is used by management api", c.Agent.Port)
	}
	return nil
}

func GetConfig(src ...config.Src) (*Config, error) {
	dc := defaultConfig()
	var conf Config
	cfgSource := []config.Src{config.Reader(dc, "crr_default_cfg")}
	if len(src) == 0 {
		src = []config.Src{config.Reader(testConfig(), "crr_test_cfg")}
	}

	cfgSource = append(cfgSource, src...)
	err := config.Get(&conf, cfgSource...)
	_ = dc.Close()
	if err != nil {
		return nil, err
	}
	return &conf, err
}
