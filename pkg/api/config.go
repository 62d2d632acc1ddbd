/*
 * Copyright © 2023 Clyso GmbH
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
	"fmt"
	"strings"
)

type Config struct {
	Enabled         bool   `yaml:"enabled"`
	GrpcPort        int    `yaml:"grpcPort"`
	HttpPort        int    `yaml:"httpPort"`
	Secure          bool   `yaml:"secure"`
	GrpcTLSCertFile string `yaml:"grpcCertFile"`
	GrpcTLSKeyFile  string `yaml:"grpcKeyFile"`
	// PathPrefix mounts the same http routes under additional prefix,
	// e.g. /_/backbeat/api.
	PathPrefix string `yaml:"pathPrefix"`
}

func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.GrpcPort <= 0 {
		return fmt.Errorf("api config: grpcPort must be positive: %d", c.GrpcPort)
	}
	if c.HttpPort <= 0 {
		return fmt.Errorf("api config: httpPort must be positive: %d", c.HttpPort)
	}
	if c.GrpcPort == c.HttpPort {
		return fmt.Errorf("api config: grpcPort and httpPort must differ")
	}
	if c.Secure && (c.GrpcTLSCertFile == "" || c.GrpcTLSKeyFile == "") {
		return fmt.Errorf("api config: grpcCertFile and grpcKeyFile are required for secure api")
	}
	if c.PathPrefix != "" {
		if !strings.HasPrefix(c.PathPrefix, "/") {
			return fmt.Errorf("api config: pathPrefix must start with /: %q", c.PathPrefix)
		}
		if strings.HasSuffix(c.PathPrefix, "/") {
			return fmt.Errorf("api config: pathPrefix must not end with /: %q", c.PathPrefix)
		}
	}
	return nil
}
