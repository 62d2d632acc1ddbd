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

package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clyso/crr/pkg/config"
)

func TestGetConfigDefaults(t *testing.T) {
	r := require.New(t)
	conf, err := GetConfig()
	r.NoError(err)
	r.Equal(9673, conf.Port)
	r.False(conf.Subscribe)
	r.Empty(conf.Rules)
	r.Error(conf.Validate(), "no rules in default config")
}

// TestHelmEnvOverrides tests env vars set by agent deployment.
func TestHelmEnvOverrides(t *testing.T) {
	t.Run("CFG_REDIS_PASSWORD", func(t *testing.T) {
		r := require.New(t)
		t.Setenv("CFG_REDIS_PASSWORD", "secret-from-helm")
		conf, err := GetConfig()
		r.NoError(err)
		r.Equal("secret-from-helm", conf.Redis.Password)
	})

	t.Run("CFG_REDIS_SENTINEL_MASTERNAME", func(t *testing.T) {
		r := require.New(t)
		t.Setenv("CFG_REDIS_SENTINEL_MASTERNAME", "mymaster")
		conf, err := GetConfig()
		r.NoError(err)
		r.Equal("mymaster", conf.Redis.Sentinel.MasterName)
	})

	t.Run("CFG_URL", func(t *testing.T) {
		r := require.New(t)
		t.Setenv("CFG_URL", "http://agent.crr:9673")
		conf, err := GetConfig()
		r.NoError(err)
		r.Equal("http://agent.crr:9673/events", conf.EventsURL())
	})
}

func TestConfigRules(t *testing.T) {
	const override = `url: http://agent:9673/
subscribe: true
source:
  address: s3.local:9000
  accessKey: access
  secretKey: secret
rules:
  - bucket: photos
    destinations: [aws, gcp]
  - bucket: photos
    prefix: raw/
    destinations: [azure]
`
	r := require.New(t)
	conf, err := GetConfig(config.Reader(strings.NewReader(override), "test"))
	r.NoError(err)
	r.NoError(conf.Validate())
	r.Len(conf.Rules, 2)
	r.Equal("raw/", conf.Rules[1].Prefix)
	r.Equal([]string{"aws", "gcp"}, conf.Rules[0].Destinations)
	r.Equal("http://agent:9673/events", conf.EventsURL())

	conf.Source.AccessKey = ""
	r.Error(conf.Validate(), "subscribe requires source credentials")
	conf.Subscribe = false
	r.NoError(conf.Validate())
	conf.UnsubscribeOnStop = true
	r.Error(conf.Validate(), "unsubscribe requires subscribe")
	conf.UnsubscribeOnStop = false

	conf.Rules[0].Destinations = nil
	r.Error(conf.Validate())
}
