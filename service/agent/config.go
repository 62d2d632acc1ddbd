package agent

import (
	"embed"
	"fmt"
	"io/fs"
	"net/url"

	"github.com/clyso/crr/pkg/config"
	"github.com/clyso/crr/pkg/ingest"
	"github.com/clyso/crr/pkg/journal"
	"github.com/clyso/crr/pkg/s3client"
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

const EventsPath = "/events"

type Config struct {
	config.Common `yaml:",inline,omitempty" mapstructure:",squash"`
	ingest.Config `yaml:",inline,omitempty" mapstructure:",squash"`

	Port int `yaml:"port"`
	// URL is the agent address reachable from the source storage.
	// Required to subscribe source buckets to notifications.
	URL string `yaml:"url"`
	// Subscribe configures source bucket notifications for every rule bucket on start.
	Subscribe bool `yaml:"subscribe"`
	// UnsubscribeOnStop removes bucket notifications on graceful shutdown.
	UnsubscribeOnStop bool            `yaml:"unsubscribeOnStop"`
	Source            s3client.Config `yaml:"source"`
	Journal           journal.Config  `yaml:"journal"`
}

// EventsURL returns agent webhook url for source notifications.
func (c *Config) EventsURL() string {
	res, err := url.JoinPath(c.URL, EventsPath)
	if err != nil {
		return c.URL + EventsPath
	}
	return res
}

func (c *Config) Validate() error {
	if err := c.Common.Validate(); err != nil {
		return err
	}
	if c.Port <= 0 {
		return fmt.Errorf("port is not set")
	}
	if err := c.Config.Validate(); err != nil {
		return err
	}
	if len(c.Rules) == 0 {
		return fmt.Errorf("no replication rules configured")
	}
	if c.UnsubscribeOnStop && !c.Subscribe {
		return fmt.Errorf("unsubscribeOnStop requires subscribe")
	}
	if c.Subscribe {
		if c.URL == "" {
			return fmt.Errorf("url is required to subscribe source buckets")
		}
		if _, err := url.ParseRequestURI(c.URL); err != nil {
			return fmt.Errorf("invalid agent url %q: %w", c.URL, err)
		}
		if err := c.Source.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func GetConfig(src ...config.Src) (*Config, error) {
	dc := defaultConfig()
	var conf Config
	cfgSource := []config.Src{config.Reader(dc, "agent_default_cfg")}
	cfgSource = append(cfgSource, src...)
	err := config.Get(&conf, cfgSource...)
	_ = dc.Close()
	if err != nil {
		return nil, err
	}
	return &conf, err
}
