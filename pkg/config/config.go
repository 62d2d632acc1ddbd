package config

import (
	"embed"
	"fmt"
	"io"
	"os"
	"strings"

	stdlog "github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/clyso/crr/pkg/log"
	"github.com/clyso/crr/pkg/metrics"
	"github.com/clyso/crr/pkg/trace"
)

//go:embed config.yaml
var configFile embed.FS

type Common struct {
	Log     *log.Config     `yaml:"log,omitempty"`
	Trace   *trace.Config   `yaml:"trace,omitempty"`
	Metrics *metrics.Config `yaml:"metrics,omitempty"`
	Redis   *Redis          `yaml:"redis,omitempty"`
}

type Redis struct {
	Address   string        `yaml:"address"`
	Addresses []string      `yaml:"addresses"`
	Sentinel  RedisSentinel `yaml:"sentinel"`
	User      string        `yaml:"user"`
	Password  string        `yaml:"password"`
	TLS       RedisTLS      `yaml:"tls"`
	MetaDB    int           `yaml:"metaDB"`
	QueueDB   int           `yaml:"queueDB"`
	LockDB    int           `yaml:"lockDB"`
}

type RedisSentinel struct {
	MasterName string `yaml:"masterName"`
	User       string `yaml:"user"`
	Password   string `yaml:"password"`
}

type RedisTLS struct {
	Enabled  bool `yaml:"enabled"`
	Insecure bool `yaml:"insecure"`
}

// GetAddresses prefers the address list over the single address.
func (r *Redis) GetAddresses() []string {
	if len(r.Addresses) != 0 {
		return r.Addresses
	}
	return []string{r.Address}
}

func (r *Redis) validate() error {
	if r.Address == "" && len(r.Addresses) == 0 {
		return fmt.Errorf("app config: redis address is not set")
	}
	for _, db := range []int{r.MetaDB, r.QueueDB, r.LockDB} {
		if db < 0 || db > 15 {
			return fmt.Errorf("app config: invalid redis db number %d", db)
		}
	}
	return nil
}

func Get(conf any, sources ...Src) error {
	data, err := configFile.Open("config.yaml")
	if err != nil {
		return fmt.Errorf("%w: unable to read config.yaml", err)
	}
	defer data.Close()

	v := viper.NewWithOptions(viper.EnvKeyReplacer(strings.NewReplacer(".", "_")))
	v.SetConfigType("yaml")
	err = v.ReadConfig(data)
	if err != nil {
		return err
	}

	stdlog.Info().Msg("app config: reading default common config")

	for _, source := range sources {
		switch src := source.(type) {
		case pathOpt:
			_, err = os.Stat(string(src))
			if err != nil {
				stdlog.Warn().Msgf("app config: no config file %q", string(src))
				continue
			}
			v.SetConfigFile(string(src))
			err = v.MergeInConfig()
			if err != nil {
				return fmt.Errorf("%w: unable merge config file %q", err, string(src))
			}
			stdlog.Info().Msgf("app config: override with: %s", string(src))
		case readerOpt:
			err = v.MergeConfig(src.Reader)
			if err != nil {
				return fmt.Errorf("%w: unable merge config reader", err)
			}
			stdlog.Info().Msgf("app config: override with: %s", src.Name)
		}
	}

	// Override config values if there are envs
	v.AutomaticEnv()
	v.SetEnvPrefix("CFG")

	err = v.Unmarshal(&conf)
	if err != nil {
		return fmt.Errorf("%w: unable to unmarshal config", err)
	}

	return nil
}

func (c *Common) Validate() error {
	if c.Log == nil {
		return fmt.Errorf("app config: empty Log config")
	}
	if c.Redis == nil {
		return fmt.Errorf("app config: empty Redis config")
	}
	if err := c.Redis.validate(); err != nil {
		return err
	}
	if c.Metrics == nil {
		return fmt.Errorf("app config: empty Metrics config")
	}
	if c.Trace == nil {
		return fmt.Errorf("app config: empty Trace config")
	}

	return nil
}

type Src interface {
	isSrc()
}

type pathOpt string

func (pathOpt) isSrc() {}

func Path(path string) Src {
	return pathOpt(path)
}

type readerOpt struct {
	io.Reader
	Name string
}

func (readerOpt) isSrc() {}

func Reader(reader io.Reader, name string) Src {
	return readerOpt{reader, name}
}
