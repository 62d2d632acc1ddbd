package standalone

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/clyso/crr/pkg/config"
)

const hiddenSecret = "<hidden>"

// PrintConfig writes resulting yaml config to w. Secrets are masked
// unless showSecrets is set.
func PrintConfig(w io.Writer, showSecrets bool, src ...config.Src) error {
	conf, err := GetConfig(src...)
	if err != nil {
		return err
	}
	if !showSecrets {
		maskSecrets(conf)
	}
	data, err := yaml.Marshal(conf)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func maskSecrets(conf *Config) {
	mask := func(s *string) {
		if *s != "" {
			*s = hiddenSecret
		}
	}
	mask(&conf.Source.SecretKey)
	if conf.Redis != nil {
		mask(&conf.Redis.Password)
		mask(&conf.Redis.Sentinel.Password)
	}
	for name, d := range conf.Destinations {
		mask(&d.SecretKey)
		mask(&d.AccountKey)
		mask(&d.ClientSecret)
		conf.Destinations[name] = d
	}
}
