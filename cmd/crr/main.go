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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
	stdlog "github.com/rs/zerolog/log"

	"github.com/clyso/crr/pkg/config"
	"github.com/clyso/crr/pkg/dom"
	"github.com/clyso/crr/service/standalone"
)

// this information will be collected when built, by -ldflags="-X 'main.version=$(tag)' -X 'main.commit=$(commit)'".
var (
	version    = "development"
	date       = "not set"
	commit     = "not set"
	configPath = flag.String("config", "", "Set path to config yaml file. Default config location is $HOME/.config/crr/config.yaml")
)

const (
	defaultConfigPath = ".config/crr/config.yaml"
	helpText          = `Runs crr cross-cloud replication in standalone mode:
embedded redis, replication agent and worker in one process.

Configuration:
1) No config provided. crr will start with fake in-memory s3 source and 2 in-memory destinations.
2) Config placed in $HOME/.config/crr/config.yaml
3) Config provided explicitly with -config flag

Usage:
  crr [flags] <command>(optional)'.

Example 1: start crr in standalone mode with fake s3 source
  crr

Example 2: start crr in standalone mode with custom config
  crr -config ./my-config.yaml

Example 3: print crr config
  crr print-config
  crr -config ./my-config.yaml -show-secrets print-config

Commands:
  print-config - prints config, can be used with -config flag
  version - prints crr version

Flags:
`
)

func main() {
	var h, help, printVer, v, showSecrets bool
	flag.BoolVar(&h, "h", false, "Print help. Example: crr -h")
	flag.BoolVar(&v, "v", false, "Verbose output. Example: crr -v")
	flag.BoolVar(&help, "help", false, "Print help. Example: crr -help")
	flag.BoolVar(&printVer, "version", false, "Print version. Example: crr -version")
	flag.BoolVar(&showSecrets, "show-secrets", false, "Do not mask secrets in print-config output.")
	flag.Parse()
	if h || help {
		fmt.Print(helpText)
		flag.PrintDefaults()
		os.Exit(0)
	}
	if printVer || (len(flag.Args()) > 0 && flag.Args()[0] == "version") {
		printVersion()
		os.Exit(0)
	}

	zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	if v {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	var configSrc []config.Src
	if configPath != nil && *configPath != "" {
		configSrc = append(configSrc, config.Path(*configPath))
	} else {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			stdlog.Err(err).Msgf("unable to access homedir to read default config %s", defaultConfigPath)
			os.Exit(1)
		}
		confPath := filepath.Join(homeDir, defaultConfigPath)
		_, err = os.Stat(confPath)
		if err != nil {
			stdlog.Info().Msgf("default config file %s not found", confPath)
		} else {
			configSrc = append(configSrc, config.Path(confPath))
		}
	}
	if len(flag.Args()) > 0 && flag.Args()[0] == "print-config" {
		if err := standalone.PrintConfig(os.Stdout, showSecrets, configSrc...); err != nil {
			stdlog.Err(err).Msg("unable to print config")
			os.Exit(1)
		}
		os.Exit(0)
	}

	if len(configSrc) == 0 {
		stdlog.Warn().Msg("no config location provided")
	}
	conf, err := standalone.GetConfig(configSrc...)
	if err != nil {
		stdlog.Err(err).Msg("unable to read config")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGABRT, syscall.SIGTERM)
	go func() {
		<-signals
		zerolog.Ctx(ctx).Info().Msg("received shutdown signal.")
		cancel()
	}()

	err = standalone.Start(ctx, dom.AppInfo{
		Version: version,
		Commit:  commit,
		App:     "crr",
		AppID:   xid.New().String(),
	}, conf)
	if err != nil {
		stdlog.Err(err).Msg("critical error. Shutdown application")
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Build Time: %s\n", date)
	fmt.Printf("Git Commit: %s\n", commit)
}
