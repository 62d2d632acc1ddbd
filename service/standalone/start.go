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

package standalone

import (
	"context"
	"fmt"
	"net"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/alicebob/miniredis/v2"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/clyso/crr/pkg/dom"
	"github.com/clyso/crr/pkg/log"
	"github.com/clyso/crr/service/agent"
	"github.com/clyso/crr/service/worker"
)

const (
	//nolint:staticcheck //character used to set terminal color
	connectInfo = `[92m  ___ _ __ _ __ 
 / __| '__| '__|
| (__| |  | |   
 \___|_|  |_|   [0m


S3 source URL:	%s
S3 source credentials (AccessKey|SecretKey):	%s
Agent events URL:	%s

GRPC mgmt API:	%s
HTTP mgmt API:	%s
Redis URL:	%s

Destinations:
%s

Replication rules:
%s
`
)

// Start runs embedded redis, optional fake s3 source, replication agent
// and worker in one process.
func Start(ctx context.Context, app dom.AppInfo, conf *Config, opts ...worker.Option) error {
	// detect fake s3 source in config
	fakePort := 0
	isFake := false
	var err error
	switch {
	case conf.Source.Address == "":
		_, fakePort, err = getRandomPort()
		if err != nil {
			return fmt.Errorf("%w: unable to get random port", err)
		}
		isFake = true
	case strings.HasPrefix(conf.Source.Address, ":"):
		fakePort, err = strconv.Atoi(strings.TrimPrefix(conf.Source.Address, ":"))
		if err != nil {
			return fmt.Errorf("%w: unable to parse source address %s", err, conf.Source.Address)
		}
		isFake = true
	}
	if isFake {
		conf.Source.IsSecure = false
		conf.Source.Address = localhost(fakePort)
	}

	// validate config
	if err = conf.Validate(); err != nil {
		return err
	}
	logger := log.GetLogger(conf.Log, "", "")
	logger.Info().
		Str("version", app.Version).
		Str("commit", app.Commit).
		Msg("app starting...")

	// start embedded redis:
	redisSvc, err := miniredis.Run()
	if err != nil {
		return fmt.Errorf("%w: unable to start redis", err)
	}
	go func() {
		<-ctx.Done()
		redisSvc.Close()
	}()

	g, ctx := errgroup.WithContext(ctx)
	if isFake {
		serve, err := serveFakeS3(ctx, fakePort, ruleBuckets(conf)...)
		if err != nil {
			return fmt.Errorf("%w: unable to start fake s3 source", err)
		}
		g.Go(serve)
	}

	workerConf := conf.Config
	if len(workerConf.Redis.Addresses) == 0 {
		workerConf.Redis.Addresses = []string{redisSvc.Addr()}
	}
	// deep copy worker config
	if err = deepCopy(&workerConf); err != nil {
		return err
	}

	agentConf := agent.Config{
		Common:  workerConf.Common,
		Config:  conf.Agent.Config,
		Port:    conf.Agent.Port,
		Source:  conf.Source,
		Journal: conf.Journal,
	}
	// deep copy agent config
	if err = deepCopy(&agentConf); err != nil {
		return err
	}
	// worker serves metrics on configured port
	agentConf.Metrics.Port++

	// start agent
	g.Go(func() error {
		return agent.Start(ctx, app, &agentConf)
	})
	// start worker
	g.Go(func() error {
		return worker.Start(ctx, app, &workerConf, opts...)
	})

	creds := fmt.Sprintf("[%s|<hidden>]", conf.Source.AccessKey)
	if isFake {
		creds = fmt.Sprintf("[%s|%s]", conf.Source.AccessKey, conf.Source.SecretKey)
	}
	fmt.Printf(connectInfo,
		printSource(conf, isFake),
		creds,
		httpLocalhost(conf.Agent.Port)+agent.EventsPath,
		localhost(conf.Api.GrpcPort),
		httpLocalhost(conf.Api.HttpPort),
		redisSvc.Addr(),
		printDestinations(conf),
		printRules(conf),
	)

	return g.Wait()
}

func deepCopy[T any](in *T) error {
	bytes, err := yaml.Marshal(in)
	if err != nil {
		return err
	}
	var out T
	if err = yaml.Unmarshal(bytes, &out); err != nil {
		return err
	}
	*in = out
	return nil
}

func ruleBuckets(conf *Config) []string {
	var res []string
	for _, r := range conf.Agent.Rules {
		if !slices.Contains(res, r.Bucket) {
			res = append(res, r.Bucket)
		}
	}
	return res
}

func httpLocalhost(port int) string {
	return fmt.Sprintf("http://127.0.0.1:%d", port)
}

func localhost(port int) string {
	return fmt.Sprintf("127.0.0.1:%d", port)
}

func printSource(conf *Config, fake bool) string {
	if fake {
		return fmt.Sprintf("[\u001B[33mFAKE\u001B[0m] %s", conf.Source.Address)
	}
	return conf.Source.Address
}

func printDestinations(conf *Config) string {
	names := conf.DestinationNames()
	sort.Strings(names)
	res := make([]string, 0, len(names))
	for _, name := range names {
		d := conf.Destinations[name]
		res = append(res, fmt.Sprintf(" - %s: %s [workers: %d]", name, d.Kind, d.Workers))
	}
	return strings.Join(res, "\n")
}

func printRules(conf *Config) string {
	res := make([]string, 0, len(conf.Agent.Rules))
	for _, r := range conf.Agent.Rules {
		res = append(res, fmt.Sprintf(" - %s/%s* -> %s", r.Bucket, r.Prefix, strings.Join(r.Destinations, ", ")))
	}
	return strings.Join(res, "\n")
}

func getRandomPort() (string, int, error) {
	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		return "", 0, err
	}
	addr := l.Addr().String()
	addrs := strings.Split(addr, ":")
	err = l.Close()
	if err != nil {
		return "", 0, err
	}

	port, err := strconv.Atoi(addrs[len(addrs)-1])
	if err != nil {
		return "", 0, err
	}
	return addr, port, nil
}
