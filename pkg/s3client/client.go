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

package s3client

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	aws_credentials "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	mclient "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/clyso/crr/pkg/dom"
	"github.com/clyso/crr/pkg/metrics"
)

// Config of S3 compatible source object store.
type Config struct {
	Name        string        `yaml:"name"`
	Address     string        `yaml:"address"`
	AccessKey   string        `yaml:"accessKey"`
	SecretKey   string        `yaml:"secretKey"`
	Region      string        `yaml:"region"`
	IsSecure    bool          `yaml:"isSecure"`
	HttpTimeout time.Duration `yaml:"httpTimeout"`
}

func (c *Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("%w: source address is not set", dom.ErrInvalidStorageConfig)
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		return fmt.Errorf("%w: source credentials are not set", dom.ErrInvalidStorageConfig)
	}
	if c.Name == "" {
		c.Name = "source"
	}
	return nil
}

func (c Config) endpoint() string {
	if strings.HasPrefix(c.Address, "http") {
		return c.Address
	}
	if c.IsSecure {
		return "https://" + c.Address
	}
	return "http://" + c.Address
}

type Client interface {
	S3() *S3
	SNS() *sns.Client
}

type client struct {
	mc  *S3
	sns *sns.Client
}

func NewClient(ctx context.Context, metricsSvc metrics.Service, conf Config) (Client, error) {
	host := strings.TrimPrefix(conf.Address, "http://")
	host = strings.TrimPrefix(host, "https://")
	opts := &mclient.Options{
		Creds:  credentials.NewStaticV4(conf.AccessKey, conf.SecretKey, ""),
		Secure: conf.IsSecure,
		Region: conf.Region,
	}
	if conf.HttpTimeout > 0 {
		transport, err := mclient.DefaultTransport(conf.IsSecure)
		if err != nil {
			return nil, err
		}
		transport.ResponseHeaderTimeout = conf.HttpTimeout
		opts.Transport = transport
	}
	mc, err := mclient.New(host, opts)
	if err != nil {
		return nil, err
	}
	c := &client{mc: newMinioClient(conf.Name, mc, metricsSvc)}
	if err = isOnline(ctx, c); err != nil {
		return nil, fmt.Errorf("s3 is offline: %w", err)
	}

	snsEndpoint := conf.endpoint()
	region := conf.Region
	if region == "" {
		region = "default"
	}
	c.sns = sns.NewFromConfig(aws.Config{
		Region:      region,
		Credentials: aws_credentials.NewStaticCredentialsProvider(conf.AccessKey, conf.SecretKey, ""),
		HTTPClient:  &http.Client{Timeout: conf.HttpTimeout},
		EndpointResolverWithOptions: aws.EndpointResolverWithOptionsFunc(func(service, region string, opts ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{URL: snsEndpoint}, nil
		}),
	})

	return c, nil
}

func isOnline(ctx context.Context, c *client) error {
	_, err := c.mc.GetBucketLocation(ctx, "probe-health-test")
	if err == nil {
		return nil
	} else if !mclient.IsNetworkOrHostDown(err, false) {
		switch mclient.ToErrorResponse(err).Code {
		case "NoSuchBucket", "AccessDenied", "":
			return nil
		}
	}
	return err
}

func (c *client) SNS() *sns.Client {
	return c.sns
}

func (c *client) S3() *S3 {
	return c.mc
}
