/*
 * Copyright © 2025 Clyso GmbH
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

package backend

import (
	"fmt"
	"time"

	"github.com/clyso/crr/pkg/dom"
)

// Config describes a destination storage. Only fields relevant to Kind are used.
type Config struct {
	Kind   Kind   `yaml:"kind"`
	Bucket string `yaml:"bucket"`
	// Prefix is prepended to every object key.
	Prefix string `yaml:"prefix"`

	// aws, wasabi, s3
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Secure    bool   `yaml:"secure"`
	PathStyle bool   `yaml:"pathStyle"`

	// gcp
	CredentialsFile string `yaml:"credentialsFile"`

	// azure
	AccountName  string `yaml:"accountName"`
	AccountKey   string `yaml:"accountKey"`
	TenantID     string `yaml:"tenantID"`
	ClientID     string `yaml:"clientID"`
	ClientSecret string `yaml:"clientSecret"`
	BlobDomain   string `yaml:"blobDomain"`

	PartSize    int64         `yaml:"partSize"`
	HttpTimeout time.Duration `yaml:"httpTimeout"`
}

const defaultPartSize = 16 << 20

func (c Config) GetPartSize() int64 {
	if c.PartSize <= 0 {
		return defaultPartSize
	}
	return c.PartSize
}

// ObjectKey returns destination key for key with configured prefix.
func (c Config) ObjectKey(key string) string {
	return c.Prefix + key
}

func (c Config) Validate() error {
	if _, err := ParseKind(string(c.Kind)); err != nil {
		return err
	}
	if c.Kind == KindMem {
		return nil
	}
	if c.Bucket == "" {
		return fmt.Errorf("%w: %s destination bucket is not set", dom.ErrInvalidStorageConfig, c.Kind)
	}
	switch c.Kind {
	case KindAWS:
		if c.Region == "" && c.Endpoint == "" {
			return fmt.Errorf("%w: aws destination requires region or endpoint", dom.ErrInvalidStorageConfig)
		}
	case KindWasabi, KindS3:
		if c.Endpoint == "" {
			return fmt.Errorf("%w: %s destination endpoint is not set", dom.ErrInvalidStorageConfig, c.Kind)
		}
		if c.AccessKey == "" || c.SecretKey == "" {
			return fmt.Errorf("%w: %s destination credentials are not set", dom.ErrInvalidStorageConfig, c.Kind)
		}
	case KindAzure:
		if c.AccountName == "" {
			return fmt.Errorf("%w: azure destination accountName is not set", dom.ErrInvalidStorageConfig)
		}
		if c.AccountKey == "" && (c.TenantID == "" || c.ClientID == "" || c.ClientSecret == "") {
			return fmt.Errorf("%w: azure destination requires accountKey or tenantID, clientID and clientSecret", dom.ErrInvalidStorageConfig)
		}
	}
	return nil
}
