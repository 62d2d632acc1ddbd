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

package awss3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/endpoints"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/clyso/crr/pkg/backend"
	"github.com/clyso/crr/pkg/dom"
)

var _ backend.Adapter = &Adapter{}

// Adapter replicates objects to AWS S3 with aws-sdk-go.
// Uploads go through s3manager: large bodies are sent as multipart upload
// which is either completed or aborted.
type Adapter struct {
	name     string
	conf     backend.Config
	client   *s3.S3
	uploader *s3manager.Uploader
}

func New(name string, conf backend.Config) (*Adapter, error) {
	awsConfig := aws.NewConfig().
		WithMaxRetries(0).
		WithCredentialsChainVerboseErrors(true).
		WithS3UsEast1RegionalEndpoint(endpoints.RegionalS3UsEast1Endpoint)
	if conf.HttpTimeout > 0 {
		awsConfig.WithHTTPClient(&http.Client{Timeout: conf.HttpTimeout})
	}
	region := conf.Region
	if region == "" {
		region = "us-east-1"
	}
	awsConfig.WithRegion(region)
	if conf.AccessKey != "" {
		awsConfig.WithCredentials(credentials.NewCredentials(&credentials.StaticProvider{Value: credentials.Value{
			AccessKeyID:     conf.AccessKey,
			SecretAccessKey: conf.SecretKey,
		}}))
	}
	if conf.Endpoint != "" {
		endpoint := conf.Endpoint
		if !strings.HasPrefix(endpoint, "http") {
			if conf.Secure {
				endpoint = "https://" + endpoint
			} else {
				endpoint = "http://" + endpoint
			}
		}
		// explicit endpoints are not compatible with bucket-named virtual hosts
		awsConfig.WithEndpoint(endpoint).WithS3ForcePathStyle(true).WithDisableSSL(!conf.Secure)
	} else if conf.PathStyle {
		awsConfig.WithS3ForcePathStyle(true)
	}

	ses, err := session.NewSessionWithOptions(session.Options{Config: *awsConfig})
	if err != nil {
		return nil, fmt.Errorf("%w: unable to create aws session for %s: %v", dom.ErrInvalidStorageConfig, name, err)
	}
	client := s3.New(ses)
	uploader := s3manager.NewUploaderWithClient(client, func(u *s3manager.Uploader) {
		u.PartSize = conf.GetPartSize()
		u.LeavePartsOnError = false
	})
	return &Adapter{name: name, conf: conf, client: client, uploader: uploader}, nil
}

func (a *Adapter) Kind() backend.Kind {
	return backend.KindAWS
}

func (a *Adapter) Name() string {
	return a.name
}

func (a *Adapter) Put(ctx context.Context, key string, body io.Reader, size int64, meta backend.Metadata) (backend.PutResult, error) {
	out, err := a.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:   aws.String(a.conf.Bucket),
		Key:      aws.String(a.conf.ObjectKey(key)),
		Body:     body,
		Metadata: aws.StringMap(meta),
	})
	if err != nil {
		return backend.PutResult{}, backend.Classify(convertErr(err))
	}
	return backend.PutResult{
		VersionID: aws.StringValue(out.VersionID),
		ETag:      strings.Trim(aws.StringValue(out.ETag), `"`),
	}, nil
}

func (a *Adapter) Get(ctx context.Context, key string) (io.ReadCloser, backend.ObjectInfo, error) {
	out, err := a.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.conf.Bucket),
		Key:    aws.String(a.conf.ObjectKey(key)),
	})
	if err != nil {
		return nil, backend.ObjectInfo{}, a.readErr(key, err)
	}
	return out.Body, backend.ObjectInfo{
		Key:          key,
		Size:         aws.Int64Value(out.ContentLength),
		ETag:         strings.Trim(aws.StringValue(out.ETag), `"`),
		VersionID:    aws.StringValue(out.VersionId),
		LastModified: aws.TimeValue(out.LastModified),
		Metadata:     convertMeta(out.Metadata),
	}, nil
}

func (a *Adapter) Head(ctx context.Context, key string) (backend.ObjectInfo, error) {
	out, err := a.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.conf.Bucket),
		Key:    aws.String(a.conf.ObjectKey(key)),
	})
	if err != nil {
		return backend.ObjectInfo{}, a.readErr(key, err)
	}
	return backend.ObjectInfo{
		Key:          key,
		Size:         aws.Int64Value(out.ContentLength),
		ETag:         strings.Trim(aws.StringValue(out.ETag), `"`),
		VersionID:    aws.StringValue(out.VersionId),
		LastModified: aws.TimeValue(out.LastModified),
		Metadata:     convertMeta(out.Metadata),
	}, nil
}

func (a *Adapter) Exists(ctx context.Context, key string) (bool, error) {
	_, err := a.Head(ctx, key)
	if backend.IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

func (a *Adapter) Delete(ctx context.Context, key string) error {
	_, err := a.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.conf.Bucket),
		Key:    aws.String(a.conf.ObjectKey(key)),
	})
	if err != nil {
		return backend.Classify(convertErr(err))
	}
	return nil
}

func (a *Adapter) readErr(key string, err error) error {
	err = convertErr(err)
	var statusErr *backend.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound && statusErr.Code != s3.ErrCodeNoSuchBucket {
		return fmt.Errorf("%w: object %s not found in %s: %v", dom.ErrNotFound, key, a.name, err)
	}
	return backend.Classify(err)
}

// convertErr unwraps aws request failures into backend.StatusError.
func convertErr(err error) error {
	for e := err; e != nil; {
		if rf, ok := e.(awserr.RequestFailure); ok {
			return backend.NewStatusError(rf.StatusCode(), rf.Code(), err)
		}
		ae, ok := e.(awserr.Error)
		if !ok {
			break
		}
		if ae.Code() == request.CanceledErrorCode {
			return fmt.Errorf("%w: %v", context.Canceled, err)
		}
		e = ae.OrigErr()
	}
	return err
}

func convertMeta(in map[string]*string) backend.Metadata {
	if len(in) == 0 {
		return nil
	}
	res := make(backend.Metadata, len(in))
	for k, v := range in {
		res[strings.ToLower(k)] = aws.StringValue(v)
	}
	return res
}
