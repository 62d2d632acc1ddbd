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

	mclient "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/notification"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	xctx "github.com/clyso/crr/pkg/ctx"
	"github.com/clyso/crr/pkg/metrics"
)

const (
	methodGetObject             = "GetObject"
	methodHeadObject            = "HeadObject"
	methodHeadBucket            = "HeadBucket"
	methodGetBucketNotification = "GetBucketNotification"
	methodPutBucketNotification = "PutBucketNotification"
)

func newMinioClient(name string, c *mclient.Client, metricsSvc metrics.Service) *S3 {
	return &S3{c, metricsSvc, name}
}

type S3 struct {
	*mclient.Client
	metricsSvc metrics.Service
	name       string
}

func (s *S3) Name() string {
	return s.name
}

func (s *S3) start(ctx context.Context, method string) (context.Context, trace.Span) {
	ctx, span := otel.Tracer("").Start(ctx, method)
	span.SetAttributes(attribute.String("storage", s.name))
	return ctx, span
}

func (s *S3) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	ctx, span := s.start(ctx, methodHeadBucket)
	defer span.End()
	defer s.metricsSvc.Count(xctx.GetFlow(ctx), s.name, methodHeadBucket)
	return s.Client.BucketExists(ctx, bucketName)
}

func (s *S3) GetBucketNotification(ctx context.Context, bucketName string) (notification.Configuration, error) {
	ctx, span := s.start(ctx, methodGetBucketNotification)
	defer span.End()
	defer s.metricsSvc.Count(xctx.GetFlow(ctx), s.name, methodGetBucketNotification)
	return s.Client.GetBucketNotification(ctx, bucketName)
}

func (s *S3) SetBucketNotification(ctx context.Context, bucketName string, config notification.Configuration) error {
	ctx, span := s.start(ctx, methodPutBucketNotification)
	defer span.End()
	defer s.metricsSvc.Count(xctx.GetFlow(ctx), s.name, methodPutBucketNotification)
	return s.Client.SetBucketNotification(ctx, bucketName, config)
}

func (s *S3) StatObject(ctx context.Context, bucketName, objectName string, opts mclient.StatObjectOptions) (mclient.ObjectInfo, error) {
	ctx, span := s.start(ctx, methodHeadObject)
	defer span.End()
	defer s.metricsSvc.Count(xctx.GetFlow(ctx), s.name, methodHeadObject)
	return s.Client.StatObject(ctx, bucketName, objectName, opts)
}

func (s *S3) GetObject(ctx context.Context, bucketName, objectName string, opts mclient.GetObjectOptions) (*mclient.Object, error) {
	ctx, span := s.start(ctx, methodGetObject)
	defer span.End()
	defer s.metricsSvc.Count(xctx.GetFlow(ctx), s.name, methodGetObject)
	return s.Client.GetObject(ctx, bucketName, objectName, opts)
}
