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

package notifications

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/minio/minio-go/v7/pkg/notification"
	"github.com/rs/zerolog"

	"github.com/clyso/crr/pkg/dom"
	"github.com/clyso/crr/pkg/s3client"
)

const idPrefix = "crr-"

// Service subscribes source buckets to object created notifications
// delivered to the agent webhook through SNS topic with http push endpoint.
type Service struct {
	client s3client.Client
}

func NewService(client s3client.Client) *Service {
	return &Service{client: client}
}

func (s *Service) SubscribeBucket(ctx context.Context, bucket, agentURL string) error {
	source := s.client.S3().Name()
	arn, err := s.getOrCreateTopic(ctx, topicName(source), agentURL)
	if err != nil {
		return err
	}
	notifications, err := s.client.S3().GetBucketNotification(ctx, bucket)
	if err != nil {
		return err
	}
	id := notificationID(source, bucket)
	found := -1
	for i, topic := range notifications.TopicConfigs {
		if topic.ID == id {
			found = i
			break
		}
	}

	config := notification.TopicConfig{
		Config: notification.Config{
			ID:     id,
			Events: []notification.EventType{notification.ObjectCreatedAll},
		},
		Topic: arn,
	}

	if found != -1 {
		notifications.TopicConfigs[found] = config
	} else {
		notifications.TopicConfigs = append(notifications.TopicConfigs, config)
	}
	if err = s.client.S3().SetBucketNotification(ctx, bucket, notifications); err != nil {
		return err
	}
	zerolog.Ctx(ctx).Info().Str("bucket", bucket).Str("topic", arn).Msg("source bucket subscribed to notifications")
	return nil
}

func (s *Service) UnsubscribeBucket(ctx context.Context, bucket string) error {
	notifications, err := s.client.S3().GetBucketNotification(ctx, bucket)
	if err != nil {
		return err
	}
	id := notificationID(s.client.S3().Name(), bucket)
	toRemove := slices.IndexFunc(notifications.TopicConfigs, func(c notification.TopicConfig) bool {
		return c.ID == id
	})
	if toRemove == -1 {
		return nil
	}
	notifications.TopicConfigs = slices.Delete(notifications.TopicConfigs, toRemove, toRemove+1)
	return s.client.S3().SetBucketNotification(ctx, bucket, notifications)
}

func topicName(source string) string {
	return idPrefix + source
}

func notificationID(source, bucket string) string {
	bucket = strings.ReplaceAll(bucket, "-", "--")
	source = strings.ReplaceAll(source, "-", "--")
	return fmt.Sprintf("%s%s-%s", idPrefix, source, bucket)
}

func SourceFromNotificationID(id string) (string, error) {
	if !strings.HasPrefix(id, idPrefix) {
		return "", fmt.Errorf("%w: notification id should start from '%s': %s", dom.ErrInvalidArg, idPrefix, id)
	}
	id = strings.TrimPrefix(id, idPrefix)
	if len(id) < 3 {
		return "", fmt.Errorf("%w: unable to extract source from notification id: %s", dom.ErrInvalidArg, id)
	}

	for i := 1; i < len(id)-1; i++ {
		if id[i] == '-' && id[i-1] != '-' && id[i+1] != '-' {
			return strings.ReplaceAll(id[:i], "--", "-"), nil
		}
	}
	return "", fmt.Errorf("%w: unable to extract source from notification id: %s", dom.ErrInvalidArg, id)
}

func (s *Service) getOrCreateTopic(ctx context.Context, name string, agentURL string) (string, error) {
	arn, err := s.findTopicARNByName(ctx, name, nil)
	if err == nil {
		return arn, nil
	}
	if !errors.Is(err, dom.ErrNotFound) {
		return "", err
	}
	// not found - create topic
	attributes := map[string]string{
		"persistent":    "true",
		"push-endpoint": agentURL,
	}
	topic, err := s.client.SNS().CreateTopic(ctx, &sns.CreateTopicInput{
		Name:       aws.String(name),
		Attributes: attributes,
	})
	if err != nil {
		return "", err
	}
	if topic.TopicArn == nil {
		return "", fmt.Errorf("%w: topic arn is nil", dom.ErrInternal)
	}
	return *topic.TopicArn, nil
}

func (s *Service) findTopicARNByName(ctx context.Context, name string, nextToken *string) (string, error) {
	topics, err := s.client.SNS().ListTopics(ctx, &sns.ListTopicsInput{NextToken: nextToken})
	if err != nil {
		return "", err
	}
	for _, topic := range topics.Topics {
		if topic.TopicArn != nil && strings.HasSuffix(*topic.TopicArn, ":"+name) {
			return *topic.TopicArn, nil
		}
	}
	if topics.NextToken != nil && *topics.NextToken != "" {
		return s.findTopicARNByName(ctx, name, topics.NextToken)
	}
	return "", dom.ErrNotFound
}
