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

package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/buger/jsonparser"
	"github.com/rs/zerolog"

	"github.com/clyso/crr/pkg/dom"
	"github.com/clyso/crr/pkg/util"
)

const (
	snsTypeHeader           = "X-Amz-Sns-Message-Type"
	snsNotification         = "Notification"
	snsSubscriptionConfirm  = "SubscriptionConfirmation"
	snsUnsubscribeConfirm   = "UnsubscribeConfirmation"
	maxEventBodySize        = 16 << 20
	subscriptionConfirmWait = 10 * time.Second
)

type HandlerOption func(*handler)

// WithHTTPClient sets client used to confirm SNS subscriptions.
func WithHTTPClient(c *http.Client) HandlerOption {
	return func(h *handler) {
		h.client = c
	}
}

type handler struct {
	listener *Listener
	client   *http.Client
}

// HTTPHandler accepts S3 event notifications posted directly by the source
// or delivered in SNS envelopes. It responds 200 only after all created
// objects of the event were recorded.
func HTTPHandler(listener *Listener, opts ...HandlerOption) http.HandlerFunc {
	h := &handler{
		listener: listener,
		client:   &http.Client{Timeout: subscriptionConfirmWait},
	}
	for _, o := range opts {
		o(h)
	}
	return h.serveHTTP
}

func (h *handler) serveHTTP(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	bytes, err := io.ReadAll(io.LimitReader(req.Body, maxEventBodySize))
	if err != nil {
		zerolog.Ctx(ctx).Err(err).Msg("unable to read event body")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	msgType := req.Header.Get(snsTypeHeader)
	if msgType == "" {
		msgType, err = jsonparser.GetString(bytes, "Type")
		if err != nil && !errors.Is(err, jsonparser.KeyPathNotFoundError) {
			util.WriteError(ctx, w, fmt.Errorf("%w: malformed event body: %w", dom.ErrInvalidArg, err))
			return
		}
	}
	switch msgType {
	case "":
	case snsNotification:
		bytes, err = snsMessage(bytes)
		if err != nil {
			util.WriteError(ctx, w, err)
			return
		}
	case snsSubscriptionConfirm:
		if err = h.confirmSubscription(ctx, bytes); err != nil {
			util.WriteError(ctx, w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
		return
	case snsUnsubscribeConfirm:
		zerolog.Ctx(ctx).Info().Msg("sns subscription removed")
		w.WriteHeader(http.StatusOK)
		return
	default:
		util.WriteError(ctx, w, fmt.Errorf("%w: unknown sns message type %q", dom.ErrInvalidArg, msgType))
		return
	}

	var body s3EventBody
	err = json.Unmarshal(bytes, &body)
	if err != nil {
		zerolog.Ctx(ctx).Err(err).Msg("unable to unmarshal event body")
		util.WriteError(ctx, w, fmt.Errorf("%w: malformed event body: %w", dom.ErrInvalidArg, err))
		return
	}
	for _, record := range body.Records {
		switch {
		case strings.Contains(record.EventName, "ObjectCreated"):
			write, err := record.sourceWrite()
			if err != nil {
				util.WriteError(ctx, w, err)
				return
			}
			_, err = h.listener.OnSourceWrite(ctx, write)
			if errors.Is(err, dom.ErrInvalidArg) {
				// redelivery would be rejected again
				zerolog.Ctx(ctx).Warn().Err(err).Str("event", record.EventName).Msg("skip s3 notification record")
				continue
			}
			if err != nil {
				util.WriteError(ctx, w, err)
				return
			}
		case strings.Contains(record.EventName, "ObjectRemoved"):
			zerolog.Ctx(ctx).Debug().Str("event", record.EventName).Msg("ignore object removal event")
		default:
			zerolog.Ctx(ctx).Warn().Msgf("unknown s3 notification event %s", record.EventName)
		}
	}
	w.WriteHeader(http.StatusOK)
}

func snsMessage(envelope []byte) ([]byte, error) {
	msg, err := jsonparser.GetString(envelope, "Message")
	if err != nil {
		return nil, fmt.Errorf("%w: sns notification without message: %w", dom.ErrInvalidArg, err)
	}
	return []byte(msg), nil
}

func (h *handler) confirmSubscription(ctx context.Context, envelope []byte) error {
	subscribeURL, err := jsonparser.GetString(envelope, "SubscribeURL")
	if err != nil {
		return fmt.Errorf("%w: sns subscription confirmation without SubscribeURL: %w", dom.ErrInvalidArg, err)
	}
	if _, err = url.ParseRequestURI(subscribeURL); err != nil {
		return fmt.Errorf("%w: invalid sns SubscribeURL: %w", dom.ErrInvalidArg, err)
	}
	topic, _ := jsonparser.GetString(envelope, "TopicArn")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, subscribeURL, nil)
	if err != nil {
		return fmt.Errorf("unable to build sns confirmation request: %w", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("unable to confirm sns subscription: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("unable to confirm sns subscription: status %d", resp.StatusCode)
	}
	zerolog.Ctx(ctx).Info().Str("topic", topic).Msg("sns subscription confirmed")
	return nil
}

type s3EventRecord struct {
	EventVersion string    `json:"eventVersion"`
	EventSource  string    `json:"eventSource"`
	AwsRegion    string    `json:"awsRegion"`
	EventTime    time.Time `json:"eventTime"`
	EventName    string    `json:"eventName"`
	S3           struct {
		S3SchemaVersion string `json:"s3SchemaVersion"`
		ConfigurationId string `json:"configurationId"`
		Bucket          struct {
			Name string `json:"name"`
			Arn  string `json:"arn"`
		} `json:"bucket"`
		Object struct {
			Key       string `json:"key"`
			Size      int64  `json:"size"`
			ETag      string `json:"eTag"`
			VersionId string `json:"versionId"`
			Sequencer string `json:"sequencer"`
		} `json:"object"`
	} `json:"s3"`
}

type s3EventBody struct {
	Records []s3EventRecord `json:"Records"`
}

func (r s3EventRecord) sourceWrite() (SourceWrite, error) {
	if r.S3.Bucket.Name == "" || r.S3.Object.Key == "" {
		return SourceWrite{}, fmt.Errorf("%w: event %s without bucket or object key", dom.ErrInvalidArg, r.EventName)
	}
	// keys are form encoded in s3 notifications
	key, err := url.QueryUnescape(r.S3.Object.Key)
	if err != nil {
		return SourceWrite{}, fmt.Errorf("%w: invalid object key %q: %w", dom.ErrInvalidArg, r.S3.Object.Key, err)
	}
	return SourceWrite{
		Bucket:    r.S3.Bucket.Name,
		Key:       key,
		VersionID: r.S3.Object.VersionId,
		Size:      r.S3.Object.Size,
		Checksum:  r.S3.Object.ETag,
		EventTime: r.EventTime,
	}, nil
}
