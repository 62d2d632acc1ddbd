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

package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"

	crrapi "github.com/clyso/crr/pkg/api"
	"github.com/clyso/crr/pkg/control"
	"github.com/clyso/crr/pkg/journal"
)

// Client calls crr worker management http api.
type Client struct {
	base string
	http *http.Client
}

func New(address string, tlsConf *tls.Config) *Client {
	if !strings.HasPrefix(address, "http://") && !strings.HasPrefix(address, "https://") {
		scheme := "http://"
		if tlsConf != nil {
			scheme = "https://"
		}
		address = scheme + address
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConf
	return &Client{
		base: strings.TrimSuffix(address, "/"),
		http: &http.Client{Transport: transport, Timeout: 30 * time.Second},
	}
}

// Error is an error response of management api.
type Error struct {
	StatusCode int
	Err        string `json:"error"`
	Message    string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d %s: %s", e.StatusCode, e.Err, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	target := c.base + path
	if len(query) != 0 {
		target += "?" + query.Encode()
	}
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	logrus.WithField("method", method).WithField("url", target).Info("api request")
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= http.StatusBadRequest {
		apiErr := &Error{StatusCode: res.StatusCode}
		if err = json.NewDecoder(res.Body).Decode(apiErr); err != nil {
			apiErr.Message = http.StatusText(res.StatusCode)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}

type statusResponse struct {
	Status string `json:"status"`
}

func (c *Client) Pause(ctx context.Context) (string, error) {
	var res statusResponse
	err := c.do(ctx, http.MethodPost, "/crr/pause", nil, nil, &res)
	return res.Status, err
}

func (c *Client) Resume(ctx context.Context) (string, error) {
	var res statusResponse
	err := c.do(ctx, http.MethodPost, "/crr/resume", nil, nil, &res)
	return res.Status, err
}

func (c *Client) Mode(ctx context.Context) (control.Snapshot, error) {
	var res control.Snapshot
	err := c.do(ctx, http.MethodGet, "/crr/mode", nil, nil, &res)
	return res, err
}

func (c *Client) Status(ctx context.Context, bucket, key, version string) (journal.ObjectStatus, error) {
	q := url.Values{"bucket": {bucket}, "key": {key}}
	if version != "" {
		q.Set("versionId", version)
	}
	var res journal.ObjectStatus
	err := c.do(ctx, http.MethodGet, "/crr/status", q, nil, &res)
	return res, err
}

func (c *Client) Queues(ctx context.Context) ([]crrapi.QueueInfo, error) {
	var res []crrapi.QueueInfo
	err := c.do(ctx, http.MethodGet, "/crr/queues", nil, nil, &res)
	return res, err
}

func (c *Client) Failed(ctx context.Context, destination string, limit int) ([]journal.FailedPair, error) {
	q := url.Values{"destination": {destination}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var res []journal.FailedPair
	err := c.do(ctx, http.MethodGet, "/crr/failed", q, nil, &res)
	return res, err
}

func (c *Client) RetryFailed(ctx context.Context, items []crrapi.RetryRequest) (crrapi.RetryResponse, error) {
	var res crrapi.RetryResponse
	err := c.do(ctx, http.MethodPost, "/crr/failed/retry", nil, items, &res)
	return res, err
}

// Health checks status of grpc health service. Empty service checks server status.
func Health(ctx context.Context, address, service string, opts ...grpc.DialOption) (grpc_health_v1.HealthCheckResponse_ServingStatus, error) {
	conn, err := grpc.NewClient(address, opts...)
	if err != nil {
		return grpc_health_v1.HealthCheckResponse_UNKNOWN, err
	}
	defer conn.Close()
	res, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: service})
	if err != nil {
		return grpc_health_v1.HealthCheckResponse_UNKNOWN, err
	}
	return res.GetStatus(), nil
}

// PrintError logs api error and exits.
func PrintError(err error) {
	if err == nil {
		return
	}
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		logrus.WithError(err).Fatal("error from server")
	}
	logrus.WithField("code", apiErr.StatusCode).
		WithField("error", apiErr.Err).
		Fatal(apiErr.Message)
}
