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

package util

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/clyso/crr/pkg/dom"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteError writes err as a json body with the status derived from dom errors.
func WriteError(ctx context.Context, w http.ResponseWriter, err error) {
	code := dom.ErrCode(err)
	if code >= http.StatusInternalServerError {
		zerolog.Ctx(ctx).Err(err).Msg("error returned")
	} else {
		zerolog.Ctx(ctx).Debug().Err(err).Msg("error returned")
	}
	resp := errorResponse{Error: errName(err), Message: err.Error()}
	if code == http.StatusInternalServerError {
		resp.Message = "An internal error occurred."
	}
	WriteJSON(ctx, w, code, resp)
}

func WriteJSON(ctx context.Context, w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zerolog.Ctx(ctx).Err(err).Msg("unable to write response body")
	}
}

func errName(err error) string {
	for _, known := range []error{
		dom.ErrControlUnavailable, dom.ErrNotFound, dom.ErrInvalidArg, dom.ErrInvalidTransition,
		dom.ErrAlreadyExists, dom.ErrAuth, dom.ErrNotImplemented,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	var rlErr *dom.ErrRateLimitExceeded
	if errors.As(err, &rlErr) {
		return rlErr.Error()
	}
	return dom.ErrInternal.Error()
}
