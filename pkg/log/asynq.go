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

package log

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Logger adapts zerolog to the asynq and go-redis logger interfaces.
type Logger struct {
	component string
}

func NewStdLogger(component string) *Logger {
	return &Logger{component: component}
}

func (logger *Logger) event(e *zerolog.Event) *zerolog.Event {
	if logger.component != "" {
		e = e.Str("component", logger.component)
	}
	return e
}

func (logger *Logger) Printf(ctx context.Context, format string, v ...interface{}) {
	logger.event(zerolog.Ctx(ctx).Debug()).Msgf(format, v...)
}

func (logger *Logger) Debug(args ...interface{}) {
	logger.event(zerolog.DefaultContextLogger.Debug()).Msg(fmt.Sprint(args...))
}

func (logger *Logger) Info(args ...interface{}) {
	logger.event(zerolog.DefaultContextLogger.Info()).Msg(fmt.Sprint(args...))
}

func (logger *Logger) Warn(args ...interface{}) {
	logger.event(zerolog.DefaultContextLogger.Warn()).Msg(fmt.Sprint(args...))
}

func (logger *Logger) Error(args ...interface{}) {
	logger.event(zerolog.DefaultContextLogger.Error()).Msg(fmt.Sprint(args...))
}

func (logger *Logger) Fatal(args ...interface{}) {
	logger.event(zerolog.DefaultContextLogger.Fatal()).Msg(fmt.Sprint(args...))
}
