// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package uaclient

import (
	"log/slog"
	"time"
)

// Option is a functional option for configuring the service.
type Option func(*options)

type options struct {
	logger         *slog.Logger
	publishTimeout time.Duration
	retryDelay     time.Duration
	idleDelay      time.Duration
}

func defaultOptions() *options {
	return &options{
		logger:         slog.Default(),
		publishTimeout: 60 * time.Second,
		retryDelay:     time.Second,
		idleDelay:      250 * time.Millisecond,
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithPublishTimeout sets the timeout hint sent with each publish request.
func WithPublishTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.publishTimeout = d
		}
	}
}

// WithRetryDelay sets the pause after a failed publish request.
func WithRetryDelay(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.retryDelay = d
		}
	}
}

// WithIdleDelay sets how long the publish loop waits when no subscription
// is registered.
func WithIdleDelay(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.idleDelay = d
		}
	}
}
