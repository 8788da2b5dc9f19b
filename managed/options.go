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

package managed

import (
	"log/slog"

	opcua "github.com/edgeo-scada/opcua-managed"
	"github.com/edgeo-scada/opcua-managed/future"
)

// DefaultOperationLimit is used when the server does not report its
// maximum monitored items per call.
const DefaultOperationLimit = 1000

// SubscriptionOption is a functional option for configuring subscriptions.
type SubscriptionOption func(*subscriptionOptions)

type subscriptionOptions struct {
	publishingInterval float64
	lifetimeCount      uint32
	maxKeepAliveCount  uint32
	maxNotifications   uint32
	publishingEnabled  bool
	priority           uint8

	defaultQueueSize  uint32
	defaultTimestamps opcua.TimestampsToReturn
	operationLimit    int
	maxConcurrency    int
	poolSize          int
	executor          future.Executor
	logger            *slog.Logger
	metrics           *opcua.SubscriptionMetrics
}

func defaultSubscriptionOptions() *subscriptionOptions {
	return &subscriptionOptions{
		publishingInterval: 1000, // 1 second
		lifetimeCount:      10000,
		maxKeepAliveCount:  10,
		maxNotifications:   0, // unlimited
		publishingEnabled:  true,
		priority:           0,
		defaultQueueSize:   10,
		defaultTimestamps:  opcua.TimestampsToReturnBoth,
		maxConcurrency:     4,
		poolSize:           16,
		logger:             slog.Default(),
	}
}

// WithPublishingInterval sets the publishing interval in milliseconds.
func WithPublishingInterval(interval float64) SubscriptionOption {
	return func(o *subscriptionOptions) {
		o.publishingInterval = interval
	}
}

// WithLifetimeCount sets the lifetime count.
func WithLifetimeCount(count uint32) SubscriptionOption {
	return func(o *subscriptionOptions) {
		o.lifetimeCount = count
	}
}

// WithMaxKeepAliveCount sets the max keep alive count.
func WithMaxKeepAliveCount(count uint32) SubscriptionOption {
	return func(o *subscriptionOptions) {
		o.maxKeepAliveCount = count
	}
}

// WithMaxNotificationsPerPublish sets the max notifications per publish.
func WithMaxNotificationsPerPublish(count uint32) SubscriptionOption {
	return func(o *subscriptionOptions) {
		o.maxNotifications = count
	}
}

// WithPublishingEnabled sets whether publishing is enabled.
func WithPublishingEnabled(enabled bool) SubscriptionOption {
	return func(o *subscriptionOptions) {
		o.publishingEnabled = enabled
	}
}

// WithPriority sets the subscription priority.
func WithPriority(priority uint8) SubscriptionOption {
	return func(o *subscriptionOptions) {
		o.priority = priority
	}
}

// WithDefaultQueueSize sets the queue size requested for new items.
func WithDefaultQueueSize(size uint32) SubscriptionOption {
	return func(o *subscriptionOptions) {
		o.defaultQueueSize = size
	}
}

// WithDefaultTimestamps sets the timestamps requested for new items.
func WithDefaultTimestamps(ttr opcua.TimestampsToReturn) SubscriptionOption {
	return func(o *subscriptionOptions) {
		o.defaultTimestamps = ttr
	}
}

// WithOperationLimit overrides the server's maximum monitored items per call.
// Zero asks the server.
func WithOperationLimit(limit int) SubscriptionOption {
	return func(o *subscriptionOptions) {
		o.operationLimit = limit
	}
}

// WithMaxConcurrentCalls bounds the service calls a batch runs at once.
func WithMaxConcurrentCalls(n int) SubscriptionOption {
	return func(o *subscriptionOptions) {
		o.maxConcurrency = n
	}
}

// WithWorkerPoolSize sets the size of the worker pool created for
// asynchronous operations. Ignored when WithExecutor is used.
func WithWorkerPoolSize(size int) SubscriptionOption {
	return func(o *subscriptionOptions) {
		o.poolSize = size
	}
}

// WithExecutor runs asynchronous operations on exec instead of an owned pool.
func WithExecutor(exec future.Executor) SubscriptionOption {
	return func(o *subscriptionOptions) {
		o.executor = exec
	}
}

// WithLogger sets the logger for the subscription.
func WithLogger(logger *slog.Logger) SubscriptionOption {
	return func(o *subscriptionOptions) {
		o.logger = logger
	}
}

// WithMetrics records subscription activity in m.
func WithMetrics(m *opcua.SubscriptionMetrics) SubscriptionOption {
	return func(o *subscriptionOptions) {
		o.metrics = m
	}
}

// ItemOption is a functional option for configuring new monitored items.
type ItemOption func(*itemOptions)

type itemOptions struct {
	queueSize      uint32
	discardOldest  bool
	monitoringMode opcua.MonitoringMode
	timestamps     opcua.TimestampsToReturn
	filter         interface{}
}

func (s *Subscription) defaultItemOptions() *itemOptions {
	return &itemOptions{
		queueSize:      s.opts.defaultQueueSize,
		discardOldest:  true,
		monitoringMode: opcua.MonitoringModeReporting,
		timestamps:     s.opts.defaultTimestamps,
	}
}

// WithQueueSize sets the queue size.
func WithQueueSize(size uint32) ItemOption {
	return func(o *itemOptions) {
		o.queueSize = size
	}
}

// WithDiscardOldest sets whether to discard oldest values when queue is full.
func WithDiscardOldest(discard bool) ItemOption {
	return func(o *itemOptions) {
		o.discardOldest = discard
	}
}

// WithMonitoringMode sets the monitoring mode.
func WithMonitoringMode(mode opcua.MonitoringMode) ItemOption {
	return func(o *itemOptions) {
		o.monitoringMode = mode
	}
}

// WithTimestamps sets the timestamps returned with each value.
func WithTimestamps(ttr opcua.TimestampsToReturn) ItemOption {
	return func(o *itemOptions) {
		o.timestamps = ttr
	}
}

// WithFilter sets the data change filter.
func WithFilter(filter interface{}) ItemOption {
	return func(o *itemOptions) {
		o.filter = filter
	}
}
