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

package opcua

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Counter is a simple atomic counter.
type Counter struct {
	value atomic.Int64
}

// Add adds delta to the counter.
func (c *Counter) Add(delta int64) {
	c.value.Add(delta)
}

// Value returns the current counter value.
func (c *Counter) Value() int64 {
	return c.value.Load()
}

// Reset resets the counter to zero.
func (c *Counter) Reset() {
	c.value.Store(0)
}

var latencyBounds = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000}
var latencyLabels = []string{"1ms", "5ms", "10ms", "25ms", "50ms", "100ms", "250ms", "500ms", "1s", "5s+"}

// LatencyHistogram tracks service call latency in milliseconds.
type LatencyHistogram struct {
	mu      sync.Mutex
	buckets [10]int64
	sum     float64
	count   int64
	min     float64
	max     float64
}

// NewLatencyHistogram creates a new latency histogram with default buckets.
func NewLatencyHistogram() *LatencyHistogram {
	return &LatencyHistogram{min: -1, max: -1}
}

// Observe records a latency observation.
func (h *LatencyHistogram) Observe(d time.Duration) {
	ms := float64(d.Microseconds()) / 1000.0

	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += ms
	h.count++
	if h.min < 0 || ms < h.min {
		h.min = ms
	}
	if ms > h.max {
		h.max = ms
	}

	for i, bound := range latencyBounds {
		if ms <= bound {
			h.buckets[i]++
			return
		}
	}
	h.buckets[len(h.buckets)-1]++
}

// Stats returns histogram statistics.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := LatencyStats{
		Count:   h.count,
		Sum:     h.sum,
		Buckets: make(map[string]int64, len(latencyLabels)),
	}
	if h.count > 0 {
		stats.Avg = h.sum / float64(h.count)
		stats.Min = h.min
		stats.Max = h.max
	}
	for i, n := range h.buckets {
		stats.Buckets[latencyLabels[i]] = n
	}
	return stats
}

// Reset resets the histogram.
func (h *LatencyHistogram) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.buckets = [10]int64{}
	h.sum = 0
	h.count = 0
	h.min = -1
	h.max = -1
}

// LatencyStats holds latency statistics.
type LatencyStats struct {
	Count   int64
	Sum     float64
	Avg     float64
	Min     float64
	Max     float64
	Buckets map[string]int64
}

// ServiceMetrics holds metrics for one subscription service.
type ServiceMetrics struct {
	Requests Counter
	Errors   Counter
	Latency  *LatencyHistogram
}

// Observe records one call of the service.
func (m *ServiceMetrics) Observe(start time.Time, err error) {
	m.Requests.Add(1)
	if err != nil {
		m.Errors.Add(1)
	}
	m.Latency.Observe(time.Since(start))
}

// SubscriptionMetrics holds the metrics of a managed subscription.
type SubscriptionMetrics struct {
	NotificationsReceived   Counter
	DataChangeNotifications Counter
	EventNotifications      Counter
	NotificationsDropped    Counter
	ItemsCreated            Counter
	ItemsDeleted            Counter
	BatchExecutions         Counter
	BatchCalls              Counter
	BatchCallFailures       Counter

	services sync.Map // ServiceID -> *ServiceMetrics
}

// NewSubscriptionMetrics creates a new SubscriptionMetrics instance.
func NewSubscriptionMetrics() *SubscriptionMetrics {
	return &SubscriptionMetrics{}
}

// ForService returns metrics for a specific service.
func (m *SubscriptionMetrics) ForService(svc ServiceID) *ServiceMetrics {
	if val, ok := m.services.Load(svc); ok {
		return val.(*ServiceMetrics)
	}
	actual, _ := m.services.LoadOrStore(svc, &ServiceMetrics{Latency: NewLatencyHistogram()})
	return actual.(*ServiceMetrics)
}

// Collect returns all subscription metrics as a map.
func (m *SubscriptionMetrics) Collect() map[string]interface{} {
	result := map[string]interface{}{
		"notifications_received":    m.NotificationsReceived.Value(),
		"data_change_notifications": m.DataChangeNotifications.Value(),
		"event_notifications":       m.EventNotifications.Value(),
		"notifications_dropped":     m.NotificationsDropped.Value(),
		"items_created":             m.ItemsCreated.Value(),
		"items_deleted":             m.ItemsDeleted.Value(),
		"batch_executions":          m.BatchExecutions.Value(),
		"batch_calls":               m.BatchCalls.Value(),
		"batch_call_failures":       m.BatchCallFailures.Value(),
	}

	services := make(map[string]interface{})
	m.services.Range(func(key, value interface{}) bool {
		sm := value.(*ServiceMetrics)
		services[key.(ServiceID).String()] = map[string]interface{}{
			"requests": sm.Requests.Value(),
			"errors":   sm.Errors.Value(),
			"latency":  sm.Latency.Stats(),
		}
		return true
	})
	if len(services) > 0 {
		result["services"] = services
	}
	return result
}

// Register exposes the counters on reg. constLabels are attached to every
// series, typically the subscription id.
func (m *SubscriptionMetrics) Register(reg prometheus.Registerer, constLabels prometheus.Labels) error {
	counters := []struct {
		name string
		help string
		c    *Counter
	}{
		{"notifications_received_total", "Notification messages dispatched to listeners.", &m.NotificationsReceived},
		{"data_change_notifications_total", "Data change values dispatched.", &m.DataChangeNotifications},
		{"event_notifications_total", "Events dispatched.", &m.EventNotifications},
		{"notifications_dropped_total", "Notifications for items not tracked by the subscription.", &m.NotificationsDropped},
		{"items_created_total", "Monitored items admitted by the server.", &m.ItemsCreated},
		{"items_deleted_total", "Monitored items deleted.", &m.ItemsDeleted},
		{"batch_executions_total", "Batch executions.", &m.BatchExecutions},
		{"batch_calls_total", "Service calls issued by batches.", &m.BatchCalls},
		{"batch_call_failures_total", "Batch service calls that failed as a whole.", &m.BatchCallFailures},
	}
	for _, c := range counters {
		c := c
		collector := prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   "opcua",
			Subsystem:   "subscription",
			Name:        c.name,
			Help:        c.help,
			ConstLabels: constLabels,
		}, func() float64 { return float64(c.c.Value()) })
		if err := reg.Register(collector); err != nil {
			return err
		}
	}
	return nil
}
