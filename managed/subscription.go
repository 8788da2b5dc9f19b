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

// Package managed provides client-side OPC UA subscriptions with tracked
// monitored items, listener fan-out and batched parameter changes.
package managed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	opcua "github.com/edgeo-scada/opcua-managed"
	"github.com/edgeo-scada/opcua-managed/future"
)

// Subscription is a server subscription together with the monitored items
// created through it. Notifications for tracked items are delivered to the
// registered listeners in arrival order.
type Subscription struct {
	svc     SubscriptionService
	opts    *subscriptionOptions
	logger  *slog.Logger
	metrics *opcua.SubscriptionMetrics
	exec    future.Executor
	pool    *ants.Pool

	id uint32

	mu                 sync.RWMutex
	publishingInterval float64
	lifetimeCount      uint32
	maxKeepAliveCount  uint32
	publishingEnabled  bool
	closed             bool

	itemsMu    sync.RWMutex
	dataItems  map[uint32]*DataItem
	eventItems map[uint32]*EventItem
	nextHandle atomic.Uint32

	// limit caches the server operation limit: 0 unknown, -1 unlimited.
	limit atomic.Int64

	dataListeners  listenerSet[DataListener]
	eventListeners listenerSet[EventListener]
	dispatchMu     sync.Mutex
}

// NewSubscription creates a subscription on the server and starts routing
// its notifications.
func NewSubscription(ctx context.Context, svc SubscriptionService, opts ...SubscriptionOption) (*Subscription, error) {
	options := defaultSubscriptionOptions()
	for _, opt := range opts {
		opt(options)
	}

	s := &Subscription{
		svc:        svc,
		opts:       options,
		metrics:    options.metrics,
		exec:       options.executor,
		dataItems:  make(map[uint32]*DataItem),
		eventItems: make(map[uint32]*EventItem),
	}
	if s.metrics == nil {
		s.metrics = opcua.NewSubscriptionMetrics()
	}
	if s.exec == nil {
		pool, err := ants.NewPool(options.poolSize)
		if err != nil {
			return nil, fmt.Errorf("managed: create worker pool: %w", err)
		}
		s.pool = pool
		s.exec = pool
	}

	start := time.Now()
	resp, err := svc.CreateSubscription(ctx, opcua.SubscriptionParameters{
		PublishingInterval:         options.publishingInterval,
		LifetimeCount:              options.lifetimeCount,
		MaxKeepAliveCount:          options.maxKeepAliveCount,
		MaxNotificationsPerPublish: options.maxNotifications,
		PublishingEnabled:          options.publishingEnabled,
		Priority:                   options.priority,
	})
	s.metrics.ForService(opcua.ServiceCreateSubscription).Observe(start, err)
	if err != nil {
		s.releasePool()
		return nil, opcua.WrapError(opcua.ServiceCreateSubscription, err)
	}

	s.id = resp.SubscriptionID
	s.publishingInterval = resp.RevisedPublishingInterval
	s.lifetimeCount = resp.RevisedLifetimeCount
	s.maxKeepAliveCount = resp.RevisedMaxKeepAliveCount
	s.publishingEnabled = options.publishingEnabled
	s.logger = options.logger.With(slog.Uint64("subscription_id", uint64(s.id)))

	svc.SetNotificationHandler(s.id, notificationRouter{s})

	s.logger.Info("subscription created",
		slog.Float64("publishing_interval", s.publishingInterval),
		slog.Uint64("lifetime_count", uint64(s.lifetimeCount)),
		slog.Uint64("max_keep_alive_count", uint64(s.maxKeepAliveCount)))

	return s, nil
}

// ID returns the server-assigned subscription id.
func (s *Subscription) ID() uint32 { return s.id }

// PublishingInterval returns the revised publishing interval in milliseconds.
func (s *Subscription) PublishingInterval() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.publishingInterval
}

func (s *Subscription) LifetimeCount() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lifetimeCount
}

func (s *Subscription) MaxKeepAliveCount() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxKeepAliveCount
}

func (s *Subscription) PublishingEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.publishingEnabled
}

// Metrics returns the subscription's metrics.
func (s *Subscription) Metrics() *opcua.SubscriptionMetrics { return s.metrics }

// DataItems returns the tracked data items.
func (s *Subscription) DataItems() []*DataItem {
	s.itemsMu.RLock()
	defer s.itemsMu.RUnlock()
	items := make([]*DataItem, 0, len(s.dataItems))
	for _, d := range s.dataItems {
		items = append(items, d)
	}
	return items
}

// EventItems returns the tracked event items.
func (s *Subscription) EventItems() []*EventItem {
	s.itemsMu.RLock()
	defer s.itemsMu.RUnlock()
	items := make([]*EventItem, 0, len(s.eventItems))
	for _, e := range s.eventItems {
		items = append(items, e)
	}
	return items
}

func (s *Subscription) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Subscription) newItem(target opcua.ReadValueID, samplingInterval float64, o *itemOptions) *Item {
	return &Item{
		sub:              s,
		clientHandle:     s.nextHandle.Add(1),
		target:           target,
		samplingInterval: samplingInterval,
		queueSize:        o.queueSize,
		discardOldest:    o.discardOldest,
		timestamps:       o.timestamps,
		filter:           o.filter,
		mode:             o.monitoringMode,
		status:           opcua.StatusBadWaitingForInitialData,
	}
}

// createItems runs the create batch for items and records each outcome on
// its item. Outcomes are recorded even when ctx ends mid-batch; the returned
// error then reports ctx.Err().
func (s *Subscription) createItems(ctx context.Context, items []*Item) error {
	if len(items) == 0 {
		return nil
	}
	if s.isClosed() {
		return opcua.ErrSubscriptionClosed
	}

	keys := make([]opcua.TimestampsToReturn, len(items))
	reqs := make([]opcua.MonitoredItemCreateRequest, len(items))
	for i, it := range items {
		keys[i] = it.TimestampsToReturn()
		reqs[i] = it.createRequest()
	}

	outcomes := runBatch(ctx, s, opcua.ServiceCreateMonitoredItems, uuid.NewString(), len(items), groupBy(keys, reqs),
		func(ctx context.Context, ttr opcua.TimestampsToReturn, reqs []opcua.MonitoredItemCreateRequest) ([]opcua.MonitoredItemCreateResult, error) {
			return s.svc.CreateMonitoredItems(ctx, s.id, ttr, reqs)
		})
	for i, it := range items {
		it.applyCreate(outcomes[i].serviceResult, outcomes[i].result)
	}
	return ctx.Err()
}

// CreateDataItemsAsync is the asynchronous form of CreateDataItems.
func (s *Subscription) CreateDataItemsAsync(ctx context.Context, targets []opcua.ReadValueID, samplingInterval float64, opts ...ItemOption) *future.Future[[]*DataItem] {
	return future.Go(s.exec, func() ([]*DataItem, error) {
		o := s.defaultItemOptions()
		for _, opt := range opts {
			opt(o)
		}

		data := make([]*DataItem, len(targets))
		items := make([]*Item, len(targets))
		for i, target := range targets {
			data[i] = &DataItem{Item: s.newItem(target, samplingInterval, o)}
			items[i] = data[i].Item
		}
		err := s.createItems(ctx, items)
		if errors.Is(err, opcua.ErrSubscriptionClosed) {
			return data, err
		}

		created := 0
		s.itemsMu.Lock()
		for _, d := range data {
			if d.created() {
				s.dataItems[d.clientHandle] = d
				created++
			}
		}
		s.itemsMu.Unlock()
		s.metrics.ItemsCreated.Add(int64(created))

		s.logger.Debug("data items created",
			slog.Int("requested", len(targets)),
			slog.Int("created", created))
		return data, err
	})
}

// CreateDataItems creates one data item per target. Every returned item
// carries the server's status; items with a bad status were not admitted
// and receive no notifications.
func (s *Subscription) CreateDataItems(ctx context.Context, targets []opcua.ReadValueID, samplingInterval float64, opts ...ItemOption) ([]*DataItem, error) {
	items, err := s.CreateDataItemsAsync(ctx, targets, samplingInterval, opts...).Get(ctx)
	return items, opcua.WrapError(opcua.ServiceCreateMonitoredItems, err)
}

// CreateEventItemsAsync is the asynchronous form of CreateEventItems.
func (s *Subscription) CreateEventItemsAsync(ctx context.Context, nodeIDs []opcua.NodeID, filter *opcua.EventFilter, opts ...ItemOption) *future.Future[[]*EventItem] {
	return future.Go(s.exec, func() ([]*EventItem, error) {
		o := s.defaultItemOptions()
		if filter != nil {
			o.filter = filter
		}
		for _, opt := range opts {
			opt(o)
		}

		events := make([]*EventItem, len(nodeIDs))
		items := make([]*Item, len(nodeIDs))
		for i, id := range nodeIDs {
			target := opcua.ReadValueID{NodeID: id, AttributeID: opcua.AttributeEventNotifier}
			events[i] = &EventItem{Item: s.newItem(target, 0, o)}
			items[i] = events[i].Item
		}
		err := s.createItems(ctx, items)
		if errors.Is(err, opcua.ErrSubscriptionClosed) {
			return events, err
		}

		created := 0
		s.itemsMu.Lock()
		for _, e := range events {
			if e.created() {
				s.eventItems[e.clientHandle] = e
				created++
			}
		}
		s.itemsMu.Unlock()
		s.metrics.ItemsCreated.Add(int64(created))

		s.logger.Debug("event items created",
			slog.Int("requested", len(nodeIDs)),
			slog.Int("created", created))
		return events, err
	})
}

// CreateEventItems creates one event item per notifier node with filter.
func (s *Subscription) CreateEventItems(ctx context.Context, nodeIDs []opcua.NodeID, filter *opcua.EventFilter, opts ...ItemOption) ([]*EventItem, error) {
	items, err := s.CreateEventItemsAsync(ctx, nodeIDs, filter, opts...).Get(ctx)
	return items, opcua.WrapError(opcua.ServiceCreateMonitoredItems, err)
}

// deleteItem deletes it on the server and calls forget once the item is
// gone, which includes the server no longer knowing its id.
func (s *Subscription) deleteItem(ctx context.Context, it *Item, forget func()) error {
	if it.sub != s {
		return opcua.ErrMonitoredItemNotFound
	}
	id := it.MonitoredItemID()
	if id == 0 {
		return it.notCreated(opcua.ServiceDeleteMonitoredItems)
	}

	start := time.Now()
	results, err := s.svc.DeleteMonitoredItems(ctx, s.id, []uint32{id})
	s.metrics.ForService(opcua.ServiceDeleteMonitoredItems).Observe(start, err)
	if err != nil {
		return err
	}
	if len(results) != 1 {
		return opcua.NewOPCUAError(opcua.ServiceDeleteMonitoredItems,
			opcua.StatusBadUnknownResponse, fmt.Sprintf("expected 1 result, got %d", len(results)))
	}
	if status := results[0]; status.IsBad() && status != opcua.StatusBadMonitoredItemIdInvalid {
		return opcua.NewOPCUAError(opcua.ServiceDeleteMonitoredItems, status, "")
	}

	forget()
	it.setStatus(opcua.StatusBadMonitoredItemIdInvalid)
	s.metrics.ItemsDeleted.Add(1)
	s.logger.Debug("monitored item deleted",
		slog.Uint64("monitored_item_id", uint64(id)),
		slog.Uint64("client_handle", uint64(it.clientHandle)))
	return nil
}

func (s *Subscription) DeleteDataItemAsync(ctx context.Context, d *DataItem) *future.Future[struct{}] {
	return future.Go(s.exec, func() (struct{}, error) {
		return struct{}{}, s.deleteItem(ctx, d.Item, func() {
			s.itemsMu.Lock()
			if s.dataItems[d.clientHandle] == d {
				delete(s.dataItems, d.clientHandle)
			}
			s.itemsMu.Unlock()
			d.uninstall()
		})
	})
}

// DeleteDataItem deletes d and stops its notifications.
func (s *Subscription) DeleteDataItem(ctx context.Context, d *DataItem) error {
	_, err := s.DeleteDataItemAsync(ctx, d).Get(ctx)
	return opcua.WrapError(opcua.ServiceDeleteMonitoredItems, err)
}

func (s *Subscription) DeleteEventItemAsync(ctx context.Context, e *EventItem) *future.Future[struct{}] {
	return future.Go(s.exec, func() (struct{}, error) {
		return struct{}{}, s.deleteItem(ctx, e.Item, func() {
			s.itemsMu.Lock()
			if s.eventItems[e.clientHandle] == e {
				delete(s.eventItems, e.clientHandle)
			}
			s.itemsMu.Unlock()
			e.uninstall()
		})
	})
}

// DeleteEventItem deletes e and stops its notifications.
func (s *Subscription) DeleteEventItem(ctx context.Context, e *EventItem) error {
	_, err := s.DeleteEventItemAsync(ctx, e).Get(ctx)
	return opcua.WrapError(opcua.ServiceDeleteMonitoredItems, err)
}

// SetPublishingIntervalAsync requests a new publishing interval. The future
// yields the revised interval.
func (s *Subscription) SetPublishingIntervalAsync(ctx context.Context, interval float64) *future.Future[float64] {
	return future.Go(s.exec, func() (float64, error) {
		s.mu.RLock()
		params := opcua.SubscriptionParameters{
			PublishingInterval:         interval,
			LifetimeCount:              s.lifetimeCount,
			MaxKeepAliveCount:          s.maxKeepAliveCount,
			MaxNotificationsPerPublish: s.opts.maxNotifications,
			PublishingEnabled:          s.publishingEnabled,
			Priority:                   s.opts.priority,
		}
		s.mu.RUnlock()

		start := time.Now()
		resp, err := s.svc.ModifySubscription(ctx, s.id, params)
		s.metrics.ForService(opcua.ServiceModifySubscription).Observe(start, err)
		if err != nil {
			return 0, err
		}

		s.mu.Lock()
		s.publishingInterval = resp.RevisedPublishingInterval
		s.lifetimeCount = resp.RevisedLifetimeCount
		s.maxKeepAliveCount = resp.RevisedMaxKeepAliveCount
		s.mu.Unlock()

		s.logger.Debug("publishing interval revised",
			slog.Float64("requested", interval),
			slog.Float64("revised", resp.RevisedPublishingInterval))
		return resp.RevisedPublishingInterval, nil
	})
}

// SetPublishingInterval requests a new publishing interval and returns the
// revised one.
func (s *Subscription) SetPublishingInterval(ctx context.Context, interval float64) (float64, error) {
	v, err := s.SetPublishingIntervalAsync(ctx, interval).Get(ctx)
	return v, opcua.WrapError(opcua.ServiceModifySubscription, err)
}

func (s *Subscription) SetPublishingModeAsync(ctx context.Context, enabled bool) *future.Future[bool] {
	return future.Go(s.exec, func() (bool, error) {
		start := time.Now()
		results, err := s.svc.SetPublishingMode(ctx, enabled, []uint32{s.id})
		s.metrics.ForService(opcua.ServiceSetPublishingMode).Observe(start, err)
		if err != nil {
			return false, err
		}
		if len(results) != 1 {
			return false, opcua.NewOPCUAError(opcua.ServiceSetPublishingMode,
				opcua.StatusBadUnknownResponse, fmt.Sprintf("expected 1 result, got %d", len(results)))
		}
		if results[0].IsBad() {
			return false, opcua.NewOPCUAError(opcua.ServiceSetPublishingMode, results[0], "")
		}

		s.mu.Lock()
		s.publishingEnabled = enabled
		s.mu.Unlock()
		return enabled, nil
	})
}

// SetPublishingMode enables or disables publishing without deleting the
// subscription.
func (s *Subscription) SetPublishingMode(ctx context.Context, enabled bool) error {
	_, err := s.SetPublishingModeAsync(ctx, enabled).Get(ctx)
	return opcua.WrapError(opcua.ServiceSetPublishingMode, err)
}

// Delete deletes the subscription on the server, stops routing its
// notifications and releases the owned worker pool. Local state is torn
// down even when the service call fails.
func (s *Subscription) Delete(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.svc.SetNotificationHandler(s.id, nil)

	start := time.Now()
	results, err := s.svc.DeleteSubscriptions(ctx, []uint32{s.id})
	s.metrics.ForService(opcua.ServiceDeleteSubscriptions).Observe(start, err)

	s.itemsMu.Lock()
	for h, d := range s.dataItems {
		d.uninstall()
		delete(s.dataItems, h)
	}
	for h, e := range s.eventItems {
		e.uninstall()
		delete(s.eventItems, h)
	}
	s.itemsMu.Unlock()
	s.releasePool()

	if err != nil {
		return opcua.WrapError(opcua.ServiceDeleteSubscriptions, err)
	}
	if len(results) != 1 {
		return opcua.NewOPCUAError(opcua.ServiceDeleteSubscriptions,
			opcua.StatusBadUnknownResponse, fmt.Sprintf("expected 1 result, got %d", len(results)))
	}
	if results[0].IsBad() {
		return opcua.NewOPCUAError(opcua.ServiceDeleteSubscriptions, results[0], "")
	}

	s.logger.Info("subscription deleted")
	return nil
}

func (s *Subscription) releasePool() {
	if s.pool != nil {
		s.pool.Release()
	}
}

// AddDataListener registers l for every data change notification.
func (s *Subscription) AddDataListener(l DataListener) {
	s.dataListeners.add(l)
}

// RemoveDataListener unregisters l and reports whether it was found.
// Func adapters never match; register a pointer such as &f to remove
// one later.
func (s *Subscription) RemoveDataListener(l DataListener) bool {
	_, ok := s.dataListeners.remove(l)
	return ok
}

// AddEventListener registers l for every event notification.
func (s *Subscription) AddEventListener(l EventListener) {
	s.eventListeners.add(l)
}

// RemoveEventListener unregisters l and reports whether it was found.
// Func adapters never match; register a pointer such as &f to remove
// one later.
func (s *Subscription) RemoveEventListener(l EventListener) bool {
	_, ok := s.eventListeners.remove(l)
	return ok
}

// operationLimit returns the maximum number of items per service call,
// zero meaning unlimited.
func (s *Subscription) operationLimit(ctx context.Context) int {
	if s.opts.operationLimit > 0 {
		return s.opts.operationLimit
	}
	switch l := s.limit.Load(); {
	case l > 0:
		return int(l)
	case l < 0:
		return 0
	}

	n, err := s.svc.MaxMonitoredItemsPerCall(ctx)
	if err != nil {
		s.logger.Warn("operation limit unavailable, using default",
			slog.Int("default", DefaultOperationLimit),
			slog.String("error", err.Error()))
		return DefaultOperationLimit
	}
	if n == 0 {
		s.limit.Store(-1)
		return 0
	}
	s.limit.Store(int64(n))
	return int(n)
}

// notificationRouter is the handler registered with the transport.
type notificationRouter struct {
	s *Subscription
}

func (r notificationRouter) OnDataChange(publishTime time.Time, notifications []opcua.MonitoredItemNotification) {
	r.s.dispatchDataChange(publishTime, notifications)
}

func (r notificationRouter) OnEvents(publishTime time.Time, events []opcua.EventFieldList) {
	r.s.dispatchEvents(publishTime, events)
}

func (s *Subscription) dispatchDataChange(publishTime time.Time, notifications []opcua.MonitoredItemNotification) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.metrics.NotificationsReceived.Add(1)

	items := make([]*DataItem, 0, len(notifications))
	values := make([]opcua.DataValue, 0, len(notifications))
	s.itemsMu.RLock()
	for _, n := range notifications {
		if d, ok := s.dataItems[n.ClientHandle]; ok {
			items = append(items, d)
			values = append(values, n.Value)
		}
	}
	s.itemsMu.RUnlock()

	if dropped := len(notifications) - len(items); dropped > 0 {
		s.metrics.NotificationsDropped.Add(int64(dropped))
		s.logger.Debug("data change for untracked items dropped", slog.Int("count", dropped))
	}
	if len(items) == 0 {
		return
	}
	s.metrics.DataChangeNotifications.Add(int64(len(items)))

	for _, l := range s.dataListeners.snapshot() {
		s.safely("data listener", func() { l.OnDataReceived(items, values) })
	}
	for i, d := range items {
		v := values[i]
		s.safely("data value listener", func() { d.deliver(v) })
	}

	s.logger.Debug("data change dispatched",
		slog.Int("items", len(items)),
		slog.Time("publish_time", publishTime))
}

func (s *Subscription) dispatchEvents(publishTime time.Time, events []opcua.EventFieldList) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.metrics.NotificationsReceived.Add(1)

	items := make([]*EventItem, 0, len(events))
	fields := make([][]opcua.Variant, 0, len(events))
	s.itemsMu.RLock()
	for _, ev := range events {
		if e, ok := s.eventItems[ev.ClientHandle]; ok {
			items = append(items, e)
			fields = append(fields, ev.EventFields)
		}
	}
	s.itemsMu.RUnlock()

	if dropped := len(events) - len(items); dropped > 0 {
		s.metrics.NotificationsDropped.Add(int64(dropped))
		s.logger.Debug("events for untracked items dropped", slog.Int("count", dropped))
	}
	if len(items) == 0 {
		return
	}
	s.metrics.EventNotifications.Add(int64(len(items)))

	for _, l := range s.eventListeners.snapshot() {
		s.safely("event listener", func() { l.OnEventReceived(items, fields) })
	}
	for i, e := range items {
		f := fields[i]
		s.safely("event value listener", func() { e.deliver(f) })
	}

	s.logger.Debug("events dispatched",
		slog.Int("items", len(items)),
		slog.Time("publish_time", publishTime))
}

// safely runs a listener callback and logs a panic instead of propagating it.
func (s *Subscription) safely(kind string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("listener panicked",
				slog.String("listener", kind),
				slog.Any("panic", p))
		}
	}()
	fn()
}
