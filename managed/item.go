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
	"context"
	"fmt"
	"sync"

	opcua "github.com/edgeo-scada/opcua-managed"
	"github.com/edgeo-scada/opcua-managed/future"
)

// MonitoredItem is implemented by *Item, *DataItem and *EventItem.
type MonitoredItem interface {
	base() *Item
}

// ModifyParams are the tunable parameters of a monitored item. It starts
// out as a copy of the item's revised values, so fields left untouched are
// sent back unchanged.
type ModifyParams struct {
	SamplingInterval float64
	QueueSize        uint32
	DiscardOldest    bool
	Timestamps       opcua.TimestampsToReturn
	Filter           interface{}
}

// Item is one server-side monitored item of a Subscription. Getters return
// the values last revised by the server. Each setter issues one service
// call; callers must check the returned error, as a bad result leaves the
// item unchanged.
type Item struct {
	sub          *Subscription
	clientHandle uint32
	target       opcua.ReadValueID

	mu               sync.RWMutex
	monitoredItemID  uint32
	samplingInterval float64
	queueSize        uint32
	discardOldest    bool
	timestamps       opcua.TimestampsToReturn
	filter           interface{}
	mode             opcua.MonitoringMode
	status           opcua.StatusCode
}

func (it *Item) base() *Item { return it }

// ClientHandle returns the handle that correlates notifications to the item.
func (it *Item) ClientHandle() uint32 { return it.clientHandle }

// ReadValueID returns the monitored node attribute.
func (it *Item) ReadValueID() opcua.ReadValueID { return it.target }

// Subscription returns the owning subscription.
func (it *Item) Subscription() *Subscription { return it.sub }

// MonitoredItemID returns the server-assigned id, zero until created.
func (it *Item) MonitoredItemID() uint32 {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return it.monitoredItemID
}

// SamplingInterval returns the revised sampling interval in milliseconds.
func (it *Item) SamplingInterval() float64 {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return it.samplingInterval
}

// QueueSize returns the revised queue size.
func (it *Item) QueueSize() uint32 {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return it.queueSize
}

func (it *Item) DiscardOldest() bool {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return it.discardOldest
}

func (it *Item) TimestampsToReturn() opcua.TimestampsToReturn {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return it.timestamps
}

// Filter returns the monitoring filter, nil when none was set.
func (it *Item) Filter() interface{} {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return it.filter
}

func (it *Item) MonitoringMode() opcua.MonitoringMode {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return it.mode
}

// StatusCode returns the status of the last create or modify operation.
func (it *Item) StatusCode() opcua.StatusCode {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return it.status
}

func (it *Item) created() bool {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return it.monitoredItemID != 0 && !it.status.IsBad()
}

func (it *Item) currentParams() ModifyParams {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return ModifyParams{
		SamplingInterval: it.samplingInterval,
		QueueSize:        it.queueSize,
		DiscardOldest:    it.discardOldest,
		Timestamps:       it.timestamps,
		Filter:           it.filter,
	}
}

func (it *Item) createRequest() opcua.MonitoredItemCreateRequest {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return opcua.MonitoredItemCreateRequest{
		ItemToMonitor:  it.target,
		MonitoringMode: it.mode,
		RequestedParameters: opcua.MonitoringParameters{
			ClientHandle:     it.clientHandle,
			SamplingInterval: it.samplingInterval,
			Filter:           it.filter,
			QueueSize:        it.queueSize,
			DiscardOldest:    it.discardOldest,
		},
	}
}

func (it *Item) modifyRequest(p ModifyParams) opcua.MonitoredItemModifyRequest {
	return opcua.MonitoredItemModifyRequest{
		MonitoredItemID: it.MonitoredItemID(),
		RequestedParameters: opcua.MonitoringParameters{
			ClientHandle:     it.clientHandle,
			SamplingInterval: p.SamplingInterval,
			Filter:           p.Filter,
			QueueSize:        p.QueueSize,
			DiscardOldest:    p.DiscardOldest,
		},
	}
}

// applyCreate records the outcome of a create call. res is nil when the
// service call failed as a whole.
func (it *Item) applyCreate(serviceResult opcua.StatusCode, res *opcua.MonitoredItemCreateResult) {
	it.mu.Lock()
	defer it.mu.Unlock()

	if res == nil {
		it.status = serviceResult
		return
	}
	it.status = res.StatusCode
	if res.StatusCode.IsBad() {
		return
	}
	it.monitoredItemID = res.MonitoredItemID
	it.samplingInterval = res.RevisedSamplingInterval
	it.queueSize = res.RevisedQueueSize
}

// applyModify stores the requested parameters with the server's revisions.
func (it *Item) applyModify(p ModifyParams, res opcua.MonitoredItemModifyResult) {
	it.mu.Lock()
	defer it.mu.Unlock()

	it.status = res.StatusCode
	it.samplingInterval = res.RevisedSamplingInterval
	it.queueSize = res.RevisedQueueSize
	it.discardOldest = p.DiscardOldest
	it.timestamps = p.Timestamps
	it.filter = p.Filter
}

func (it *Item) setMode(mode opcua.MonitoringMode) {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.mode = mode
}

func (it *Item) setStatus(status opcua.StatusCode) {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.status = status
}

func (it *Item) notCreated(svc opcua.ServiceID) error {
	return &opcua.OPCUAError{
		ServiceID:  svc,
		StatusCode: opcua.StatusBadMonitoredItemIdInvalid,
		Err:        opcua.ErrItemNotCreated,
	}
}

// modify issues a single-item modify built from the current revised values
// changed by mutate.
func (it *Item) modify(ctx context.Context, mutate func(*ModifyParams)) (opcua.MonitoredItemModifyResult, error) {
	if !it.created() {
		return opcua.MonitoredItemModifyResult{}, it.notCreated(opcua.ServiceModifyMonitoredItems)
	}
	p := it.currentParams()
	mutate(&p)

	s := it.sub
	results, err := s.svc.ModifyMonitoredItems(ctx, s.id, p.Timestamps, []opcua.MonitoredItemModifyRequest{it.modifyRequest(p)})
	if err != nil {
		return opcua.MonitoredItemModifyResult{}, err
	}
	if len(results) != 1 {
		return opcua.MonitoredItemModifyResult{}, opcua.NewOPCUAError(opcua.ServiceModifyMonitoredItems,
			opcua.StatusBadUnknownResponse, fmt.Sprintf("expected 1 result, got %d", len(results)))
	}
	res := results[0]
	if res.StatusCode.IsBad() {
		return res, opcua.NewOPCUAError(opcua.ServiceModifyMonitoredItems, res.StatusCode, "")
	}
	it.applyModify(p, res)
	return res, nil
}

// SetSamplingIntervalAsync requests a new sampling interval. The future
// yields the revised interval.
func (it *Item) SetSamplingIntervalAsync(ctx context.Context, interval float64) *future.Future[float64] {
	return future.Go(it.sub.exec, func() (float64, error) {
		res, err := it.modify(ctx, func(p *ModifyParams) { p.SamplingInterval = interval })
		return res.RevisedSamplingInterval, err
	})
}

// SetSamplingInterval requests a new sampling interval and returns the
// revised one.
func (it *Item) SetSamplingInterval(ctx context.Context, interval float64) (float64, error) {
	v, err := it.SetSamplingIntervalAsync(ctx, interval).Get(ctx)
	return v, opcua.WrapError(opcua.ServiceModifyMonitoredItems, err)
}

// SetQueueSizeAsync requests a new queue size. The future yields the
// revised size.
func (it *Item) SetQueueSizeAsync(ctx context.Context, size uint32) *future.Future[uint32] {
	return future.Go(it.sub.exec, func() (uint32, error) {
		res, err := it.modify(ctx, func(p *ModifyParams) { p.QueueSize = size })
		return res.RevisedQueueSize, err
	})
}

// SetQueueSize requests a new queue size and returns the revised one.
func (it *Item) SetQueueSize(ctx context.Context, size uint32) (uint32, error) {
	v, err := it.SetQueueSizeAsync(ctx, size).Get(ctx)
	return v, opcua.WrapError(opcua.ServiceModifyMonitoredItems, err)
}

func (it *Item) SetDiscardOldestAsync(ctx context.Context, discard bool) *future.Future[bool] {
	return future.Go(it.sub.exec, func() (bool, error) {
		_, err := it.modify(ctx, func(p *ModifyParams) { p.DiscardOldest = discard })
		return discard, err
	})
}

func (it *Item) SetDiscardOldest(ctx context.Context, discard bool) error {
	_, err := it.SetDiscardOldestAsync(ctx, discard).Get(ctx)
	return opcua.WrapError(opcua.ServiceModifyMonitoredItems, err)
}

func (it *Item) SetTimestampsToReturnAsync(ctx context.Context, ttr opcua.TimestampsToReturn) *future.Future[opcua.TimestampsToReturn] {
	return future.Go(it.sub.exec, func() (opcua.TimestampsToReturn, error) {
		_, err := it.modify(ctx, func(p *ModifyParams) { p.Timestamps = ttr })
		return ttr, err
	})
}

func (it *Item) SetTimestampsToReturn(ctx context.Context, ttr opcua.TimestampsToReturn) error {
	_, err := it.SetTimestampsToReturnAsync(ctx, ttr).Get(ctx)
	return opcua.WrapError(opcua.ServiceModifyMonitoredItems, err)
}

// SetMonitoringModeAsync issues a set monitoring mode call for the item.
// The local mode changes once the server reports success.
func (it *Item) SetMonitoringModeAsync(ctx context.Context, mode opcua.MonitoringMode) *future.Future[opcua.MonitoringMode] {
	return future.Go(it.sub.exec, func() (opcua.MonitoringMode, error) {
		if !it.created() {
			return 0, it.notCreated(opcua.ServiceSetMonitoringMode)
		}
		s := it.sub
		results, err := s.svc.SetMonitoringMode(ctx, s.id, mode, []uint32{it.MonitoredItemID()})
		if err != nil {
			return 0, err
		}
		if len(results) != 1 {
			return 0, opcua.NewOPCUAError(opcua.ServiceSetMonitoringMode,
				opcua.StatusBadUnknownResponse, fmt.Sprintf("expected 1 result, got %d", len(results)))
		}
		if results[0].IsBad() {
			return 0, opcua.NewOPCUAError(opcua.ServiceSetMonitoringMode, results[0], "")
		}
		it.setMode(mode)
		return mode, nil
	})
}

func (it *Item) SetMonitoringMode(ctx context.Context, mode opcua.MonitoringMode) error {
	_, err := it.SetMonitoringModeAsync(ctx, mode).Get(ctx)
	return opcua.WrapError(opcua.ServiceSetMonitoringMode, err)
}
