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
	"sync"

	"github.com/google/uuid"

	opcua "github.com/edgeo-scada/opcua-managed"
	"github.com/edgeo-scada/opcua-managed/future"
)

// ModifyResult is the outcome of one item of a ModifyBatch.
type ModifyResult struct {
	Item *Item

	// ServiceResult is the status of the service call that carried the
	// item. When it is bad, OperationResult is nil.
	ServiceResult   opcua.StatusCode
	OperationResult *opcua.MonitoredItemModifyResult
}

// StatusCode returns the operation status, or the service status when the
// call failed.
func (r ModifyResult) StatusCode() opcua.StatusCode {
	if r.OperationResult == nil {
		return r.ServiceResult
	}
	return r.OperationResult.StatusCode
}

// ModifyBatch collects parameter changes for many items and applies them
// with as few ModifyMonitoredItems calls as the server allows. Changes to
// the same item are merged; every caller touching an item gets the same
// result. A batch executes once.
type ModifyBatch struct {
	s *Subscription

	mu       sync.Mutex
	executed bool
	order    []*Item
	params   map[*Item]*ModifyParams
	pending  map[*Item][]*future.Future[ModifyResult]
}

// NewModifyBatch returns an empty batch for items of s.
func (s *Subscription) NewModifyBatch() *ModifyBatch {
	return &ModifyBatch{
		s:       s,
		params:  make(map[*Item]*ModifyParams),
		pending: make(map[*Item][]*future.Future[ModifyResult]),
	}
}

// Add stages mutate for item. The first change to an item starts from its
// current revised values. The returned future completes when the batch
// executes.
func (b *ModifyBatch) Add(item MonitoredItem, mutate func(*ModifyParams)) *future.Future[ModifyResult] {
	it := item.base()
	if it.sub != b.s {
		return future.Failed[ModifyResult](opcua.ErrMonitoredItemNotFound)
	}
	if !it.created() {
		return future.Failed[ModifyResult](it.notCreated(opcua.ServiceModifyMonitoredItems))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.executed {
		return future.Failed[ModifyResult](opcua.ErrBatchExecuted)
	}
	p, ok := b.params[it]
	if !ok {
		cur := it.currentParams()
		p = &cur
		b.params[it] = p
		b.order = append(b.order, it)
	}
	if mutate != nil {
		mutate(p)
	}
	f := future.New[ModifyResult]()
	b.pending[it] = append(b.pending[it], f)
	return f
}

// SetSamplingInterval stages a new sampling interval for item.
func (b *ModifyBatch) SetSamplingInterval(item MonitoredItem, interval float64) *future.Future[ModifyResult] {
	return b.Add(item, func(p *ModifyParams) { p.SamplingInterval = interval })
}

// SetQueueSize stages a new queue size for item.
func (b *ModifyBatch) SetQueueSize(item MonitoredItem, size uint32) *future.Future[ModifyResult] {
	return b.Add(item, func(p *ModifyParams) { p.QueueSize = size })
}

func (b *ModifyBatch) SetDiscardOldest(item MonitoredItem, discard bool) *future.Future[ModifyResult] {
	return b.Add(item, func(p *ModifyParams) { p.DiscardOldest = discard })
}

func (b *ModifyBatch) SetTimestampsToReturn(item MonitoredItem, ttr opcua.TimestampsToReturn) *future.Future[ModifyResult] {
	return b.Add(item, func(p *ModifyParams) { p.Timestamps = ttr })
}

// Len returns the number of distinct items staged.
func (b *ModifyBatch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.order)
}

// Execute sends the staged changes, grouped by TimestampsToReturn and
// chunked by the operation limit, and returns one result per item in the
// order items were first added. Failures are reported in the results,
// never as an error. A second Execute returns nil.
func (b *ModifyBatch) Execute(ctx context.Context) []ModifyResult {
	b.mu.Lock()
	if b.executed {
		b.mu.Unlock()
		return nil
	}
	b.executed = true
	order, params, pending := b.order, b.params, b.pending
	b.mu.Unlock()

	if len(order) == 0 {
		return nil
	}

	keys := make([]opcua.TimestampsToReturn, len(order))
	reqs := make([]opcua.MonitoredItemModifyRequest, len(order))
	for i, it := range order {
		keys[i] = params[it].Timestamps
		reqs[i] = it.modifyRequest(*params[it])
	}

	s := b.s
	outcomes := runBatch(ctx, s, opcua.ServiceModifyMonitoredItems, uuid.NewString(), len(order), groupBy(keys, reqs),
		func(ctx context.Context, ttr opcua.TimestampsToReturn, reqs []opcua.MonitoredItemModifyRequest) ([]opcua.MonitoredItemModifyResult, error) {
			return s.svc.ModifyMonitoredItems(ctx, s.id, ttr, reqs)
		})

	results := make([]ModifyResult, len(order))
	for i, it := range order {
		r := ModifyResult{
			Item:            it,
			ServiceResult:   outcomes[i].serviceResult,
			OperationResult: outcomes[i].result,
		}
		if r.OperationResult != nil && !r.OperationResult.StatusCode.IsBad() {
			it.applyModify(*params[it], *r.OperationResult)
		}
		results[i] = r
		for _, f := range pending[it] {
			f.Complete(r)
		}
	}
	return results
}

// ExecuteAsync runs Execute on the subscription's executor.
func (b *ModifyBatch) ExecuteAsync(ctx context.Context) *future.Future[[]ModifyResult] {
	return future.Go(b.s.exec, func() ([]ModifyResult, error) {
		return b.Execute(ctx), nil
	})
}
