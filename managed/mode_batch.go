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

	"github.com/google/uuid"

	opcua "github.com/edgeo-scada/opcua-managed"
	"github.com/edgeo-scada/opcua-managed/future"
)

// ModeResult is the outcome of one item of a MonitoringModeBatch.
type ModeResult struct {
	Item *Item
	Mode opcua.MonitoringMode

	ServiceResult   opcua.StatusCode
	OperationResult opcua.StatusCode
}

// StatusCode returns the operation status, or the service status when the
// call failed.
func (r ModeResult) StatusCode() opcua.StatusCode {
	if r.ServiceResult.IsBad() {
		return r.ServiceResult
	}
	return r.OperationResult
}

// MonitoringModeBatch collects monitoring mode changes and applies them
// with one SetMonitoringMode call per requested mode. When an item is
// added more than once the last mode wins.
type MonitoringModeBatch struct {
	s *Subscription

	mu       sync.Mutex
	executed bool
	order    []*Item
	modes    map[*Item]opcua.MonitoringMode
	pending  map[*Item][]*future.Future[ModeResult]
}

// NewMonitoringModeBatch returns an empty batch for items of s.
func (s *Subscription) NewMonitoringModeBatch() *MonitoringModeBatch {
	return &MonitoringModeBatch{
		s:       s,
		modes:   make(map[*Item]opcua.MonitoringMode),
		pending: make(map[*Item][]*future.Future[ModeResult]),
	}
}

var monitoringModes = []opcua.MonitoringMode{
	opcua.MonitoringModeDisabled,
	opcua.MonitoringModeSampling,
	opcua.MonitoringModeReporting,
}

// Add stages mode for item.
func (b *MonitoringModeBatch) Add(item MonitoredItem, mode opcua.MonitoringMode) *future.Future[ModeResult] {
	it := item.base()
	if mode > opcua.MonitoringModeReporting {
		return future.Failed[ModeResult](opcua.NewOPCUAError(opcua.ServiceSetMonitoringMode,
			opcua.StatusBadMonitoringModeInvalid, fmt.Sprintf("mode %d", uint32(mode))))
	}
	if it.sub != b.s {
		return future.Failed[ModeResult](opcua.ErrMonitoredItemNotFound)
	}
	if !it.created() {
		return future.Failed[ModeResult](it.notCreated(opcua.ServiceSetMonitoringMode))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.executed {
		return future.Failed[ModeResult](opcua.ErrBatchExecuted)
	}
	if _, ok := b.modes[it]; !ok {
		b.order = append(b.order, it)
	}
	b.modes[it] = mode
	f := future.New[ModeResult]()
	b.pending[it] = append(b.pending[it], f)
	return f
}

// Execute issues the calls, at most one per mode in the order Disabled,
// Sampling, Reporting unless the operation limit splits them, and returns
// one result per item in the order items were first added.
func (b *MonitoringModeBatch) Execute(ctx context.Context) []ModeResult {
	b.mu.Lock()
	if b.executed {
		b.mu.Unlock()
		return nil
	}
	b.executed = true
	order, modes, pending := b.order, b.modes, b.pending
	b.mu.Unlock()

	if len(order) == 0 {
		return nil
	}

	var groups []group[opcua.MonitoringMode, uint32]
	for _, mode := range monitoringModes {
		g := group[opcua.MonitoringMode, uint32]{key: mode}
		for i, it := range order {
			if modes[it] == mode {
				g.indices = append(g.indices, i)
				g.reqs = append(g.reqs, it.MonitoredItemID())
			}
		}
		if len(g.reqs) > 0 {
			groups = append(groups, g)
		}
	}

	s := b.s
	outcomes := runBatch(ctx, s, opcua.ServiceSetMonitoringMode, uuid.NewString(), len(order), groups,
		func(ctx context.Context, mode opcua.MonitoringMode, ids []uint32) ([]opcua.StatusCode, error) {
			return s.svc.SetMonitoringMode(ctx, s.id, mode, ids)
		})

	results := make([]ModeResult, len(order))
	for i, it := range order {
		r := ModeResult{Item: it, Mode: modes[it], ServiceResult: outcomes[i].serviceResult}
		if outcomes[i].result != nil {
			r.OperationResult = *outcomes[i].result
		} else {
			r.OperationResult = r.ServiceResult
		}
		if !r.StatusCode().IsBad() {
			it.setMode(r.Mode)
		}
		results[i] = r
		for _, f := range pending[it] {
			f.Complete(r)
		}
	}
	return results
}

// ExecuteAsync runs Execute on the subscription's executor.
func (b *MonitoringModeBatch) ExecuteAsync(ctx context.Context) *future.Future[[]ModeResult] {
	return future.Go(b.s.exec, func() ([]ModeResult, error) {
		return b.Execute(ctx), nil
	})
}
