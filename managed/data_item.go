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
	"sync"
	"sync/atomic"

	opcua "github.com/edgeo-scada/opcua-managed"
)

// DataItem is a monitored item reporting attribute values.
type DataItem struct {
	*Item

	listeners  listenerSet[DataValueListener]
	consumerMu sync.Mutex
	consumer   atomic.Pointer[func(opcua.DataValue)]
}

// AddDataValueListener registers l for the values of this item.
func (d *DataItem) AddDataValueListener(l DataValueListener) {
	d.listeners.add(l)
	d.syncConsumer()
}

// RemoveDataValueListener unregisters l and reports whether it was found.
// Func adapters never match; register a pointer such as &f to remove
// one later.
func (d *DataItem) RemoveDataValueListener(l DataValueListener) bool {
	_, ok := d.listeners.remove(l)
	d.syncConsumer()
	return ok
}

// ConsumerInstalled reports whether values are being fanned out to
// per-item listeners.
func (d *DataItem) ConsumerInstalled() bool {
	return d.consumer.Load() != nil
}

// syncConsumer installs the consumer while listeners exist and removes it
// once the last one is gone.
func (d *DataItem) syncConsumer() {
	d.consumerMu.Lock()
	defer d.consumerMu.Unlock()

	if len(d.listeners.snapshot()) == 0 {
		d.consumer.Store(nil)
		return
	}
	if d.consumer.Load() != nil {
		return
	}
	consume := func(v opcua.DataValue) {
		for _, l := range d.listeners.snapshot() {
			l.OnDataValueReceived(d, v)
		}
	}
	d.consumer.Store(&consume)
}

func (d *DataItem) uninstall() {
	d.consumerMu.Lock()
	defer d.consumerMu.Unlock()
	d.consumer.Store(nil)
}

func (d *DataItem) deliver(v opcua.DataValue) {
	if c := d.consumer.Load(); c != nil {
		(*c)(v)
	}
}
