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

// EventItem is a monitored item reporting events of a notifier node.
type EventItem struct {
	*Item

	listeners  listenerSet[EventValueListener]
	consumerMu sync.Mutex
	consumer   atomic.Pointer[func([]opcua.Variant)]
}

// EventFilter returns the filter the item was created with.
func (e *EventItem) EventFilter() *opcua.EventFilter {
	switch f := e.Filter().(type) {
	case opcua.EventFilter:
		return &f
	case *opcua.EventFilter:
		return f
	}
	return nil
}

// AddEventValueListener registers l for the events of this item.
func (e *EventItem) AddEventValueListener(l EventValueListener) {
	e.listeners.add(l)
	e.syncConsumer()
}

// RemoveEventValueListener unregisters l and reports whether it was found.
// Func adapters never match; register a pointer such as &f to remove
// one later.
func (e *EventItem) RemoveEventValueListener(l EventValueListener) bool {
	_, ok := e.listeners.remove(l)
	e.syncConsumer()
	return ok
}

func (e *EventItem) ConsumerInstalled() bool {
	return e.consumer.Load() != nil
}

func (e *EventItem) syncConsumer() {
	e.consumerMu.Lock()
	defer e.consumerMu.Unlock()

	if len(e.listeners.snapshot()) == 0 {
		e.consumer.Store(nil)
		return
	}
	if e.consumer.Load() != nil {
		return
	}
	consume := func(fields []opcua.Variant) {
		for _, l := range e.listeners.snapshot() {
			l.OnEventValueReceived(e, fields)
		}
	}
	e.consumer.Store(&consume)
}

func (e *EventItem) uninstall() {
	e.consumerMu.Lock()
	defer e.consumerMu.Unlock()
	e.consumer.Store(nil)
}

func (e *EventItem) deliver(fields []opcua.Variant) {
	if c := e.consumer.Load(); c != nil {
		(*c)(fields)
	}
}
