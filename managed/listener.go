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
	"reflect"
	"sync"

	opcua "github.com/edgeo-scada/opcua-managed"
)

// DataListener receives every data change notification of a subscription.
// items and values are aligned by index.
type DataListener interface {
	OnDataReceived(items []*DataItem, values []opcua.DataValue)
}

// DataListenerFunc adapts a function to DataListener.
type DataListenerFunc func(items []*DataItem, values []opcua.DataValue)

// OnDataReceived calls f.
func (f DataListenerFunc) OnDataReceived(items []*DataItem, values []opcua.DataValue) {
	f(items, values)
}

// EventListener receives every event notification of a subscription.
// items and fields are aligned by index.
type EventListener interface {
	OnEventReceived(items []*EventItem, fields [][]opcua.Variant)
}

// EventListenerFunc adapts a function to EventListener.
type EventListenerFunc func(items []*EventItem, fields [][]opcua.Variant)

// OnEventReceived calls f.
func (f EventListenerFunc) OnEventReceived(items []*EventItem, fields [][]opcua.Variant) {
	f(items, fields)
}

// DataValueListener receives the values of a single data item.
type DataValueListener interface {
	OnDataValueReceived(item *DataItem, value opcua.DataValue)
}

// DataValueListenerFunc adapts a function to DataValueListener.
type DataValueListenerFunc func(item *DataItem, value opcua.DataValue)

// OnDataValueReceived calls f.
func (f DataValueListenerFunc) OnDataValueReceived(item *DataItem, value opcua.DataValue) {
	f(item, value)
}

// EventValueListener receives the events of a single event item.
type EventValueListener interface {
	OnEventValueReceived(item *EventItem, fields []opcua.Variant)
}

// EventValueListenerFunc adapts a function to EventValueListener.
type EventValueListenerFunc func(item *EventItem, fields []opcua.Variant)

// OnEventValueReceived calls f.
func (f EventValueListenerFunc) OnEventValueReceived(item *EventItem, fields []opcua.Variant) {
	f(item, fields)
}

// listenerSet is a copy-on-write list of listeners. Readers get a snapshot
// and never hold the lock while calling out.
type listenerSet[L any] struct {
	mu        sync.Mutex
	listeners []L
}

// add appends l and returns the new count.
func (s *listenerSet[L]) add(l L) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]L, len(s.listeners), len(s.listeners)+1)
	copy(next, s.listeners)
	s.listeners = append(next, l)
	return len(s.listeners)
}

// remove deletes the first occurrence of l and returns the new count and
// whether l was found.
func (s *listenerSet[L]) remove(l L) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, cur := range s.listeners {
		if !sameListener(cur, l) {
			continue
		}
		next := make([]L, 0, len(s.listeners)-1)
		next = append(next, s.listeners[:i]...)
		next = append(next, s.listeners[i+1:]...)
		s.listeners = next
		return len(next), true
	}
	return len(s.listeners), false
}

func (s *listenerSet[L]) snapshot() []L {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listeners
}

// sameListener compares listeners by identity. Func values are never equal,
// so a func adapter is only removable when registered by pointer.
func sameListener(a, b any) bool {
	t := reflect.TypeOf(a)
	if t == nil || t != reflect.TypeOf(b) || !t.Comparable() {
		return false
	}
	return a == b
}
