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
	"time"

	opcua "github.com/edgeo-scada/opcua-managed"
)

// MonitoredItemService issues the monitored item service calls of one
// session. Result slices match the request slices position by position.
type MonitoredItemService interface {
	CreateMonitoredItems(ctx context.Context, subscriptionID uint32, timestamps opcua.TimestampsToReturn, items []opcua.MonitoredItemCreateRequest) ([]opcua.MonitoredItemCreateResult, error)
	ModifyMonitoredItems(ctx context.Context, subscriptionID uint32, timestamps opcua.TimestampsToReturn, items []opcua.MonitoredItemModifyRequest) ([]opcua.MonitoredItemModifyResult, error)
	SetMonitoringMode(ctx context.Context, subscriptionID uint32, mode opcua.MonitoringMode, monitoredItemIDs []uint32) ([]opcua.StatusCode, error)
	DeleteMonitoredItems(ctx context.Context, subscriptionID uint32, monitoredItemIDs []uint32) ([]opcua.StatusCode, error)
}

// SubscriptionService adds the subscription service calls and the
// notification delivery point.
type SubscriptionService interface {
	MonitoredItemService

	CreateSubscription(ctx context.Context, params opcua.SubscriptionParameters) (*opcua.CreateSubscriptionResponse, error)
	ModifySubscription(ctx context.Context, subscriptionID uint32, params opcua.SubscriptionParameters) (*opcua.ModifySubscriptionResponse, error)
	SetPublishingMode(ctx context.Context, enabled bool, subscriptionIDs []uint32) ([]opcua.StatusCode, error)
	DeleteSubscriptions(ctx context.Context, subscriptionIDs []uint32) ([]opcua.StatusCode, error)

	// MaxMonitoredItemsPerCall returns the server's operation limit for
	// monitored item services. Zero means no limit.
	MaxMonitoredItemsPerCall(ctx context.Context) (uint32, error)

	// SetNotificationHandler routes notifications of subscriptionID to h.
	// A nil h removes the route. Implementations must call h for one
	// notification message at a time, in arrival order, and must not
	// request the next message before h returns.
	SetNotificationHandler(subscriptionID uint32, h NotificationHandler)
}

// NotificationHandler receives the notifications of one subscription.
type NotificationHandler interface {
	OnDataChange(publishTime time.Time, notifications []opcua.MonitoredItemNotification)
	OnEvents(publishTime time.Time, events []opcua.EventFieldList)
}
