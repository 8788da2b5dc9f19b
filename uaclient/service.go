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

// Package uaclient adapts an OPC UA client session to the managed
// subscription runtime.
package uaclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/awcullen/opcua/client"
	"github.com/awcullen/opcua/ua"

	opcua "github.com/edgeo-scada/opcua-managed"
	"github.com/edgeo-scada/opcua-managed/managed"
)

// Conn is the part of an OPC UA client session the service uses.
type Conn interface {
	Read(ctx context.Context, req *ua.ReadRequest) (*ua.ReadResponse, error)
	CreateSubscription(ctx context.Context, req *ua.CreateSubscriptionRequest) (*ua.CreateSubscriptionResponse, error)
	ModifySubscription(ctx context.Context, req *ua.ModifySubscriptionRequest) (*ua.ModifySubscriptionResponse, error)
	SetPublishingMode(ctx context.Context, req *ua.SetPublishingModeRequest) (*ua.SetPublishingModeResponse, error)
	DeleteSubscriptions(ctx context.Context, req *ua.DeleteSubscriptionsRequest) (*ua.DeleteSubscriptionsResponse, error)
	CreateMonitoredItems(ctx context.Context, req *ua.CreateMonitoredItemsRequest) (*ua.CreateMonitoredItemsResponse, error)
	ModifyMonitoredItems(ctx context.Context, req *ua.ModifyMonitoredItemsRequest) (*ua.ModifyMonitoredItemsResponse, error)
	SetMonitoringMode(ctx context.Context, req *ua.SetMonitoringModeRequest) (*ua.SetMonitoringModeResponse, error)
	DeleteMonitoredItems(ctx context.Context, req *ua.DeleteMonitoredItemsRequest) (*ua.DeleteMonitoredItemsResponse, error)
	Publish(ctx context.Context, req *ua.PublishRequest) (*ua.PublishResponse, error)
}

var (
	_ Conn                        = (*client.Client)(nil)
	_ managed.SubscriptionService = (*Service)(nil)
)

// Service implements managed.SubscriptionService over one session and
// runs the publish loop that feeds its subscriptions.
type Service struct {
	conn   Conn
	opts   *options
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[uint32]managed.NotificationHandler

	ackMu sync.Mutex
	acks  []ua.SubscriptionAcknowledgement
}

// New creates a service on conn.
func New(conn Conn, opts ...Option) *Service {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &Service{
		conn:     conn,
		opts:     o,
		logger:   o.logger,
		handlers: make(map[uint32]managed.NotificationHandler),
	}
}

// toError converts a transport error. Status codes returned by the stack
// keep their value.
func toError(svc opcua.ServiceID, err error) error {
	if sc, ok := any(err).(ua.StatusCode); ok {
		return &opcua.OPCUAError{ServiceID: svc, StatusCode: opcua.StatusCode(sc), Err: err}
	}
	return opcua.WrapError(svc, err)
}

func checkHeader(svc opcua.ServiceID, h ua.ResponseHeader) error {
	if sc := opcua.StatusCode(h.ServiceResult); sc.IsBad() {
		return opcua.NewOPCUAError(svc, sc, "")
	}
	return nil
}

func checkCount(svc opcua.ServiceID, got, want int) error {
	if got != want {
		return opcua.NewOPCUAError(svc, opcua.StatusBadUnknownResponse,
			fmt.Sprintf("%d results for %d operations", got, want))
	}
	return nil
}

func fromUAStatusCodes(in []ua.StatusCode) []opcua.StatusCode {
	out := make([]opcua.StatusCode, len(in))
	for i, sc := range in {
		out[i] = opcua.StatusCode(sc)
	}
	return out
}

// CreateSubscription implements managed.SubscriptionService.
func (s *Service) CreateSubscription(ctx context.Context, p opcua.SubscriptionParameters) (*opcua.CreateSubscriptionResponse, error) {
	res, err := s.conn.CreateSubscription(ctx, &ua.CreateSubscriptionRequest{
		RequestedPublishingInterval: p.PublishingInterval,
		RequestedLifetimeCount:      p.LifetimeCount,
		RequestedMaxKeepAliveCount:  p.MaxKeepAliveCount,
		MaxNotificationsPerPublish:  p.MaxNotificationsPerPublish,
		PublishingEnabled:           p.PublishingEnabled,
		Priority:                    p.Priority,
	})
	if err != nil {
		return nil, toError(opcua.ServiceCreateSubscription, err)
	}
	if err := checkHeader(opcua.ServiceCreateSubscription, res.ResponseHeader); err != nil {
		return nil, err
	}
	return &opcua.CreateSubscriptionResponse{
		SubscriptionID:            res.SubscriptionID,
		RevisedPublishingInterval: res.RevisedPublishingInterval,
		RevisedLifetimeCount:      res.RevisedLifetimeCount,
		RevisedMaxKeepAliveCount:  res.RevisedMaxKeepAliveCount,
	}, nil
}

// ModifySubscription implements managed.SubscriptionService.
func (s *Service) ModifySubscription(ctx context.Context, subscriptionID uint32, p opcua.SubscriptionParameters) (*opcua.ModifySubscriptionResponse, error) {
	res, err := s.conn.ModifySubscription(ctx, &ua.ModifySubscriptionRequest{
		SubscriptionID:              subscriptionID,
		RequestedPublishingInterval: p.PublishingInterval,
		RequestedLifetimeCount:      p.LifetimeCount,
		RequestedMaxKeepAliveCount:  p.MaxKeepAliveCount,
		MaxNotificationsPerPublish:  p.MaxNotificationsPerPublish,
		Priority:                    p.Priority,
	})
	if err != nil {
		return nil, toError(opcua.ServiceModifySubscription, err)
	}
	if err := checkHeader(opcua.ServiceModifySubscription, res.ResponseHeader); err != nil {
		return nil, err
	}
	return &opcua.ModifySubscriptionResponse{
		RevisedPublishingInterval: res.RevisedPublishingInterval,
		RevisedLifetimeCount:      res.RevisedLifetimeCount,
		RevisedMaxKeepAliveCount:  res.RevisedMaxKeepAliveCount,
	}, nil
}

// SetPublishingMode implements managed.SubscriptionService.
func (s *Service) SetPublishingMode(ctx context.Context, enabled bool, subscriptionIDs []uint32) ([]opcua.StatusCode, error) {
	res, err := s.conn.SetPublishingMode(ctx, &ua.SetPublishingModeRequest{
		PublishingEnabled: enabled,
		SubscriptionIDs:   subscriptionIDs,
	})
	if err != nil {
		return nil, toError(opcua.ServiceSetPublishingMode, err)
	}
	if err := checkHeader(opcua.ServiceSetPublishingMode, res.ResponseHeader); err != nil {
		return nil, err
	}
	return fromUAStatusCodes(res.Results), nil
}

// DeleteSubscriptions implements managed.SubscriptionService.
func (s *Service) DeleteSubscriptions(ctx context.Context, subscriptionIDs []uint32) ([]opcua.StatusCode, error) {
	res, err := s.conn.DeleteSubscriptions(ctx, &ua.DeleteSubscriptionsRequest{
		SubscriptionIDs: subscriptionIDs,
	})
	if err != nil {
		return nil, toError(opcua.ServiceDeleteSubscriptions, err)
	}
	if err := checkHeader(opcua.ServiceDeleteSubscriptions, res.ResponseHeader); err != nil {
		return nil, err
	}
	return fromUAStatusCodes(res.Results), nil
}

// CreateMonitoredItems implements managed.MonitoredItemService.
func (s *Service) CreateMonitoredItems(ctx context.Context, subscriptionID uint32, timestamps opcua.TimestampsToReturn, items []opcua.MonitoredItemCreateRequest) ([]opcua.MonitoredItemCreateResult, error) {
	reqs := make([]ua.MonitoredItemCreateRequest, len(items))
	for i, it := range items {
		reqs[i] = ua.MonitoredItemCreateRequest{
			ItemToMonitor:       toUAReadValueID(it.ItemToMonitor),
			MonitoringMode:      ua.MonitoringMode(it.MonitoringMode),
			RequestedParameters: toUAMonitoringParameters(it.RequestedParameters),
		}
	}
	res, err := s.conn.CreateMonitoredItems(ctx, &ua.CreateMonitoredItemsRequest{
		SubscriptionID:     subscriptionID,
		TimestampsToReturn: ua.TimestampsToReturn(timestamps),
		ItemsToCreate:      reqs,
	})
	if err != nil {
		return nil, toError(opcua.ServiceCreateMonitoredItems, err)
	}
	if err := checkHeader(opcua.ServiceCreateMonitoredItems, res.ResponseHeader); err != nil {
		return nil, err
	}
	out := make([]opcua.MonitoredItemCreateResult, len(res.Results))
	for i, r := range res.Results {
		out[i] = opcua.MonitoredItemCreateResult{
			StatusCode:              opcua.StatusCode(r.StatusCode),
			MonitoredItemID:         r.MonitoredItemID,
			RevisedSamplingInterval: r.RevisedSamplingInterval,
			RevisedQueueSize:        r.RevisedQueueSize,
			FilterResult:            r.FilterResult,
		}
	}
	return out, nil
}

// ModifyMonitoredItems implements managed.MonitoredItemService.
func (s *Service) ModifyMonitoredItems(ctx context.Context, subscriptionID uint32, timestamps opcua.TimestampsToReturn, items []opcua.MonitoredItemModifyRequest) ([]opcua.MonitoredItemModifyResult, error) {
	reqs := make([]ua.MonitoredItemModifyRequest, len(items))
	for i, it := range items {
		reqs[i] = ua.MonitoredItemModifyRequest{
			MonitoredItemID:     it.MonitoredItemID,
			RequestedParameters: toUAMonitoringParameters(it.RequestedParameters),
		}
	}
	res, err := s.conn.ModifyMonitoredItems(ctx, &ua.ModifyMonitoredItemsRequest{
		SubscriptionID:     subscriptionID,
		TimestampsToReturn: ua.TimestampsToReturn(timestamps),
		ItemsToModify:      reqs,
	})
	if err != nil {
		return nil, toError(opcua.ServiceModifyMonitoredItems, err)
	}
	if err := checkHeader(opcua.ServiceModifyMonitoredItems, res.ResponseHeader); err != nil {
		return nil, err
	}
	out := make([]opcua.MonitoredItemModifyResult, len(res.Results))
	for i, r := range res.Results {
		out[i] = opcua.MonitoredItemModifyResult{
			StatusCode:              opcua.StatusCode(r.StatusCode),
			RevisedSamplingInterval: r.RevisedSamplingInterval,
			RevisedQueueSize:        r.RevisedQueueSize,
			FilterResult:            r.FilterResult,
		}
	}
	return out, nil
}

// SetMonitoringMode implements managed.MonitoredItemService.
func (s *Service) SetMonitoringMode(ctx context.Context, subscriptionID uint32, mode opcua.MonitoringMode, monitoredItemIDs []uint32) ([]opcua.StatusCode, error) {
	res, err := s.conn.SetMonitoringMode(ctx, &ua.SetMonitoringModeRequest{
		SubscriptionID:   subscriptionID,
		MonitoringMode:   ua.MonitoringMode(mode),
		MonitoredItemIDs: monitoredItemIDs,
	})
	if err != nil {
		return nil, toError(opcua.ServiceSetMonitoringMode, err)
	}
	if err := checkHeader(opcua.ServiceSetMonitoringMode, res.ResponseHeader); err != nil {
		return nil, err
	}
	return fromUAStatusCodes(res.Results), nil
}

// DeleteMonitoredItems implements managed.MonitoredItemService.
func (s *Service) DeleteMonitoredItems(ctx context.Context, subscriptionID uint32, monitoredItemIDs []uint32) ([]opcua.StatusCode, error) {
	res, err := s.conn.DeleteMonitoredItems(ctx, &ua.DeleteMonitoredItemsRequest{
		SubscriptionID:   subscriptionID,
		MonitoredItemIDs: monitoredItemIDs,
	})
	if err != nil {
		return nil, toError(opcua.ServiceDeleteMonitoredItems, err)
	}
	if err := checkHeader(opcua.ServiceDeleteMonitoredItems, res.ResponseHeader); err != nil {
		return nil, err
	}
	return fromUAStatusCodes(res.Results), nil
}

// MaxMonitoredItemsPerCall reads the server's operation limit for
// monitored item services.
func (s *Service) MaxMonitoredItemsPerCall(ctx context.Context) (uint32, error) {
	res, err := s.conn.Read(ctx, &ua.ReadRequest{
		TimestampsToReturn: ua.TimestampsToReturnNeither,
		NodesToRead: []ua.ReadValueID{{
			NodeID:      ua.VariableIDServerServerCapabilitiesOperationLimitsMaxMonitoredItemsPerCall,
			AttributeID: ua.AttributeIDValue,
		}},
	})
	if err != nil {
		return 0, toError(opcua.ServiceRead, err)
	}
	if err := checkHeader(opcua.ServiceRead, res.ResponseHeader); err != nil {
		return 0, err
	}
	if err := checkCount(opcua.ServiceRead, len(res.Results), 1); err != nil {
		return 0, err
	}
	dv := res.Results[0]
	if sc := opcua.StatusCode(dv.StatusCode); sc.IsBad() {
		return 0, opcua.NewOPCUAError(opcua.ServiceRead, sc, "MaxMonitoredItemsPerCall")
	}
	limit, ok := dv.Value.(uint32)
	if !ok {
		return 0, opcua.NewOPCUAError(opcua.ServiceRead, opcua.StatusBadTypeMismatch,
			fmt.Sprintf("MaxMonitoredItemsPerCall is %T", dv.Value))
	}
	return limit, nil
}

// SetNotificationHandler implements managed.SubscriptionService.
func (s *Service) SetNotificationHandler(subscriptionID uint32, h managed.NotificationHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h == nil {
		delete(s.handlers, subscriptionID)
		return
	}
	s.handlers[subscriptionID] = h
}

func (s *Service) handler(subscriptionID uint32) managed.NotificationHandler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handlers[subscriptionID]
}

func (s *Service) subscriptionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handlers)
}

// ReadValue reads one attribute. The result status is returned in the
// DataValue, not as an error.
func (s *Service) ReadValue(ctx context.Context, rv opcua.ReadValueID) (opcua.DataValue, error) {
	res, err := s.conn.Read(ctx, &ua.ReadRequest{
		TimestampsToReturn: ua.TimestampsToReturnBoth,
		NodesToRead:        []ua.ReadValueID{toUAReadValueID(rv)},
	})
	if err != nil {
		return opcua.DataValue{}, toError(opcua.ServiceRead, err)
	}
	if err := checkHeader(opcua.ServiceRead, res.ResponseHeader); err != nil {
		return opcua.DataValue{}, err
	}
	if err := checkCount(opcua.ServiceRead, len(res.Results), 1); err != nil {
		return opcua.DataValue{}, err
	}
	return fromUADataValue(res.Results[0]), nil
}
