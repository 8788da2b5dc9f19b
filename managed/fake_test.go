package managed

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	opcua "github.com/edgeo-scada/opcua-managed"
)

type modeCall struct {
	mode opcua.MonitoringMode
	ids  []uint32
}

// fakeService is an in-memory SubscriptionService. By default every
// operation succeeds and revised values echo the requested ones; the fn
// hooks override individual services.
type fakeService struct {
	mu sync.Mutex

	nextItemID uint32
	handlers   map[uint32]NotificationHandler

	limit      uint32
	limitErr   error
	limitCalls int

	createCalls [][]opcua.MonitoredItemCreateRequest
	createTTR   []opcua.TimestampsToReturn
	modifyCalls [][]opcua.MonitoredItemModifyRequest
	modifyTTR   []opcua.TimestampsToReturn
	modeCalls   []modeCall
	deleteCalls [][]uint32
	deletedSubs []uint32

	createFn func(reqs []opcua.MonitoredItemCreateRequest) ([]opcua.MonitoredItemCreateResult, error)
	modifyFn func(reqs []opcua.MonitoredItemModifyRequest) ([]opcua.MonitoredItemModifyResult, error)
	modeFn   func(mode opcua.MonitoringMode, ids []uint32) ([]opcua.StatusCode, error)
	deleteFn func(ids []uint32) ([]opcua.StatusCode, error)
	pubErr   error
}

func newFakeService() *fakeService {
	return &fakeService{
		nextItemID: 100,
		handlers:   make(map[uint32]NotificationHandler),
	}
}

func (f *fakeService) CreateSubscription(_ context.Context, p opcua.SubscriptionParameters) (*opcua.CreateSubscriptionResponse, error) {
	return &opcua.CreateSubscriptionResponse{
		SubscriptionID:            7,
		RevisedPublishingInterval: max(p.PublishingInterval, 50),
		RevisedLifetimeCount:      p.LifetimeCount,
		RevisedMaxKeepAliveCount:  p.MaxKeepAliveCount,
	}, nil
}

func (f *fakeService) ModifySubscription(_ context.Context, _ uint32, p opcua.SubscriptionParameters) (*opcua.ModifySubscriptionResponse, error) {
	return &opcua.ModifySubscriptionResponse{
		RevisedPublishingInterval: max(p.PublishingInterval, 50),
		RevisedLifetimeCount:      p.LifetimeCount,
		RevisedMaxKeepAliveCount:  p.MaxKeepAliveCount,
	}, nil
}

func (f *fakeService) SetPublishingMode(_ context.Context, _ bool, ids []uint32) ([]opcua.StatusCode, error) {
	if f.pubErr != nil {
		return nil, f.pubErr
	}
	return make([]opcua.StatusCode, len(ids)), nil
}

func (f *fakeService) DeleteSubscriptions(_ context.Context, ids []uint32) ([]opcua.StatusCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedSubs = append(f.deletedSubs, ids...)
	return make([]opcua.StatusCode, len(ids)), nil
}

func (f *fakeService) MaxMonitoredItemsPerCall(context.Context) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limitCalls++
	return f.limit, f.limitErr
}

func (f *fakeService) SetNotificationHandler(id uint32, h NotificationHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if h == nil {
		delete(f.handlers, id)
		return
	}
	f.handlers[id] = h
}

func (f *fakeService) handler(id uint32) NotificationHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers[id]
}

func (f *fakeService) CreateMonitoredItems(_ context.Context, _ uint32, ttr opcua.TimestampsToReturn, reqs []opcua.MonitoredItemCreateRequest) ([]opcua.MonitoredItemCreateResult, error) {
	f.mu.Lock()
	f.createCalls = append(f.createCalls, reqs)
	f.createTTR = append(f.createTTR, ttr)
	fn := f.createFn
	f.mu.Unlock()
	if fn != nil {
		return fn(reqs)
	}

	results := make([]opcua.MonitoredItemCreateResult, len(reqs))
	for i, r := range reqs {
		results[i] = opcua.MonitoredItemCreateResult{
			MonitoredItemID:         f.itemID(),
			RevisedSamplingInterval: r.RequestedParameters.SamplingInterval,
			RevisedQueueSize:        r.RequestedParameters.QueueSize,
		}
	}
	return results, nil
}

func (f *fakeService) itemID() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextItemID++
	return f.nextItemID
}

func (f *fakeService) ModifyMonitoredItems(_ context.Context, _ uint32, ttr opcua.TimestampsToReturn, reqs []opcua.MonitoredItemModifyRequest) ([]opcua.MonitoredItemModifyResult, error) {
	f.mu.Lock()
	f.modifyCalls = append(f.modifyCalls, reqs)
	f.modifyTTR = append(f.modifyTTR, ttr)
	fn := f.modifyFn
	f.mu.Unlock()
	if fn != nil {
		return fn(reqs)
	}
	return echoModify(reqs), nil
}

func echoModify(reqs []opcua.MonitoredItemModifyRequest) []opcua.MonitoredItemModifyResult {
	results := make([]opcua.MonitoredItemModifyResult, len(reqs))
	for i, r := range reqs {
		results[i] = opcua.MonitoredItemModifyResult{
			RevisedSamplingInterval: r.RequestedParameters.SamplingInterval,
			RevisedQueueSize:        r.RequestedParameters.QueueSize,
		}
	}
	return results
}

func (f *fakeService) SetMonitoringMode(_ context.Context, _ uint32, mode opcua.MonitoringMode, ids []uint32) ([]opcua.StatusCode, error) {
	f.mu.Lock()
	f.modeCalls = append(f.modeCalls, modeCall{mode: mode, ids: ids})
	fn := f.modeFn
	f.mu.Unlock()
	if fn != nil {
		return fn(mode, ids)
	}
	return make([]opcua.StatusCode, len(ids)), nil
}

func (f *fakeService) DeleteMonitoredItems(_ context.Context, _ uint32, ids []uint32) ([]opcua.StatusCode, error) {
	f.mu.Lock()
	f.deleteCalls = append(f.deleteCalls, ids)
	fn := f.deleteFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ids)
	}
	return make([]opcua.StatusCode, len(ids)), nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSubscription(t *testing.T, svc *fakeService, opts ...SubscriptionOption) *Subscription {
	t.Helper()
	opts = append([]SubscriptionOption{WithLogger(discardLogger())}, opts...)
	s, err := NewSubscription(context.Background(), svc, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Delete(context.Background()) })
	return s
}

func valueTargets(n int) []opcua.ReadValueID {
	targets := make([]opcua.ReadValueID, n)
	for i := range targets {
		targets[i] = opcua.ReadValueID{
			NodeID:      opcua.NewNumericNodeID(2, uint32(1000+i)),
			AttributeID: opcua.AttributeValue,
		}
	}
	return targets
}

func createDataItems(t *testing.T, s *Subscription, n int, opts ...ItemOption) []*DataItem {
	t.Helper()
	items, err := s.CreateDataItems(context.Background(), valueTargets(n), 250, opts...)
	require.NoError(t, err)
	require.Len(t, items, n)
	return items
}

func intValue(v int32) opcua.DataValue {
	return opcua.DataValue{Value: opcua.NewVariant(v)}
}
