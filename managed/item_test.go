package managed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	opcua "github.com/edgeo-scada/opcua-managed"
)

func TestItemSetters(t *testing.T) {
	svc := newFakeService()
	svc.modifyFn = func(reqs []opcua.MonitoredItemModifyRequest) ([]opcua.MonitoredItemModifyResult, error) {
		res := echoModify(reqs)
		res[0].RevisedQueueSize = min(reqs[0].RequestedParameters.QueueSize, 8)
		return res, nil
	}
	s := newTestSubscription(t, svc)
	item := createDataItems(t, s, 1, WithQueueSize(2))[0]
	ctx := context.Background()

	revised, err := item.SetQueueSize(ctx, 20)
	require.NoError(t, err)
	assert.Equal(t, uint32(8), revised)
	assert.Equal(t, uint32(8), item.QueueSize())

	interval, err := item.SetSamplingInterval(ctx, 75)
	require.NoError(t, err)
	assert.Equal(t, float64(75), interval)
	assert.Equal(t, float64(75), item.SamplingInterval())

	require.NoError(t, item.SetDiscardOldest(ctx, false))
	assert.False(t, item.DiscardOldest())

	require.NoError(t, item.SetTimestampsToReturn(ctx, opcua.TimestampsToReturnServer))
	assert.Equal(t, opcua.TimestampsToReturnServer, item.TimestampsToReturn())

	require.Len(t, svc.modifyCalls, 4)
	last := svc.modifyCalls[3][0]
	assert.Equal(t, item.MonitoredItemID(), last.MonitoredItemID)
	assert.Equal(t, item.ClientHandle(), last.RequestedParameters.ClientHandle)
	assert.Equal(t, float64(75), last.RequestedParameters.SamplingInterval)
	assert.Equal(t, uint32(8), last.RequestedParameters.QueueSize)
	assert.False(t, last.RequestedParameters.DiscardOldest)
	assert.Equal(t, opcua.TimestampsToReturnServer, svc.modifyTTR[3])
}

func TestItemSetterBadStatusLeavesStateUnchanged(t *testing.T) {
	svc := newFakeService()
	svc.modifyFn = func(reqs []opcua.MonitoredItemModifyRequest) ([]opcua.MonitoredItemModifyResult, error) {
		return []opcua.MonitoredItemModifyResult{{StatusCode: opcua.StatusBadFilterNotAllowed}}, nil
	}
	s := newTestSubscription(t, svc)
	item := createDataItems(t, s, 1, WithQueueSize(3))[0]

	_, err := item.SetQueueSize(context.Background(), 9)
	var uaErr *opcua.OPCUAError
	require.ErrorAs(t, err, &uaErr)
	assert.Equal(t, opcua.StatusBadFilterNotAllowed, uaErr.StatusCode)
	assert.Equal(t, opcua.ServiceModifyMonitoredItems, uaErr.ServiceID)
	assert.Equal(t, uint32(3), item.QueueSize())
	assert.True(t, item.StatusCode().IsGood())

	_, err = item.SetQueueSizeAsync(context.Background(), 9).Get(context.Background())
	assert.True(t, opcua.IsStatusCode(err, opcua.StatusBadFilterNotAllowed))
}

func TestItemSetterServiceErrorIsTranslated(t *testing.T) {
	svc := newFakeService()
	svc.modifyFn = func([]opcua.MonitoredItemModifyRequest) ([]opcua.MonitoredItemModifyResult, error) {
		return nil, context.DeadlineExceeded
	}
	s := newTestSubscription(t, svc)
	item := createDataItems(t, s, 1)[0]

	err := item.SetDiscardOldest(context.Background(), false)
	var uaErr *opcua.OPCUAError
	require.ErrorAs(t, err, &uaErr)
	assert.Equal(t, opcua.StatusBadTimeout, uaErr.StatusCode)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, item.DiscardOldest())
}

func TestItemSetterResultCountMismatch(t *testing.T) {
	svc := newFakeService()
	svc.modifyFn = func([]opcua.MonitoredItemModifyRequest) ([]opcua.MonitoredItemModifyResult, error) {
		return nil, nil
	}
	s := newTestSubscription(t, svc)
	item := createDataItems(t, s, 1)[0]

	_, err := item.SetSamplingInterval(context.Background(), 10)
	assert.Equal(t, opcua.StatusBadUnknownResponse, opcua.StatusOf(err))
}

func TestItemSetMonitoringMode(t *testing.T) {
	svc := newFakeService()
	s := newTestSubscription(t, svc)
	item := createDataItems(t, s, 1)[0]
	ctx := context.Background()

	require.NoError(t, item.SetMonitoringMode(ctx, opcua.MonitoringModeSampling))
	assert.Equal(t, opcua.MonitoringModeSampling, item.MonitoringMode())
	require.Len(t, svc.modeCalls, 1)
	assert.Equal(t, []uint32{item.MonitoredItemID()}, svc.modeCalls[0].ids)

	svc.modeFn = func(opcua.MonitoringMode, []uint32) ([]opcua.StatusCode, error) {
		return []opcua.StatusCode{opcua.StatusBadMonitoringModeInvalid}, nil
	}
	err := item.SetMonitoringMode(ctx, opcua.MonitoringModeDisabled)
	assert.Equal(t, opcua.StatusBadMonitoringModeInvalid, opcua.StatusOf(err))
	assert.Equal(t, opcua.MonitoringModeSampling, item.MonitoringMode())
}
