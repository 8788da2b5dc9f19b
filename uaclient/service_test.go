package uaclient

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/awcullen/opcua/ua"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	opcua "github.com/edgeo-scada/opcua-managed"
)

// ---------------------------------------------------------------------------
// stubConn
// ---------------------------------------------------------------------------

type stubConn struct{ mock.Mock }

func (c *stubConn) Read(ctx context.Context, req *ua.ReadRequest) (*ua.ReadResponse, error) {
	ret := c.Called(ctx, req)
	res, _ := ret.Get(0).(*ua.ReadResponse)
	return res, ret.Error(1)
}

func (c *stubConn) CreateSubscription(ctx context.Context, req *ua.CreateSubscriptionRequest) (*ua.CreateSubscriptionResponse, error) {
	ret := c.Called(ctx, req)
	res, _ := ret.Get(0).(*ua.CreateSubscriptionResponse)
	return res, ret.Error(1)
}

func (c *stubConn) ModifySubscription(ctx context.Context, req *ua.ModifySubscriptionRequest) (*ua.ModifySubscriptionResponse, error) {
	ret := c.Called(ctx, req)
	res, _ := ret.Get(0).(*ua.ModifySubscriptionResponse)
	return res, ret.Error(1)
}

func (c *stubConn) SetPublishingMode(ctx context.Context, req *ua.SetPublishingModeRequest) (*ua.SetPublishingModeResponse, error) {
	ret := c.Called(ctx, req)
	res, _ := ret.Get(0).(*ua.SetPublishingModeResponse)
	return res, ret.Error(1)
}

func (c *stubConn) DeleteSubscriptions(ctx context.Context, req *ua.DeleteSubscriptionsRequest) (*ua.DeleteSubscriptionsResponse, error) {
	ret := c.Called(ctx, req)
	res, _ := ret.Get(0).(*ua.DeleteSubscriptionsResponse)
	return res, ret.Error(1)
}

func (c *stubConn) CreateMonitoredItems(ctx context.Context, req *ua.CreateMonitoredItemsRequest) (*ua.CreateMonitoredItemsResponse, error) {
	ret := c.Called(ctx, req)
	res, _ := ret.Get(0).(*ua.CreateMonitoredItemsResponse)
	return res, ret.Error(1)
}

func (c *stubConn) ModifyMonitoredItems(ctx context.Context, req *ua.ModifyMonitoredItemsRequest) (*ua.ModifyMonitoredItemsResponse, error) {
	ret := c.Called(ctx, req)
	res, _ := ret.Get(0).(*ua.ModifyMonitoredItemsResponse)
	return res, ret.Error(1)
}

func (c *stubConn) SetMonitoringMode(ctx context.Context, req *ua.SetMonitoringModeRequest) (*ua.SetMonitoringModeResponse, error) {
	ret := c.Called(ctx, req)
	res, _ := ret.Get(0).(*ua.SetMonitoringModeResponse)
	return res, ret.Error(1)
}

func (c *stubConn) DeleteMonitoredItems(ctx context.Context, req *ua.DeleteMonitoredItemsRequest) (*ua.DeleteMonitoredItemsResponse, error) {
	ret := c.Called(ctx, req)
	res, _ := ret.Get(0).(*ua.DeleteMonitoredItemsResponse)
	return res, ret.Error(1)
}

func (c *stubConn) Publish(ctx context.Context, req *ua.PublishRequest) (*ua.PublishResponse, error) {
	ret := c.Called(ctx, req)
	res, _ := ret.Get(0).(*ua.PublishResponse)
	return res, ret.Error(1)
}

// ---------------------------------------------------------------------------
// recordingHandler
// ---------------------------------------------------------------------------

type recordingHandler struct {
	mu      sync.Mutex
	changes [][]opcua.MonitoredItemNotification
	events  [][]opcua.EventFieldList
}

func (h *recordingHandler) OnDataChange(_ time.Time, n []opcua.MonitoredItemNotification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.changes = append(h.changes, n)
}

func (h *recordingHandler) OnEvents(_ time.Time, e []opcua.EventFieldList) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, e)
}

func newTestService(conn Conn) *Service {
	return New(conn,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithRetryDelay(time.Millisecond),
		WithIdleDelay(time.Millisecond),
	)
}

func TestCreateSubscription(t *testing.T) {
	conn := &stubConn{}
	conn.On("CreateSubscription", mock.Anything, mock.MatchedBy(func(req *ua.CreateSubscriptionRequest) bool {
		return req.RequestedPublishingInterval == 250 &&
			req.RequestedLifetimeCount == 60 &&
			req.RequestedMaxKeepAliveCount == 20 &&
			req.PublishingEnabled &&
			req.Priority == 3
	})).Return(&ua.CreateSubscriptionResponse{
		SubscriptionID:            9,
		RevisedPublishingInterval: 500,
		RevisedLifetimeCount:      90,
		RevisedMaxKeepAliveCount:  30,
	}, nil)

	res, err := newTestService(conn).CreateSubscription(context.Background(), opcua.SubscriptionParameters{
		PublishingInterval: 250,
		LifetimeCount:      60,
		MaxKeepAliveCount:  20,
		PublishingEnabled:  true,
		Priority:           3,
	})
	require.NoError(t, err)
	assert.Equal(t, &opcua.CreateSubscriptionResponse{
		SubscriptionID:            9,
		RevisedPublishingInterval: 500,
		RevisedLifetimeCount:      90,
		RevisedMaxKeepAliveCount:  30,
	}, res)
	conn.AssertExpectations(t)
}

func TestServiceResultIsChecked(t *testing.T) {
	conn := &stubConn{}
	res := &ua.DeleteSubscriptionsResponse{}
	res.ResponseHeader.ServiceResult = ua.StatusCode(opcua.StatusBadSubscriptionIdInvalid)
	conn.On("DeleteSubscriptions", mock.Anything, mock.Anything).Return(res, nil)

	_, err := newTestService(conn).DeleteSubscriptions(context.Background(), []uint32{1})
	var uaErr *opcua.OPCUAError
	require.ErrorAs(t, err, &uaErr)
	assert.Equal(t, opcua.StatusBadSubscriptionIdInvalid, uaErr.StatusCode)
	assert.Equal(t, opcua.ServiceDeleteSubscriptions, uaErr.ServiceID)
}

func TestTransportErrorIsWrapped(t *testing.T) {
	conn := &stubConn{}
	conn.On("SetPublishingMode", mock.Anything, mock.Anything).Return(nil, context.DeadlineExceeded)

	_, err := newTestService(conn).SetPublishingMode(context.Background(), true, []uint32{1})
	assert.Equal(t, opcua.StatusBadTimeout, opcua.StatusOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCreateMonitoredItemsConvertsRequests(t *testing.T) {
	conn := &stubConn{}
	var got *ua.CreateMonitoredItemsRequest
	conn.On("CreateMonitoredItems", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		got = args.Get(1).(*ua.CreateMonitoredItemsRequest)
	}).Return(&ua.CreateMonitoredItemsResponse{
		Results: []ua.MonitoredItemCreateResult{
			{MonitoredItemID: 41, RevisedSamplingInterval: 100, RevisedQueueSize: 4},
			{StatusCode: ua.StatusCode(opcua.StatusBadNodeIdUnknown)},
		},
	}, nil)

	filter := &opcua.EventFilter{SelectClauses: []opcua.SimpleAttributeOperand{{
		BrowsePath:  []opcua.QualifiedName{{Name: "Message"}},
		AttributeID: opcua.AttributeValue,
	}}}
	results, err := newTestService(conn).CreateMonitoredItems(context.Background(), 7, opcua.TimestampsToReturnBoth,
		[]opcua.MonitoredItemCreateRequest{
			{
				ItemToMonitor:       opcua.ReadValueID{NodeID: opcua.NewStringNodeID(2, "Temp"), AttributeID: opcua.AttributeValue, IndexRange: "1:2"},
				MonitoringMode:      opcua.MonitoringModeReporting,
				RequestedParameters: opcua.MonitoringParameters{ClientHandle: 1, SamplingInterval: 100, QueueSize: 4, DiscardOldest: true},
			},
			{
				ItemToMonitor:       opcua.ReadValueID{NodeID: opcua.NewNumericNodeID(0, 2253), AttributeID: opcua.AttributeEventNotifier},
				MonitoringMode:      opcua.MonitoringModeReporting,
				RequestedParameters: opcua.MonitoringParameters{ClientHandle: 2, Filter: filter},
			},
		})
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Equal(t, uint32(7), got.SubscriptionID)
	assert.Equal(t, ua.TimestampsToReturn(opcua.TimestampsToReturnBoth), got.TimestampsToReturn)
	require.Len(t, got.ItemsToCreate, 2)

	first := got.ItemsToCreate[0]
	assert.Equal(t, ua.NewNodeIDString(2, "Temp"), first.ItemToMonitor.NodeID)
	assert.Equal(t, "1:2", first.ItemToMonitor.IndexRange)
	assert.Equal(t, uint32(1), first.RequestedParameters.ClientHandle)
	assert.True(t, first.RequestedParameters.DiscardOldest)
	assert.Nil(t, first.RequestedParameters.Filter)

	second := got.ItemsToCreate[1]
	assert.Equal(t, uint32(ua.AttributeIDEventNotifier), second.ItemToMonitor.AttributeID)
	ef, ok := second.RequestedParameters.Filter.(ua.EventFilter)
	require.True(t, ok)
	require.Len(t, ef.SelectClauses, 1)
	assert.Equal(t, ua.NodeID(ua.ObjectTypeIDBaseEventType), ef.SelectClauses[0].TypeDefinitionID)
	assert.Equal(t, "Message", ef.SelectClauses[0].BrowsePath[0].Name)

	require.Len(t, results, 2)
	assert.Equal(t, uint32(41), results[0].MonitoredItemID)
	assert.Equal(t, uint32(4), results[0].RevisedQueueSize)
	assert.Equal(t, opcua.StatusBadNodeIdUnknown, results[1].StatusCode)
}

func TestMaxMonitoredItemsPerCall(t *testing.T) {
	read := func(dv ua.DataValue) *ua.ReadResponse {
		return &ua.ReadResponse{Results: []ua.DataValue{dv}}
	}

	t.Run("value", func(t *testing.T) {
		conn := &stubConn{}
		conn.On("Read", mock.Anything, mock.MatchedBy(func(req *ua.ReadRequest) bool {
			return len(req.NodesToRead) == 1 &&
				req.NodesToRead[0].NodeID == ua.VariableIDServerServerCapabilitiesOperationLimitsMaxMonitoredItemsPerCall &&
				req.NodesToRead[0].AttributeID == ua.AttributeIDValue
		})).Return(read(ua.DataValue{Value: uint32(500)}), nil)

		limit, err := newTestService(conn).MaxMonitoredItemsPerCall(context.Background())
		require.NoError(t, err)
		assert.Equal(t, uint32(500), limit)
	})

	t.Run("bad status", func(t *testing.T) {
		conn := &stubConn{}
		conn.On("Read", mock.Anything, mock.Anything).
			Return(read(ua.DataValue{StatusCode: ua.StatusCode(opcua.StatusBadNodeIdUnknown)}), nil)

		_, err := newTestService(conn).MaxMonitoredItemsPerCall(context.Background())
		assert.Equal(t, opcua.StatusBadNodeIdUnknown, opcua.StatusOf(err))
	})

	t.Run("wrong type", func(t *testing.T) {
		conn := &stubConn{}
		conn.On("Read", mock.Anything, mock.Anything).Return(read(ua.DataValue{Value: "many"}), nil)

		_, err := newTestService(conn).MaxMonitoredItemsPerCall(context.Background())
		assert.Equal(t, opcua.StatusBadTypeMismatch, opcua.StatusOf(err))
	})

	t.Run("missing result", func(t *testing.T) {
		conn := &stubConn{}
		conn.On("Read", mock.Anything, mock.Anything).Return(&ua.ReadResponse{}, nil)

		_, err := newTestService(conn).MaxMonitoredItemsPerCall(context.Background())
		assert.Equal(t, opcua.StatusBadUnknownResponse, opcua.StatusOf(err))
	})
}

func publishResponse(subID, seq uint32, data ...ua.ExtensionObject) *ua.PublishResponse {
	return &ua.PublishResponse{
		SubscriptionID: subID,
		NotificationMessage: ua.NotificationMessage{
			SequenceNumber:   seq,
			PublishTime:      time.Now(),
			NotificationData: data,
		},
	}
}

func publishRequestAt(conn *stubConn, i int) *ua.PublishRequest {
	var calls []mock.Call
	for _, c := range conn.Calls {
		if c.Method == "Publish" {
			calls = append(calls, c)
		}
	}
	return calls[i].Arguments.Get(1).(*ua.PublishRequest)
}

func TestRunRoutesNotificationsAndAcknowledges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn := &stubConn{}
	conn.On("Publish", mock.Anything, mock.Anything).Return(publishResponse(7, 5,
		ua.DataChangeNotification{MonitoredItems: []ua.MonitoredItemNotification{
			{ClientHandle: 1, Value: ua.DataValue{Value: int32(42)}},
		}},
		&ua.EventNotificationList{Events: []ua.EventFieldList{
			{ClientHandle: 2, EventFields: []ua.Variant{"overheat", ua.ByteString("id")}},
		}},
	), nil).Once()
	conn.On("Publish", mock.Anything, mock.Anything).Return(publishResponse(8, 1,
		ua.DataChangeNotification{MonitoredItems: []ua.MonitoredItemNotification{{ClientHandle: 1}}},
	), nil).Once()
	conn.On("Publish", mock.Anything, mock.Anything).Return(nil, context.DeadlineExceeded).Once()
	conn.On("Publish", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		cancel()
	}).Return(nil, context.Canceled).Once()

	svc := newTestService(conn)
	h := &recordingHandler{}
	svc.SetNotificationHandler(7, h)

	err := svc.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	require.Len(t, h.changes, 1)
	assert.Equal(t, uint32(1), h.changes[0][0].ClientHandle)
	assert.Equal(t, int32(42), h.changes[0][0].Value.Value.Value)
	require.Len(t, h.events, 1)
	fields := h.events[0][0].EventFields
	assert.Equal(t, "overheat", fields[0].Value)
	assert.Equal(t, []byte("id"), fields[1].Value)

	assert.Empty(t, publishRequestAt(conn, 0).SubscriptionAcknowledgements)
	assert.Equal(t, []ua.SubscriptionAcknowledgement{{SubscriptionID: 7, SequenceNumber: 5}},
		publishRequestAt(conn, 1).SubscriptionAcknowledgements)

	// Messages of unknown subscriptions are acknowledged but not routed.
	// Acknowledgements of a failed request are sent again.
	want := []ua.SubscriptionAcknowledgement{{SubscriptionID: 8, SequenceNumber: 1}}
	assert.Equal(t, want, publishRequestAt(conn, 2).SubscriptionAcknowledgements)
	assert.Equal(t, want, publishRequestAt(conn, 3).SubscriptionAcknowledgements)
}

func TestRunIdlesWithoutSubscriptions(t *testing.T) {
	conn := &stubConn{}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := newTestService(conn).Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	conn.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestStatusChangeTimeoutDropsRoute(t *testing.T) {
	svc := newTestService(&stubConn{})
	h := &recordingHandler{}
	svc.SetNotificationHandler(7, h)

	svc.dispatch(7, time.Now(), []ua.ExtensionObject{
		ua.StatusChangeNotification{Status: ua.StatusCode(opcua.StatusBadTimeout)},
	})
	assert.Nil(t, svc.handler(7))
	assert.Equal(t, 0, svc.subscriptionCount())
}

func TestValueConversion(t *testing.T) {
	id := opcua.NewGUIDNodeID(3, [16]byte{1, 2, 3})
	assert.Equal(t, id, fromUAValue(toUAValue(id)))

	opaque := opcua.NewOpaqueNodeID(1, []byte{0xCA, 0xFE})
	assert.Equal(t, opaque, fromUAValue(toUAValue(opaque)))

	assert.Equal(t, ua.ByteString("ab"), toUAValue([]byte("ab")))
	assert.Equal(t, [][]byte{[]byte("x"), []byte("y")}, fromUAValue([]ua.ByteString{"x", "y"}))
	assert.Equal(t, opcua.StatusBadTimeout, fromUAValue(ua.StatusCode(opcua.StatusBadTimeout)))
	assert.Equal(t, opcua.LocalizedText{Locale: "en", Text: "hi"},
		fromUAValue(ua.LocalizedText{Locale: "en", Text: "hi"}))
	assert.Equal(t, float64(1.5), fromUAValue(float64(1.5)))

	dv := fromUADataValue(ua.DataValue{})
	assert.Nil(t, dv.Value)
}

func TestReadValue(t *testing.T) {
	conn := &stubConn{}
	conn.On("Read", mock.Anything, mock.MatchedBy(func(req *ua.ReadRequest) bool {
		return len(req.NodesToRead) == 1 &&
			req.NodesToRead[0].NodeID == ua.NewNodeIDNumeric(2, 1001) &&
			req.NodesToRead[0].IndexRange == "0:1"
	})).Return(&ua.ReadResponse{Results: []ua.DataValue{{Value: []int32{4, 5}}}}, nil)

	dv, err := newTestService(conn).ReadValue(context.Background(), opcua.ReadValueID{
		NodeID:      opcua.NewNumericNodeID(2, 1001),
		AttributeID: opcua.AttributeValue,
		IndexRange:  "0:1",
	})
	require.NoError(t, err)
	require.NotNil(t, dv.Value)
	assert.Equal(t, []int32{4, 5}, dv.Value.Value)
	assert.Equal(t, opcua.TypeInt32, dv.Value.Type)
}
