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

package uaclient

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/awcullen/opcua/ua"

	opcua "github.com/edgeo-scada/opcua-managed"
)

// Run issues publish requests until ctx is done and routes each
// notification message to the handler of its subscription. Messages are
// handled one at a time; the next request is sent only after the
// handler returns. Run returns ctx.Err().
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("publish loop started")
	defer s.logger.Info("publish loop stopped")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.subscriptionCount() == 0 {
			if err := sleep(ctx, s.opts.idleDelay); err != nil {
				return err
			}
			continue
		}

		err := s.publish(ctx)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch opcua.StatusOf(err) {
		case opcua.StatusBadNoSubscription:
			err = sleep(ctx, s.opts.idleDelay)
		case opcua.StatusBadTimeout:
			s.logger.Debug("publish timed out")
			continue
		default:
			s.logger.Warn("publish failed", slog.String("error", err.Error()))
			err = sleep(ctx, s.opts.retryDelay)
		}
		if err != nil {
			return err
		}
	}
}

func (s *Service) publish(ctx context.Context) error {
	acks := s.takeAcks()
	res, err := s.conn.Publish(ctx, &ua.PublishRequest{
		RequestHeader: ua.RequestHeader{
			TimeoutHint: uint32(s.opts.publishTimeout / time.Millisecond),
		},
		SubscriptionAcknowledgements: acks,
	})
	if err != nil {
		s.requeueAcks(acks)
		return toError(opcua.ServicePublish, err)
	}
	if err := checkHeader(opcua.ServicePublish, res.ResponseHeader); err != nil {
		s.requeueAcks(acks)
		return err
	}
	for i, r := range res.Results {
		if sc := opcua.StatusCode(r); sc.IsBad() && i < len(acks) {
			s.logger.Debug("acknowledgement rejected",
				slog.Uint64("subscription_id", uint64(acks[i].SubscriptionID)),
				slog.Uint64("sequence_number", uint64(acks[i].SequenceNumber)),
				slog.String("status", sc.String()))
		}
	}

	msg := res.NotificationMessage
	if len(msg.NotificationData) > 0 {
		s.queueAck(res.SubscriptionID, msg.SequenceNumber)
	}
	s.dispatch(res.SubscriptionID, msg.PublishTime, msg.NotificationData)
	return nil
}

func (s *Service) dispatch(subscriptionID uint32, publishTime time.Time, data []ua.ExtensionObject) {
	if len(data) == 0 {
		return
	}
	h := s.handler(subscriptionID)
	if h == nil {
		s.logger.Debug("notification for unknown subscription",
			slog.Uint64("subscription_id", uint64(subscriptionID)))
		return
	}
	for _, d := range data {
		switch n := d.(type) {
		case ua.DataChangeNotification:
			h.OnDataChange(publishTime, fromUANotifications(n.MonitoredItems))
		case *ua.DataChangeNotification:
			h.OnDataChange(publishTime, fromUANotifications(n.MonitoredItems))
		case ua.EventNotificationList:
			h.OnEvents(publishTime, fromUAEvents(n.Events))
		case *ua.EventNotificationList:
			h.OnEvents(publishTime, fromUAEvents(n.Events))
		case ua.StatusChangeNotification:
			s.statusChange(subscriptionID, opcua.StatusCode(n.Status))
		case *ua.StatusChangeNotification:
			s.statusChange(subscriptionID, opcua.StatusCode(n.Status))
		default:
			s.logger.Debug("unsupported notification",
				slog.Uint64("subscription_id", uint64(subscriptionID)),
				slog.String("type", fmt.Sprintf("%T", d)))
		}
	}
}

// statusChange drops the route of a subscription the server has closed.
func (s *Service) statusChange(subscriptionID uint32, status opcua.StatusCode) {
	s.logger.Warn("subscription status changed",
		slog.Uint64("subscription_id", uint64(subscriptionID)),
		slog.String("status", status.String()))
	if status == opcua.StatusBadTimeout {
		s.SetNotificationHandler(subscriptionID, nil)
	}
}

func (s *Service) queueAck(subscriptionID, seq uint32) {
	s.ackMu.Lock()
	s.acks = append(s.acks, ua.SubscriptionAcknowledgement{
		SubscriptionID: subscriptionID,
		SequenceNumber: seq,
	})
	s.ackMu.Unlock()
}

func (s *Service) takeAcks() []ua.SubscriptionAcknowledgement {
	s.ackMu.Lock()
	defer s.ackMu.Unlock()
	acks := s.acks
	s.acks = nil
	return acks
}

func (s *Service) requeueAcks(acks []ua.SubscriptionAcknowledgement) {
	if len(acks) == 0 {
		return
	}
	s.ackMu.Lock()
	s.acks = append(acks, s.acks...)
	s.ackMu.Unlock()
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
