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

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	opcua "github.com/edgeo-scada/opcua-managed"
	"github.com/edgeo-scada/opcua-managed/managed"
	"github.com/edgeo-scada/opcua-managed/numrange"
	"github.com/edgeo-scada/opcua-managed/uaclient"
)

var subscribeCmd = &cobra.Command{
	Use:   "subscribe <node-id>...",
	Short: "Subscribe to data changes on OPC UA nodes",
	Long: `Subscribe to data changes on OPC UA nodes and print updates.

Examples:
  edgeo-opcua subscribe -e opc.tcp://localhost:4840 "ns=2;i=1"
  edgeo-opcua subscribe -e opc.tcp://localhost:4840 "ns=2;s=Temperature" -i 1000
  edgeo-opcua subscribe "i=2258" "ns=2;s=Array" --index-range 0:2 --sampling 100
  edgeo-opcua subscribe "ns=2;s=Temperature" --mqtt-broker tcp://localhost:1883 --mqtt-topic plant/opcua
  edgeo-opcua subscribe "ns=2;s=Temperature" --metrics-addr :9102`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSubscribe,
}

var (
	publishInterval float64
	sampleInterval  float64
	queueSize       uint32
	indexRange      string
	mqttBroker      string
	mqttTopic       string
	mqttQoS         int
	metricsAddr     string
)

func init() {
	subscribeCmd.Flags().Float64VarP(&publishInterval, "interval", "i", 1000, "Publishing interval in milliseconds")
	subscribeCmd.Flags().Float64Var(&sampleInterval, "sampling", 250, "Sampling interval in milliseconds")
	subscribeCmd.Flags().Uint32Var(&queueSize, "queue-size", 10, "Server side queue size per item")
	subscribeCmd.Flags().StringVar(&indexRange, "index-range", "", "NumericRange applied to each received value")
	subscribeCmd.Flags().StringVar(&mqttBroker, "mqtt-broker", "", "Forward data changes to this MQTT broker")
	subscribeCmd.Flags().StringVar(&mqttTopic, "mqtt-topic", "opcua", "MQTT topic prefix")
	subscribeCmd.Flags().IntVar(&mqttQoS, "mqtt-qos", 0, "MQTT QoS (0, 1, 2)")
	subscribeCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
}

func runSubscribe(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	targets, err := parseNodeIDs(args)
	if err != nil {
		return err
	}
	var rng numrange.NumericRange
	if indexRange != "" {
		if rng, err = numrange.Parse(indexRange); err != nil {
			return fmt.Errorf("invalid index range %q: %w", indexRange, err)
		}
	}
	if mqttQoS < 0 || mqttQoS > 2 {
		return fmt.Errorf("invalid mqtt qos: %d", mqttQoS)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	svc := uaclient.New(conn, uaclient.WithLogger(logger))
	metrics := opcua.NewSubscriptionMetrics()

	sub, err := managed.NewSubscription(ctx, svc,
		managed.WithPublishingInterval(publishInterval),
		managed.WithDefaultQueueSize(queueSize),
		managed.WithLogger(logger),
		managed.WithMetrics(metrics),
	)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), operationTimeout())
		defer cancel()
		if err := sub.Delete(ctx); err != nil {
			logger.Warn("subscription delete failed", slog.String("error", err.Error()))
		}
	}()

	var sink *mqttSink
	if mqttBroker != "" {
		if sink, err = newMQTTSink(mqttBroker, mqttTopic, byte(mqttQoS), logger); err != nil {
			return err
		}
		defer sink.close()
	}

	if !jsonOutput() {
		fmt.Printf("Subscription created (ID: %d, Interval: %.0fms)\n", sub.ID(), sub.PublishingInterval())
	}

	items, err := sub.CreateDataItems(ctx, targets, sampleInterval)
	if err != nil {
		return fmt.Errorf("failed to create monitored items: %w", err)
	}

	names := make(map[*managed.DataItem]string, len(items))
	created := 0
	for i, item := range items {
		names[item] = args[i]
		if item.StatusCode().IsBad() {
			logger.Warn("monitored item rejected", slog.String("node", args[i]), slog.String("status", item.StatusCode().String()))
			continue
		}
		created++
		if !jsonOutput() {
			fmt.Printf("  [%d] %s (ID: %d, Interval: %.0fms, Queue: %d)\n",
				i+1, args[i], item.MonitoredItemID(), item.SamplingInterval(), item.QueueSize())
		}
	}
	if created == 0 {
		return errors.New("no monitored item was created")
	}
	if !jsonOutput() {
		fmt.Println("\nWaiting for data changes (Ctrl+C to stop)...")
	}

	sub.AddDataListener(managed.DataListenerFunc(func(items []*managed.DataItem, values []opcua.DataValue) {
		for i, item := range items {
			dv := values[i]
			if indexRange != "" && dv.Value != nil {
				if v, err := numrange.ReadVariant(dv.Value, rng); err != nil {
					dv.Value, dv.StatusCode = nil, opcua.StatusOf(err)
				} else {
					dv.Value = v
				}
			}
			printChange(names[item], dv)
			if sink != nil {
				sink.publish(names[item], dv)
			}
		}
	}))

	var srv *http.Server
	if metricsAddr != "" {
		if srv, err = newMetricsServer(metricsAddr, metrics, sub.ID()); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.Run(ctx)
	})
	if srv != nil {
		g.Go(func() error {
			logger.Info("serving metrics", slog.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if !jsonOutput() {
		fmt.Println("\nReceived interrupt, stopping...")
	}
	return nil
}

// newMetricsServer registers m under the subscription id and returns an
// unstarted server exposing it on /metrics.
func newMetricsServer(addr string, m *opcua.SubscriptionMetrics, subID uint32) (*http.Server, error) {
	reg := prometheus.NewRegistry()
	if err := m.Register(reg, prometheus.Labels{"subscription_id": strconv.FormatUint(uint64(subID), 10)}); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}, nil
}

func printChange(node string, dv opcua.DataValue) {
	if jsonOutput() {
		printJSON(newSample(node, dv))
		return
	}
	ts := time.Now().Format("15:04:05.000")
	if dv.StatusCode.IsBad() {
		fmt.Printf("[%s] %s <%s>\n", ts, node, dv.StatusCode)
		return
	}
	fmt.Printf("[%s] %s = %v\n", ts, node, valueOf(dv))
}
