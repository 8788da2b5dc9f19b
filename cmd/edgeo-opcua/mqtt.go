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
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	opcua "github.com/edgeo-scada/opcua-managed"
)

// sample is the JSON document published for each data change.
type sample struct {
	Node            string      `json:"node"`
	Value           interface{} `json:"value"`
	Status          string      `json:"status"`
	SourceTimestamp time.Time   `json:"source_timestamp,omitempty"`
	ServerTimestamp time.Time   `json:"server_timestamp,omitempty"`
}

func newSample(node string, dv opcua.DataValue) sample {
	return sample{
		Node:            node,
		Value:           valueOf(dv),
		Status:          dv.StatusCode.String(),
		SourceTimestamp: dv.SourceTimestamp,
		ServerTimestamp: dv.ServerTimestamp,
	}
}

// mqttSink forwards data changes to an MQTT broker, one topic per node.
type mqttSink struct {
	client mqtt.Client
	topic  string
	qos    byte
	logger *slog.Logger
}

func newMQTTSink(broker, topic string, qos byte, logger *slog.Logger) (*mqttSink, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID("edgeo-opcua-" + uuid.NewString()).
		SetCleanSession(true).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetAutoReconnect(true)

	opts.OnConnect = func(mqtt.Client) {
		logger.Info("connected to mqtt broker", slog.String("broker", broker))
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", slog.String("error", err.Error()))
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(operationTimeout()) {
		return nil, fmt.Errorf("mqtt connect to %s timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return &mqttSink{client: client, topic: strings.TrimSuffix(topic, "/"), qos: qos, logger: logger}, nil
}

// topicFor maps a node id to a topic level. MQTT reserves '#' and '+'.
func (m *mqttSink) topicFor(node string) string {
	r := strings.NewReplacer("/", "_", "#", "_", "+", "_")
	return m.topic + "/" + r.Replace(node)
}

func (m *mqttSink) publish(node string, dv opcua.DataValue) {
	payload, err := json.Marshal(newSample(node, dv))
	if err != nil {
		m.logger.Warn("mqtt payload", slog.String("node", node), slog.String("error", err.Error()))
		return
	}
	token := m.client.Publish(m.topicFor(node), m.qos, false, payload)
	go func() {
		if token.Wait() && token.Error() != nil {
			m.logger.Warn("mqtt publish failed", slog.String("node", node), slog.String("error", token.Error().Error()))
		}
	}()
}

func (m *mqttSink) close() {
	m.client.Disconnect(250)
}
