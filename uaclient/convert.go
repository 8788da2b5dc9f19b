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
	"github.com/awcullen/opcua/ua"

	opcua "github.com/edgeo-scada/opcua-managed"
)

func toUANodeID(n opcua.NodeID) ua.NodeID {
	switch n.Type {
	case opcua.NodeIDTypeString:
		return ua.NewNodeIDString(n.Namespace, n.StringID)
	case opcua.NodeIDTypeGUID:
		return ua.NewNodeIDGUID(n.Namespace, n.GUID)
	case opcua.NodeIDTypeOpaque:
		return ua.NewNodeIDOpaque(n.Namespace, ua.ByteString(n.Opaque))
	default:
		return ua.NewNodeIDNumeric(n.Namespace, n.Numeric)
	}
}

func fromUANodeID(n ua.NodeID) opcua.NodeID {
	switch id := n.(type) {
	case ua.NodeIDNumeric:
		return opcua.NewNumericNodeID(id.NamespaceIndex, id.ID)
	case ua.NodeIDString:
		return opcua.NewStringNodeID(id.NamespaceIndex, id.ID)
	case ua.NodeIDGUID:
		return opcua.NewGUIDNodeID(id.NamespaceIndex, id.ID)
	case ua.NodeIDOpaque:
		return opcua.NewOpaqueNodeID(id.NamespaceIndex, []byte(id.ID))
	}
	return opcua.NodeID{}
}

func toUAQualifiedName(q opcua.QualifiedName) ua.QualifiedName {
	return ua.QualifiedName{NamespaceIndex: q.NamespaceIndex, Name: q.Name}
}

func toUAReadValueID(r opcua.ReadValueID) ua.ReadValueID {
	return ua.ReadValueID{
		NodeID:       toUANodeID(r.NodeID),
		AttributeID:  uint32(r.AttributeID),
		IndexRange:   r.IndexRange,
		DataEncoding: toUAQualifiedName(r.DataEncoding),
	}
}

// toUAFilter converts the filters the managed API accepts. Filters already
// expressed in ua types pass through.
func toUAFilter(f interface{}) ua.ExtensionObject {
	switch v := f.(type) {
	case nil:
		return nil
	case *opcua.EventFilter:
		if v == nil {
			return nil
		}
		return toUAEventFilter(*v)
	case opcua.EventFilter:
		return toUAEventFilter(v)
	}
	return f
}

func toUAEventFilter(f opcua.EventFilter) ua.EventFilter {
	clauses := make([]ua.SimpleAttributeOperand, len(f.SelectClauses))
	for i, c := range f.SelectClauses {
		path := make([]ua.QualifiedName, len(c.BrowsePath))
		for j, q := range c.BrowsePath {
			path[j] = toUAQualifiedName(q)
		}
		typeDef := ua.NodeID(ua.ObjectTypeIDBaseEventType)
		if !c.TypeDefinitionID.IsZero() {
			typeDef = toUANodeID(c.TypeDefinitionID)
		}
		clauses[i] = ua.SimpleAttributeOperand{
			TypeDefinitionID: typeDef,
			BrowsePath:       path,
			AttributeID:      uint32(c.AttributeID),
			IndexRange:       c.IndexRange,
		}
	}
	out := ua.EventFilter{SelectClauses: clauses}
	if where, ok := f.WhereClause.(ua.ContentFilter); ok {
		out.WhereClause = where
	}
	return out
}

func toUAMonitoringParameters(p opcua.MonitoringParameters) ua.MonitoringParameters {
	return ua.MonitoringParameters{
		ClientHandle:     p.ClientHandle,
		SamplingInterval: p.SamplingInterval,
		Filter:           toUAFilter(p.Filter),
		QueueSize:        p.QueueSize,
		DiscardOldest:    p.DiscardOldest,
	}
}

// toUAValue converts a variant value to the representation the ua encoder
// expects. Values of types shared by both packages pass through.
func toUAValue(v interface{}) ua.Variant {
	switch x := v.(type) {
	case []byte:
		return ua.ByteString(x)
	case [][]byte:
		out := make([]ua.ByteString, len(x))
		for i, b := range x {
			out[i] = ua.ByteString(b)
		}
		return out
	case opcua.NodeID:
		return toUANodeID(x)
	case opcua.StatusCode:
		return ua.StatusCode(x)
	case opcua.QualifiedName:
		return toUAQualifiedName(x)
	case opcua.LocalizedText:
		return ua.LocalizedText{Text: x.Text, Locale: x.Locale}
	}
	return v
}

func fromUAValue(v ua.Variant) interface{} {
	switch x := v.(type) {
	case ua.ByteString:
		return []byte(x)
	case []ua.ByteString:
		out := make([][]byte, len(x))
		for i, b := range x {
			out[i] = []byte(b)
		}
		return out
	case ua.NodeIDNumeric, ua.NodeIDString, ua.NodeIDGUID, ua.NodeIDOpaque:
		return fromUANodeID(x.(ua.NodeID))
	case ua.StatusCode:
		return opcua.StatusCode(x)
	case ua.QualifiedName:
		return opcua.QualifiedName{NamespaceIndex: x.NamespaceIndex, Name: x.Name}
	case ua.LocalizedText:
		return opcua.LocalizedText{Text: x.Text, Locale: x.Locale}
	}
	return v
}

func fromUAVariant(v ua.Variant) opcua.Variant {
	return *opcua.NewVariant(fromUAValue(v))
}

func fromUADataValue(dv ua.DataValue) opcua.DataValue {
	out := opcua.DataValue{
		StatusCode:        opcua.StatusCode(dv.StatusCode),
		SourceTimestamp:   dv.SourceTimestamp,
		ServerTimestamp:   dv.ServerTimestamp,
		SourcePicoseconds: dv.SourcePicoseconds,
		ServerPicoseconds: dv.ServerPicoseconds,
	}
	if dv.Value != nil {
		out.Value = opcua.NewVariant(fromUAValue(dv.Value))
	}
	return out
}

func fromUANotifications(items []ua.MonitoredItemNotification) []opcua.MonitoredItemNotification {
	out := make([]opcua.MonitoredItemNotification, len(items))
	for i, n := range items {
		out[i] = opcua.MonitoredItemNotification{
			ClientHandle: n.ClientHandle,
			Value:        fromUADataValue(n.Value),
		}
	}
	return out
}

func fromUAEvents(events []ua.EventFieldList) []opcua.EventFieldList {
	out := make([]opcua.EventFieldList, len(events))
	for i, e := range events {
		fields := make([]opcua.Variant, len(e.EventFields))
		for j, f := range e.EventFields {
			fields[j] = fromUAVariant(f)
		}
		out[i] = opcua.EventFieldList{ClientHandle: e.ClientHandle, EventFields: fields}
	}
	return out
}
