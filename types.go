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

// Package opcua holds the OPC UA value types shared by the managed
// subscription runtime: node identifiers, data values, monitoring
// parameters and the status codes returned by subscription services.
package opcua

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NodeIDType represents the type of a NodeID.
type NodeIDType uint8

// NodeID types.
const (
	NodeIDTypeNumeric NodeIDType = iota
	NodeIDTypeString
	NodeIDTypeGUID
	NodeIDTypeOpaque
)

// NodeID represents an OPC UA NodeID.
type NodeID struct {
	Type      NodeIDType
	Namespace uint16
	Numeric   uint32
	StringID  string
	GUID      uuid.UUID
	Opaque    []byte
}

// NewNumericNodeID creates a new numeric NodeID.
func NewNumericNodeID(namespace uint16, id uint32) NodeID {
	return NodeID{Type: NodeIDTypeNumeric, Namespace: namespace, Numeric: id}
}

// NewStringNodeID creates a new string NodeID.
func NewStringNodeID(namespace uint16, id string) NodeID {
	return NodeID{Type: NodeIDTypeString, Namespace: namespace, StringID: id}
}

// NewGUIDNodeID creates a new GUID NodeID.
func NewGUIDNodeID(namespace uint16, id uuid.UUID) NodeID {
	return NodeID{Type: NodeIDTypeGUID, Namespace: namespace, GUID: id}
}

// NewOpaqueNodeID creates a new opaque NodeID.
func NewOpaqueNodeID(namespace uint16, id []byte) NodeID {
	return NodeID{Type: NodeIDTypeOpaque, Namespace: namespace, Opaque: id}
}

// IsZero reports whether n is the null node id ns=0;i=0.
func (n NodeID) IsZero() bool {
	return n.Type == NodeIDTypeNumeric && n.Namespace == 0 && n.Numeric == 0
}

// String formats the NodeID in the "ns=<n>;<t>=<id>" notation.
func (n NodeID) String() string {
	var id string
	switch n.Type {
	case NodeIDTypeNumeric:
		id = "i=" + strconv.FormatUint(uint64(n.Numeric), 10)
	case NodeIDTypeString:
		id = "s=" + n.StringID
	case NodeIDTypeGUID:
		id = "g=" + n.GUID.String()
	case NodeIDTypeOpaque:
		id = "b=" + hex.EncodeToString(n.Opaque)
	default:
		return fmt.Sprintf("<unknown node id type %d>", n.Type)
	}
	if n.Namespace == 0 {
		return id
	}
	return fmt.Sprintf("ns=%d;%s", n.Namespace, id)
}

// ParseNodeID parses the "ns=<n>;<t>=<id>" notation. An identifier without
// a type prefix is read as numeric when it parses as one, else as a string.
func ParseNodeID(s string) (NodeID, error) {
	ns := uint16(0)
	identifier := s

	if strings.HasPrefix(s, "ns=") {
		parts := strings.SplitN(s, ";", 2)
		if len(parts) != 2 {
			return NodeID{}, fmt.Errorf("%w: %s", ErrInvalidNodeID, s)
		}
		v, err := strconv.ParseUint(strings.TrimPrefix(parts[0], "ns="), 10, 16)
		if err != nil {
			return NodeID{}, fmt.Errorf("%w: namespace in %s", ErrInvalidNodeID, s)
		}
		ns = uint16(v)
		identifier = parts[1]
	}

	switch {
	case strings.HasPrefix(identifier, "i="):
		id, err := strconv.ParseUint(identifier[2:], 10, 32)
		if err != nil {
			return NodeID{}, fmt.Errorf("%w: numeric id in %s", ErrInvalidNodeID, s)
		}
		return NewNumericNodeID(ns, uint32(id)), nil
	case strings.HasPrefix(identifier, "s="):
		return NewStringNodeID(ns, identifier[2:]), nil
	case strings.HasPrefix(identifier, "g="):
		id, err := uuid.Parse(identifier[2:])
		if err != nil {
			return NodeID{}, fmt.Errorf("%w: guid in %s", ErrInvalidNodeID, s)
		}
		return NewGUIDNodeID(ns, id), nil
	case strings.HasPrefix(identifier, "b="):
		b, err := hex.DecodeString(identifier[2:])
		if err != nil {
			return NodeID{}, fmt.Errorf("%w: opaque id in %s", ErrInvalidNodeID, s)
		}
		return NewOpaqueNodeID(ns, b), nil
	}

	if id, err := strconv.ParseUint(identifier, 10, 32); err == nil {
		return NewNumericNodeID(ns, uint32(id)), nil
	}
	return NewStringNodeID(ns, identifier), nil
}

// ServiceID represents an OPC UA service identifier.
type ServiceID uint32

// Subscription-related service IDs.
const (
	ServiceRead                 ServiceID = 631
	ServiceCreateMonitoredItems ServiceID = 751
	ServiceModifyMonitoredItems ServiceID = 763
	ServiceSetMonitoringMode    ServiceID = 769
	ServiceDeleteMonitoredItems ServiceID = 781
	ServiceCreateSubscription   ServiceID = 787
	ServiceModifySubscription   ServiceID = 793
	ServiceSetPublishingMode    ServiceID = 799
	ServicePublish              ServiceID = 826
	ServiceDeleteSubscriptions  ServiceID = 847
)

// String returns the string representation of a ServiceID.
func (s ServiceID) String() string {
	switch s {
	case ServiceRead:
		return "Read"
	case ServiceCreateMonitoredItems:
		return "CreateMonitoredItems"
	case ServiceModifyMonitoredItems:
		return "ModifyMonitoredItems"
	case ServiceSetMonitoringMode:
		return "SetMonitoringMode"
	case ServiceDeleteMonitoredItems:
		return "DeleteMonitoredItems"
	case ServiceCreateSubscription:
		return "CreateSubscription"
	case ServiceModifySubscription:
		return "ModifySubscription"
	case ServiceSetPublishingMode:
		return "SetPublishingMode"
	case ServicePublish:
		return "Publish"
	case ServiceDeleteSubscriptions:
		return "DeleteSubscriptions"
	default:
		return "Unknown"
	}
}

// AttributeID represents an OPC UA attribute identifier.
type AttributeID uint32

// OPC UA Attribute IDs used by monitored items.
const (
	AttributeNodeID         AttributeID = 1
	AttributeBrowseName     AttributeID = 3
	AttributeDisplayName    AttributeID = 4
	AttributeEventNotifier  AttributeID = 12
	AttributeValue          AttributeID = 13
	AttributeDataType       AttributeID = 14
	AttributeValueRank      AttributeID = 15
	AttributeArrayDimensions AttributeID = 16
)

// String returns the string representation of an AttributeID.
func (a AttributeID) String() string {
	switch a {
	case AttributeNodeID:
		return "NodeId"
	case AttributeBrowseName:
		return "BrowseName"
	case AttributeDisplayName:
		return "DisplayName"
	case AttributeEventNotifier:
		return "EventNotifier"
	case AttributeValue:
		return "Value"
	case AttributeDataType:
		return "DataType"
	case AttributeValueRank:
		return "ValueRank"
	case AttributeArrayDimensions:
		return "ArrayDimensions"
	default:
		return fmt.Sprintf("Attribute(%d)", uint32(a))
	}
}

// TimestampsToReturn specifies which timestamps to return.
type TimestampsToReturn uint32

// Timestamps to return options.
const (
	TimestampsToReturnSource  TimestampsToReturn = 0
	TimestampsToReturnServer  TimestampsToReturn = 1
	TimestampsToReturnBoth    TimestampsToReturn = 2
	TimestampsToReturnNeither TimestampsToReturn = 3
)

func (t TimestampsToReturn) String() string {
	switch t {
	case TimestampsToReturnSource:
		return "Source"
	case TimestampsToReturnServer:
		return "Server"
	case TimestampsToReturnBoth:
		return "Both"
	case TimestampsToReturnNeither:
		return "Neither"
	default:
		return fmt.Sprintf("TimestampsToReturn(%d)", uint32(t))
	}
}

// MonitoringMode represents the monitoring mode for a monitored item.
type MonitoringMode uint32

// Monitoring modes.
const (
	MonitoringModeDisabled  MonitoringMode = 0
	MonitoringModeSampling  MonitoringMode = 1
	MonitoringModeReporting MonitoringMode = 2
)

func (m MonitoringMode) String() string {
	switch m {
	case MonitoringModeDisabled:
		return "Disabled"
	case MonitoringModeSampling:
		return "Sampling"
	case MonitoringModeReporting:
		return "Reporting"
	default:
		return fmt.Sprintf("MonitoringMode(%d)", uint32(m))
	}
}

// StatusCode represents an OPC UA StatusCode.
type StatusCode uint32

// DataValue represents an OPC UA DataValue.
type DataValue struct {
	Value             *Variant
	StatusCode        StatusCode
	SourceTimestamp   time.Time
	ServerTimestamp   time.Time
	SourcePicoseconds uint16
	ServerPicoseconds uint16
}

// Variant represents an OPC UA Variant.
type Variant struct {
	Type  TypeID
	Value interface{}
}

// NewVariant wraps v and infers its built-in type from the Go type.
// Slices carry the type of their elements.
func NewVariant(v interface{}) *Variant {
	return &Variant{Type: typeOf(v), Value: v}
}

func typeOf(v interface{}) TypeID {
	switch v.(type) {
	case nil:
		return TypeNull
	case bool, []bool:
		return TypeBoolean
	case int8, []int8:
		return TypeSByte
	case uint8:
		return TypeByte
	case int16, []int16:
		return TypeInt16
	case uint16, []uint16:
		return TypeUInt16
	case int32, []int32:
		return TypeInt32
	case uint32, []uint32:
		return TypeUInt32
	case int64, []int64:
		return TypeInt64
	case uint64, []uint64:
		return TypeUInt64
	case float32, []float32:
		return TypeFloat
	case float64, []float64:
		return TypeDouble
	case string, []string:
		return TypeString
	case time.Time, []time.Time:
		return TypeDateTime
	case uuid.UUID, []uuid.UUID:
		return TypeGUID
	case []byte, [][]byte:
		return TypeByteString
	case NodeID, []NodeID:
		return TypeNodeID
	case StatusCode, []StatusCode:
		return TypeStatusCode
	case QualifiedName, []QualifiedName:
		return TypeQualifiedName
	case LocalizedText, []LocalizedText:
		return TypeLocalizedText
	case []interface{}:
		return TypeVariant
	default:
		return TypeExtensionObject
	}
}

// TypeID represents an OPC UA built-in type.
type TypeID uint8

// OPC UA Built-in Types.
const (
	TypeNull            TypeID = 0
	TypeBoolean         TypeID = 1
	TypeSByte           TypeID = 2
	TypeByte            TypeID = 3
	TypeInt16           TypeID = 4
	TypeUInt16          TypeID = 5
	TypeInt32           TypeID = 6
	TypeUInt32          TypeID = 7
	TypeInt64           TypeID = 8
	TypeUInt64          TypeID = 9
	TypeFloat           TypeID = 10
	TypeDouble          TypeID = 11
	TypeString          TypeID = 12
	TypeDateTime        TypeID = 13
	TypeGUID            TypeID = 14
	TypeByteString      TypeID = 15
	TypeXMLElement      TypeID = 16
	TypeNodeID          TypeID = 17
	TypeExpandedNodeID  TypeID = 18
	TypeStatusCode      TypeID = 19
	TypeQualifiedName   TypeID = 20
	TypeLocalizedText   TypeID = 21
	TypeExtensionObject TypeID = 22
	TypeDataValue       TypeID = 23
	TypeVariant         TypeID = 24
	TypeDiagnosticInfo  TypeID = 25
)

// QualifiedName represents an OPC UA QualifiedName.
type QualifiedName struct {
	NamespaceIndex uint16
	Name           string
}

// LocalizedText represents an OPC UA LocalizedText.
type LocalizedText struct {
	Locale string
	Text   string
}

// ReadValueID identifies the node attribute a monitored item samples.
type ReadValueID struct {
	NodeID       NodeID
	AttributeID  AttributeID
	IndexRange   string
	DataEncoding QualifiedName
}

// SimpleAttributeOperand selects an event field by browse path.
type SimpleAttributeOperand struct {
	TypeDefinitionID NodeID
	BrowsePath       []QualifiedName
	AttributeID      AttributeID
	IndexRange       string
}

// EventFilter selects the fields reported for each event. Where clauses
// are not evaluated client side and are passed through as is.
type EventFilter struct {
	SelectClauses []SimpleAttributeOperand
	WhereClause   interface{}
}

// MonitoringParameters contains monitoring parameters.
type MonitoringParameters struct {
	ClientHandle     uint32
	SamplingInterval float64
	Filter           interface{}
	QueueSize        uint32
	DiscardOldest    bool
}

// MonitoredItemCreateRequest describes a monitored item to create.
type MonitoredItemCreateRequest struct {
	ItemToMonitor       ReadValueID
	MonitoringMode      MonitoringMode
	RequestedParameters MonitoringParameters
}

// MonitoredItemCreateResult contains the result of creating a monitored item.
type MonitoredItemCreateResult struct {
	StatusCode              StatusCode
	MonitoredItemID         uint32
	RevisedSamplingInterval float64
	RevisedQueueSize        uint32
	FilterResult            interface{}
}

// MonitoredItemModifyRequest describes a monitored item to modify.
type MonitoredItemModifyRequest struct {
	MonitoredItemID     uint32
	RequestedParameters MonitoringParameters
}

// MonitoredItemModifyResult contains the result of modifying a monitored item.
type MonitoredItemModifyResult struct {
	StatusCode              StatusCode
	RevisedSamplingInterval float64
	RevisedQueueSize        uint32
	FilterResult            interface{}
}

// MonitoredItemNotification is one data change reported for a client handle.
type MonitoredItemNotification struct {
	ClientHandle uint32
	Value        DataValue
}

// EventFieldList is one event reported for a client handle.
type EventFieldList struct {
	ClientHandle uint32
	EventFields  []Variant
}

// SubscriptionParameters are the requested subscription settings.
type SubscriptionParameters struct {
	PublishingInterval         float64
	LifetimeCount              uint32
	MaxKeepAliveCount          uint32
	MaxNotificationsPerPublish uint32
	PublishingEnabled          bool
	Priority                   uint8
}

// CreateSubscriptionResponse contains the response to a CreateSubscription request.
type CreateSubscriptionResponse struct {
	SubscriptionID            uint32
	RevisedPublishingInterval float64
	RevisedLifetimeCount      uint32
	RevisedMaxKeepAliveCount  uint32
}

// ModifySubscriptionResponse contains the response to a ModifySubscription request.
type ModifySubscriptionResponse struct {
	RevisedPublishingInterval float64
	RevisedLifetimeCount      uint32
	RevisedMaxKeepAliveCount  uint32
}
