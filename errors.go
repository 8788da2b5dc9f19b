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

package opcua

import (
	"context"
	"errors"
	"fmt"
)

// StatusCode severity levels.
const (
	StatusSeverityGood      uint32 = 0x00000000
	StatusSeverityUncertain uint32 = 0x40000000
	StatusSeverityBad       uint32 = 0x80000000
	StatusSeverityMask      uint32 = 0xC0000000
)

// Status codes returned by subscription and monitored item services.
const (
	StatusGood                              StatusCode = 0x00000000
	StatusUncertain                         StatusCode = 0x40000000
	StatusBad                               StatusCode = 0x80000000
	StatusBadUnexpectedError                StatusCode = 0x80010000
	StatusBadInternalError                  StatusCode = 0x80020000
	StatusBadCommunicationError             StatusCode = 0x80050000
	StatusBadUnknownResponse                StatusCode = 0x80090000
	StatusBadTimeout                        StatusCode = 0x800A0000
	StatusBadServiceUnsupported             StatusCode = 0x800B0000
	StatusBadShutdown                       StatusCode = 0x800C0000
	StatusBadServerNotConnected             StatusCode = 0x800D0000
	StatusBadNothingToDo                    StatusCode = 0x800F0000
	StatusBadTooManyOperations              StatusCode = 0x80100000
	StatusBadSessionClosed                  StatusCode = 0x80260000
	StatusBadSubscriptionIdInvalid          StatusCode = 0x80280000
	StatusBadRequestCancelledByClient       StatusCode = 0x802C0000
	StatusBadNodeIdUnknown                  StatusCode = 0x80340000
	StatusBadWaitingForInitialData          StatusCode = 0x80320000
	StatusBadAttributeIdInvalid             StatusCode = 0x80350000
	StatusBadIndexRangeInvalid              StatusCode = 0x80360000
	StatusBadIndexRangeNoData               StatusCode = 0x80370000
	StatusBadNotReadable                    StatusCode = 0x803A0000
	StatusBadNotSupported                   StatusCode = 0x803D0000
	StatusBadMonitoringModeInvalid          StatusCode = 0x80410000
	StatusBadMonitoredItemIdInvalid         StatusCode = 0x80420000
	StatusBadMonitoredItemFilterInvalid     StatusCode = 0x80430000
	StatusBadMonitoredItemFilterUnsupported StatusCode = 0x80440000
	StatusBadFilterNotAllowed               StatusCode = 0x80450000
	StatusBadEventFilterInvalid             StatusCode = 0x80470000
	StatusBadTypeMismatch                   StatusCode = 0x80740000
	StatusBadTooManySubscriptions           StatusCode = 0x80770000
	StatusBadTooManyPublishRequests         StatusCode = 0x80780000
	StatusBadNoSubscription                 StatusCode = 0x80790000
	StatusBadSequenceNumberUnknown          StatusCode = 0x807A0000
	StatusBadMessageNotAvailable            StatusCode = 0x807B0000
	StatusBadNotConnected                   StatusCode = 0x808A0000
	StatusBadTooManyMonitoredItems          StatusCode = 0x80DB0000
)

// statusCodeInfo contains name and description for a status code.
type statusCodeInfo struct {
	name        string
	description string
}

var statusCodeMap = map[StatusCode]statusCodeInfo{
	StatusGood:                              {"Good", "The operation completed successfully"},
	StatusUncertain:                         {"Uncertain", "The operation completed however its outputs may not be usable"},
	StatusBad:                               {"Bad", "The operation failed"},
	StatusBadUnexpectedError:                {"BadUnexpectedError", "An unexpected error occurred"},
	StatusBadInternalError:                  {"BadInternalError", "An internal error occurred"},
	StatusBadCommunicationError:             {"BadCommunicationError", "A low level communication error occurred"},
	StatusBadUnknownResponse:                {"BadUnknownResponse", "An unrecognized response was received from the server"},
	StatusBadTimeout:                        {"BadTimeout", "The operation timed out"},
	StatusBadServiceUnsupported:             {"BadServiceUnsupported", "The server does not support the requested service"},
	StatusBadShutdown:                       {"BadShutdown", "The operation was cancelled because the application is shutting down"},
	StatusBadServerNotConnected:             {"BadServerNotConnected", "The operation could not complete because the client is not connected to the server"},
	StatusBadNothingToDo:                    {"BadNothingToDo", "No processing could be done because there was nothing to do"},
	StatusBadTooManyOperations:              {"BadTooManyOperations", "The request could not be processed because it specified too many operations"},
	StatusBadSessionClosed:                  {"BadSessionClosed", "The session was closed by the client"},
	StatusBadSubscriptionIdInvalid:          {"BadSubscriptionIdInvalid", "The subscription ID is not valid"},
	StatusBadRequestCancelledByClient:       {"BadRequestCancelledByClient", "The request was cancelled by the client"},
	StatusBadNodeIdUnknown:                  {"BadNodeIdUnknown", "The node ID refers to a node that does not exist in the server address space"},
	StatusBadWaitingForInitialData:          {"BadWaitingForInitialData", "Waiting for the server to obtain values from the underlying data source"},
	StatusBadAttributeIdInvalid:             {"BadAttributeIdInvalid", "The attribute is not supported for the specified Node"},
	StatusBadIndexRangeInvalid:              {"BadIndexRangeInvalid", "The syntax of the index range parameter is invalid"},
	StatusBadIndexRangeNoData:               {"BadIndexRangeNoData", "No data exists within the range of indexes specified"},
	StatusBadNotReadable:                    {"BadNotReadable", "The access level does not allow reading or subscribing to the Node"},
	StatusBadNotSupported:                   {"BadNotSupported", "The requested operation is not supported"},
	StatusBadMonitoringModeInvalid:          {"BadMonitoringModeInvalid", "The monitoring mode is invalid"},
	StatusBadMonitoredItemIdInvalid:         {"BadMonitoredItemIdInvalid", "The monitored item ID is not valid"},
	StatusBadMonitoredItemFilterInvalid:     {"BadMonitoredItemFilterInvalid", "The monitored item filter parameter is not valid"},
	StatusBadMonitoredItemFilterUnsupported: {"BadMonitoredItemFilterUnsupported", "The server does not support the requested monitored item filter"},
	StatusBadFilterNotAllowed:               {"BadFilterNotAllowed", "A monitoring filter cannot be used in combination with the attribute specified"},
	StatusBadEventFilterInvalid:             {"BadEventFilterInvalid", "The event filter is not valid"},
	StatusBadTypeMismatch:                   {"BadTypeMismatch", "The value supplied for the attribute is not of the same type as the attribute's value"},
	StatusBadTooManySubscriptions:           {"BadTooManySubscriptions", "The server has reached its maximum number of subscriptions"},
	StatusBadTooManyPublishRequests:         {"BadTooManyPublishRequests", "The server has reached the maximum number of queued publish requests"},
	StatusBadNoSubscription:                 {"BadNoSubscription", "There is no subscription available for this session"},
	StatusBadSequenceNumberUnknown:          {"BadSequenceNumberUnknown", "The sequence number is unknown to the server"},
	StatusBadMessageNotAvailable:            {"BadMessageNotAvailable", "The requested notification message is no longer available"},
	StatusBadNotConnected:                   {"BadNotConnected", "The variable should receive its value from another variable, but has never been configured to do so"},
	StatusBadTooManyMonitoredItems:          {"BadTooManyMonitoredItems", "The request could not be processed because there are too many monitored items in the subscription"},
}

// String returns the string representation of the status code.
func (s StatusCode) String() string {
	if info, ok := statusCodeMap[s]; ok {
		return info.name
	}
	return fmt.Sprintf("StatusCode(0x%08X)", uint32(s))
}

// Description returns a human-readable description of the status code.
func (s StatusCode) Description() string {
	if info, ok := statusCodeMap[s]; ok {
		return info.description
	}
	switch {
	case s.IsGood():
		return "The operation completed successfully"
	case s.IsUncertain():
		return "The operation completed with uncertain result"
	default:
		return "The operation failed"
	}
}

// Error returns a formatted error string with code, name, and description.
func (s StatusCode) Error() string {
	if info, ok := statusCodeMap[s]; ok {
		return fmt.Sprintf("%s (0x%08X): %s", info.name, uint32(s), info.description)
	}
	return fmt.Sprintf("StatusCode 0x%08X", uint32(s))
}

// IsGood returns true if the status code indicates success.
func (s StatusCode) IsGood() bool {
	return (uint32(s) & StatusSeverityMask) == StatusSeverityGood
}

// IsUncertain returns true if the status code indicates uncertainty.
func (s StatusCode) IsUncertain() bool {
	return (uint32(s) & StatusSeverityMask) == StatusSeverityUncertain
}

// IsBad returns true if the status code indicates failure.
func (s StatusCode) IsBad() bool {
	return (uint32(s) & StatusSeverityMask) == StatusSeverityBad
}

// OPCUAError is the error type returned by the synchronous API. It carries
// the status code of the failed service or operation.
type OPCUAError struct {
	ServiceID  ServiceID
	StatusCode StatusCode
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *OPCUAError) Error() string {
	prefix := "opcua: " + e.StatusCode.String()
	if e.ServiceID != 0 {
		prefix += " (" + e.ServiceID.String() + ")"
	}
	switch {
	case e.Message != "":
		return prefix + ": " + e.Message
	case e.Err != nil:
		return prefix + ": " + e.Err.Error()
	default:
		return prefix
	}
}

// Is checks if the error matches the target. Status codes and errors with
// the same status code match.
func (e *OPCUAError) Is(target error) bool {
	switch t := target.(type) {
	case *OPCUAError:
		return e.StatusCode == t.StatusCode
	case StatusCode:
		return e.StatusCode == t
	}
	return false
}

// Unwrap returns the underlying cause.
func (e *OPCUAError) Unwrap() error {
	return e.Err
}

// Common errors.
var (
	// ErrInvalidNodeID indicates an invalid NodeID was specified.
	ErrInvalidNodeID = errors.New("opcua: invalid node ID")

	// ErrSubscriptionClosed indicates the subscription was deleted.
	ErrSubscriptionClosed = errors.New("opcua: subscription closed")

	// ErrMonitoredItemNotFound indicates the monitored item is not tracked by the subscription.
	ErrMonitoredItemNotFound = errors.New("opcua: monitored item not found")

	// ErrItemNotCreated indicates the monitored item was never admitted by the server.
	ErrItemNotCreated = errors.New("opcua: monitored item not created")

	// ErrBatchExecuted indicates a batch was executed more than once.
	ErrBatchExecuted = errors.New("opcua: batch already executed")
)

// NewOPCUAError creates a new OPC UA error.
func NewOPCUAError(svc ServiceID, sc StatusCode, msg string) *OPCUAError {
	return &OPCUAError{
		ServiceID:  svc,
		StatusCode: sc,
		Message:    msg,
	}
}

// StatusOf extracts the status code carried by err. Context errors map to
// BadTimeout and BadRequestCancelledByClient, any other error to
// BadUnexpectedError. A nil error is Good.
func StatusOf(err error) StatusCode {
	if err == nil {
		return StatusGood
	}
	var opcuaErr *OPCUAError
	if errors.As(err, &opcuaErr) {
		return opcuaErr.StatusCode
	}
	var sc StatusCode
	if errors.As(err, &sc) {
		return sc
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return StatusBadTimeout
	case errors.Is(err, context.Canceled):
		return StatusBadRequestCancelledByClient
	}
	return StatusBadUnexpectedError
}

// WrapError converts err into an *OPCUAError for svc. Errors that are
// already *OPCUAError are returned unchanged.
func WrapError(svc ServiceID, err error) error {
	if err == nil {
		return nil
	}
	var opcuaErr *OPCUAError
	if errors.As(err, &opcuaErr) {
		return opcuaErr
	}
	return &OPCUAError{ServiceID: svc, StatusCode: StatusOf(err), Err: err}
}

// IsStatusCode checks if an error has a specific status code.
func IsStatusCode(err error, code StatusCode) bool {
	return err != nil && StatusOf(err) == code
}

// IsBadStatusCode checks if an error has a bad status code.
func IsBadStatusCode(err error) bool {
	return err != nil && StatusOf(err).IsBad()
}

// IsTimeout checks if the error is a timeout error.
func IsTimeout(err error) bool {
	return IsStatusCode(err, StatusBadTimeout)
}
