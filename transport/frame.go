// Package transport defines the point-to-point messaging contract the
// consensus module speaks over, plus the frame envelope and its codecs.
// Accord ships no network implementation of its own — transports are
// external collaborators — but the transport/memory package provides an
// in-process network with injectable delays, drops, and partitions for
// simulation tests.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/xraph/accord/id"
)

var (
	// ErrTransport wraps transport-level failures.
	ErrTransport = errors.New("transport: send failed")

	// ErrPeerUnreachable is returned when the destination node cannot be
	// reached (partitioned, closed, or unknown).
	ErrPeerUnreachable = errors.New("transport: peer unreachable")
)

// Method names the operation a request frame carries.
type Method string

// Well-known methods.
const (
	MethodRequestVote   Method = "consensus.request_vote"
	MethodAppendEntries Method = "consensus.append_entries"
	MethodHeartbeat     Method = "membership.heartbeat"
)

// Frame is the message envelope. Every message exchanged between nodes is
// a Frame. ID and From are carried as plain strings so every codec can
// round-trip the envelope without knowing about TypeID internals.
type Frame struct {
	// ID uniquely identifies this frame.
	ID string `json:"id" msgpack:"id"`

	// Method names the operation for request frames.
	Method Method `json:"method,omitempty" msgpack:"method,omitempty"`

	// From identifies the sending node (TypeID string form).
	From string `json:"from" msgpack:"from"`

	// Data carries the method-specific payload.
	Data json.RawMessage `json:"data,omitempty" msgpack:"data,omitempty"`

	// Error carries error details for error frames.
	Error *ErrorDetail `json:"error,omitempty" msgpack:"error,omitempty"`

	// Timestamp records when this frame was created.
	Timestamp time.Time `json:"ts" msgpack:"ts"`
}

// ErrorDetail describes an error in a response frame.
type ErrorDetail struct {
	Code    int    `json:"code" msgpack:"code"`
	Message string `json:"message" msgpack:"message"`
}

// NewRequest builds a request frame with a fresh frame ID and the payload
// marshalled as JSON.
func NewRequest(from id.NodeID, method Method, payload any) (*Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Frame{
		ID:        id.NewFrameID().String(),
		Method:    method,
		From:      from.String(),
		Data:      data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NewResponse builds a response frame answering req.
func NewResponse(from id.NodeID, req *Frame, payload any) (*Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Frame{
		ID:        req.ID,
		Method:    req.Method,
		From:      from.String(),
		Data:      data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Unmarshal decodes the frame's payload into v.
func (f *Frame) Unmarshal(v any) error {
	return json.Unmarshal(f.Data, v)
}

// FromNode parses the sending node's ID.
func (f *Frame) FromNode() (id.NodeID, error) {
	return id.ParseNodeID(f.From)
}

// Handler processes an inbound request frame and returns the response
// frame. Returning an error produces an error frame at the sender.
type Handler func(ctx context.Context, req *Frame) (*Frame, error)

// Transport is the async point-to-point send/receive abstraction consensus
// requires. Implementations must honor the context deadline: a timed-out
// Send is indistinguishable from a failed one to the caller.
type Transport interface {
	// Send delivers a frame to the destination node and waits for the
	// response or ctx expiry.
	Send(ctx context.Context, to id.NodeID, f *Frame) (*Frame, error)

	// Handle registers the handler invoked for inbound request frames.
	// Must be called before the transport starts delivering.
	Handle(h Handler)

	// Close releases transport resources.
	Close() error
}
