package telemetry

import (
	"context"
	"time"
)

// Record is the telemetry summary of one sample. It is built once, handed
// to a Sink and never modified afterwards.
type Record struct {
	ID            string            `json:"id" cbor:"1,keyasint"`
	Name          string            `json:"name" cbor:"2,keyasint"`
	OperationName string            `json:"operationName" cbor:"3,keyasint"`
	Timestamp     time.Time         `json:"timestamp" cbor:"4,keyasint"`
	Duration      time.Duration     `json:"duration" cbor:"5,keyasint"`
	ResponseCode  string            `json:"responseCode" cbor:"6,keyasint"`
	Success       bool              `json:"success" cbor:"7,keyasint"`
	URL           string            `json:"url,omitempty" cbor:"8,keyasint,omitempty"`
	Properties    map[string]string `json:"properties" cbor:"9,keyasint"`
}

// Sink consumes records. Implementations are safe for concurrent Submit and
// own their batching, retry and backpressure.
type Sink interface {
	// Submit queues rec for delivery. An error means the sink refused the
	// record outright, e.g. because it is closed.
	Submit(rec *Record) error
	// Flush blocks until every record submitted so far has been handed off
	// or has failed.
	Flush(ctx context.Context) error
}
