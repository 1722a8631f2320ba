// Package transport defines the boundary between the MIDI-CI/PE protocol core and
// whatever physical or virtual MIDI port layer delivers bytes on a given platform. The
// core never imports a concrete port implementation; it only depends on this interface.
package transport

import (
	"context"
	"time"
)

// Endpoint is a snapshot of one named source or destination port.
type Endpoint struct {
	ID     string
	Name   string
	Online bool
}

// InboundMessage is one set of bytes delivered from a source endpoint, lossless and
// ordered per source.
type InboundMessage struct {
	Bytes     []byte
	SourceID  string
	Timestamp time.Time
}

// SetupChangeEvent signals that the transport's source/destination topology changed and
// callers should re-run discovery.
type SetupChangeEvent struct {
	Timestamp time.Time
}

// Transport is the boundary every core component (CI tracker, PE engine, subscription
// supervisor) sends through and receives from. Implementations must support concurrent
// callers: Send may be called concurrently by multiple components.
type Transport interface {
	// Send delivers bytes to destinationID without blocking on device acknowledgement.
	Send(ctx context.Context, destinationID string, bytes []byte) error

	// Inbound returns a channel of messages arriving from any source. The channel is
	// closed when the transport is closed; callers fan out from this single stream.
	Inbound() <-chan InboundMessage

	// Destinations returns a snapshot of currently known destination endpoints.
	Destinations() []Endpoint

	// Sources returns a snapshot of currently known source endpoints.
	Sources() []Endpoint

	// FindMatchingDestination returns the destination endpoint ID the platform considers
	// paired with sourceID (the same physical device grouping), or "", false if none.
	FindMatchingDestination(sourceID string) (string, bool)

	// SetupChanged returns a channel that receives an event whenever the transport's
	// topology changes, signalling callers to rediscover.
	SetupChanged() <-chan SetupChangeEvent

	// Close releases the transport. Idempotent.
	Close() error
}
