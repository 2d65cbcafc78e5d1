// Package realtime broadcasts ticket-lifecycle and health-change events to streaming subscribers.
package realtime

import "errors"

var (
	// ErrEventChannelFull is returned when the event channel is full.
	ErrEventChannelFull = errors.New("event channel full")

	// ErrSubscriberClosed is returned when trying to send to a closed subscriber.
	ErrSubscriberClosed = errors.New("subscriber closed")

	// ErrInvalidEvent is returned when an event is invalid.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrSubscriberBufferFull is returned by a subscriber's Send when its
	// outbound buffer cannot absorb another event without blocking.
	ErrSubscriberBufferFull = errors.New("subscriber buffer full")
)
