package gateway

import "errors"

// ErrRegistrationTimeout is returned when a connection does not send a
// register frame within the grace period (spec.md §4.6).
var ErrRegistrationTimeout = errors.New("gateway: no register frame within grace period")

// ErrBackpressure is returned internally when a connection's outbound
// channel overflows its high-water mark; the connection is then closed with
// session_end{reason:backpressure}.
var ErrBackpressure = errors.New("gateway: outbound channel overflowed")

// ErrUnknownDevice is returned by registry lookups for a device_id that has
// never registered.
var ErrUnknownDevice = errors.New("gateway: unknown device")
