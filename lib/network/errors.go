package network

import "errors"

var (
	// ErrExhausted is returned when no free guest address remains in the
	// configured range.
	ErrExhausted = errors.New("no free guest addresses")

	// ErrLeasesOutstanding is returned when Cleanup is called while TAP
	// leases are still held.
	ErrLeasesOutstanding = errors.New("tap leases still outstanding")

	// ErrReleased is returned when a lease is used after Release.
	ErrReleased = errors.New("tap lease already released")
)
