// Package djerr holds the sentinel errors every component wraps its
// failures around (spec.md §7's error taxonomy). Callers use errors.Is to
// branch on category without caring which component produced the error.
package djerr

import (
	"errors"
	"fmt"
)

var (
	// ErrNetwork covers socket failure, unreachable host, read timeout.
	ErrNetwork = errors.New("djlink: network error")

	// ErrProtocol covers a malformed packet, unexpected message type, or a
	// transaction-ID mismatch.
	ErrProtocol = errors.New("djlink: protocol error")

	// ErrState covers calling an operation that requires a component to be
	// running (or a device number in 1-4) when it is not.
	ErrState = errors.New("djlink: invalid state")

	// ErrAssignment covers failure to find a free device number within the
	// auto-selection window.
	ErrAssignment = errors.New("djlink: device number assignment failed")

	// ErrTimeout covers a handshake or master hand-off that did not
	// complete in time.
	ErrTimeout = errors.New("djlink: timed out")

	// ErrUsage covers listener misuse: freeing an un-allocated client,
	// double-starting a component that refuses it, addressing a peer not
	// currently in the device table.
	ErrUsage = errors.New("djlink: usage error")

	// ErrNoPeer is a specific ErrUsage case: a command targeted a device
	// number the device table does not currently know about.
	ErrNoPeer = fmt.Errorf("%w: no such peer", ErrUsage)

	// ErrUnableToAssignDeviceNumber is a specific ErrAssignment case: every
	// candidate device number was claimed by the time negotiation finished.
	ErrUnableToAssignDeviceNumber = fmt.Errorf("%w: unable to assign device number", ErrAssignment)

	// ErrNoPosingNumber is a specific ErrAssignment case: the Connection
	// Manager was allocating a dbserver client while the Virtual Player's
	// own device number is not 1-4 and the target is 15 or below,
	// and no other live player 1-4 is free to pose as.
	ErrNoPosingNumber = fmt.Errorf("%w: no posing number available", ErrAssignment)
)
