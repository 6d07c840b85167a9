package domain

import "errors"

// ErrRegistration is returned when the runtime rejects a memory region.
var ErrRegistration = errors.New("window registration failed")

// ErrAllocation is returned when the runtime cannot provide window memory.
var ErrAllocation = errors.New("window allocation failed")

// ErrCountMismatch is returned when the origin and target element counts of a transfer differ.
var ErrCountMismatch = errors.New("origin and target counts differ")

// ErrOutOfRange is returned when a transfer addresses elements outside a buffer or region.
var ErrOutOfRange = errors.New("range exceeds exposed region")

// ErrSynchronization is returned on epoch protocol misuse (unmatched calls, double lock, ...).
var ErrSynchronization = errors.New("synchronization protocol violation")

// ErrTransportLost is returned when the runtime connection is gone. It is fatal to the window.
var ErrTransportLost = errors.New("transport lost")

// ErrUseAfterRelease is returned by any operation on a released or broken window.
var ErrUseAfterRelease = errors.New("window used after release")
