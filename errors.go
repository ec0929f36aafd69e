package hbm

import "github.com/pkg/errors"

// ErrInvalidParam is returned when a caller provides bad input: a malformed
// description, an extent outside the class limits, a double bind, or an
// operation against the wrong buffer kind. It always indicates a caller bug
// and should never be retried.
var ErrInvalidParam error = errors.New("invalid parameter")

// ErrNoSupport is returned when a description/usage combination cannot be
// serviced by this device or build. Callers should fall back to a different
// combination or device rather than retry.
var ErrNoSupport error = errors.New("no support")

// ErrDeviceIo is returned when a kernel or driver call fails. The underlying
// OS error is preserved in the error chain.
var ErrDeviceIo error = errors.New("device error")
