// Package cos provides the low-level types shared by pipe, chat, and ppp:
// sentinel errors for the codes in the external-interfaces contract, a
// close-once stop signal used by every background loop, and small byte-set
// helpers for the chat engine's filter/separator sets.
package cos

import "errors"

// Sentinel errors surfaced through every public operation. Wrap with
// github.com/pkg/errors at each layer boundary; unwrap with errors.Is.
var (
	ErrPermissionDenied    = errors.New("permission denied")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrBusy                = errors.New("busy")
	ErrNoMemory            = errors.New("no memory")
	ErrRetry               = errors.New("retry")
	ErrProtocolNotSupported = errors.New("protocol not supported")
	ErrNoData              = errors.New("no data")
)
