package commands

import "errors"

var (
	ErrShortPayload    = errors.New("commands: short payload")
	ErrTrailingBytes   = errors.New("commands: trailing bytes")
	ErrTooManyItems    = errors.New("commands: too many items")
	ErrNetworkMismatch = errors.New("commands: network id mismatch")
	ErrSelfConnection  = errors.New("commands: connected to self")
)
