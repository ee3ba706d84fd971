package levin

import "errors"

var (
	ErrTruncated        = errors.New("levin: truncated header")
	ErrInvalidSignature = errors.New("levin: invalid signature")
	ErrPayloadTooLarge  = errors.New("levin: payload too large")
	ErrMalformedPayload = errors.New("levin: malformed payload")
	ErrHeaderWrite      = errors.New("levin: header write failed")
	ErrPayloadWrite     = errors.New("levin: payload write failed")
)
