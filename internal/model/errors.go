package model

import "errors"

// Error taxonomy shared by the source, the sink and the core.
var (
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrDeliveryFailed    = errors.New("delivery failed")
	ErrDeliveryRejected  = errors.New("delivery rejected")
	ErrNotFound          = errors.New("not found")
	ErrInvalidFilter     = errors.New("invalid filter")
	ErrNoSession         = errors.New("no active selection")
)
