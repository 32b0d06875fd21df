package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrAuth         = errors.New("authentication failed")
	ErrTransport    = errors.New("transport failure")
	ErrParse        = errors.New("malformed event")
	ErrSubscription = errors.New("subscription rejected")
	ErrClosed       = errors.New("closed")
	ErrOutOfOrder   = errors.New("observation older than latest slot")
	ErrSlowConsumer = errors.New("consumer send buffer full")
	ErrInvalidInput = errors.New("invalid input")
)
