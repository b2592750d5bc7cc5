package errors

import "errors"

var (
	ErrTimeout     = errors.New("timeout")
	ErrCircuitOpen = errors.New("circuit breaker is open")
)
