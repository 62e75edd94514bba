package streaming

import (
	"errors"
	"fmt"
)

// Errors
var (
	ErrConnection = errors.New("connection error")
	ErrTimeout    = fmt.Errorf("connecting timeout: %w", ErrConnection)
	ErrConfig     = errors.New("invalid config")
	ErrParse      = errors.New("parse error")
	ErrClosed     = errors.New("client stopped")
	ErrNotStarted = errors.New("client not started")
	ErrStarted    = errors.New("client already started")
)

// ParseError describes a tick that could not be turned into a quote.
type ParseError struct {
	Instrument string
	Field      string
	Reason     string
}

func (e *ParseError) Error() string {
	if e.Instrument == "" {
		return fmt.Sprintf("parse tick: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("parse tick %s: %s: %s", e.Instrument, e.Field, e.Reason)
}

// Unwrap makes errors.Is(err, ErrParse) true.
func (e *ParseError) Unwrap() error {
	return ErrParse
}
