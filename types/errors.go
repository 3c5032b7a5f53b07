package types

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidKeyEncoding     = errors.New("invalid extended key encoding")
	ErrInvalidPathSegment     = errors.New("invalid derivation path segment")
	ErrInvalidAddress         = errors.New("invalid address")
	ErrRemoteQuery            = errors.New("remote query failed")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrMissingParameter       = errors.New("missing required parameter")
	ErrUnrecognizedScriptType = errors.New("unrecognized script type")
	ErrFeeRateTooHigh         = errors.New("fee rate exceeds maximum")
	ErrInvalidName            = errors.New("invalid name")
)

// InsufficientFundsError reports by how much the funds of an address fall
// short of what a transaction needs.
type InsufficientFundsError struct {
	Address   string
	Required  int64
	Available int64
}

func (e InsufficientFundsError) Error() string {
	return fmt.Sprintf(
		"funds on %s are insufficient: required %d sats, available %d sats",
		e.Address, e.Required, e.Available,
	)
}

func (e InsufficientFundsError) Shortfall() int64 {
	return e.Required - e.Available
}

func (e InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// MissingParameterError enumerates every required field that was absent.
type MissingParameterError struct {
	Fields []string
}

func (e MissingParameterError) Error() string {
	return fmt.Sprintf("missing required parameters: %s", strings.Join(e.Fields, ", "))
}

func (e MissingParameterError) Is(target error) bool {
	return target == ErrMissingParameter
}

// RemoteQueryError wraps a failed indexer request for one address.
type RemoteQueryError struct {
	Address string
	Method  string
	Err     error
}

func (e RemoteQueryError) Error() string {
	return fmt.Sprintf("%s for %s: %s", e.Method, e.Address, e.Err)
}

func (e RemoteQueryError) Unwrap() error {
	return e.Err
}

func (e RemoteQueryError) Is(target error) bool {
	return target == ErrRemoteQuery
}
