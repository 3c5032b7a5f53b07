package doisdk

import (
	"errors"
	"fmt"
)

var (
	ErrMissingChainQuery    = errors.New("missing chain query service")
	ErrNoContentFetcher     = errors.New("no content fetcher configured")
	ErrNoNameOpStore        = errors.New("no name operation store configured")
	ErrUnsupportedNameValue = errors.New("name value does not point to content")
)

// UnknownInputError is returned when a string is neither an address of the
// configured network nor an extended public key.
type UnknownInputError struct {
	Input      string
	AddressErr error
	KeyErr     error
}

func (e UnknownInputError) Error() string {
	return fmt.Sprintf(
		"%s is neither a valid address (%s) nor an extended key (%s)",
		e.Input, e.AddressErr, e.KeyErr,
	)
}
