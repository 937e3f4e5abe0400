package model

import (
	"errors"
	"fmt"
)

// ErrInvalidTransaction indicates a transaction is missing required fields.
var ErrInvalidTransaction = errors.New("invalid transaction")

func errMissingField(name string) error {
	return fmt.Errorf("%w: missing %s", ErrInvalidTransaction, name)
}
