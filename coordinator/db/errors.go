package db

import (
	"github.com/pkg/errors"

	"github.com/enclavecode/swarm/coordinator/db/kv"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = kv.ErrNotFound

// IsNotFound reports whether err means a missing record rather than an
// I/O failure.
func IsNotFound(err error) bool {
	return errors.Is(err, kv.ErrNotFound)
}
