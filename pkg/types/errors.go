package types

import (
	"errors"
	"fmt"
)

// ErrVersionNotFound indicates a PointID was queried before ever being
// assigned a version. Per the writer's error taxonomy this is a
// lookup/not-found error: an internal bug, propagated as fatal.
var ErrVersionNotFound = errors.New("version not found")

func newVersionNotFoundError(id PointID) error {
	return fmt.Errorf("%w: point %d", ErrVersionNotFound, id)
}
