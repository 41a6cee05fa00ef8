// Package store holds what every persistence backend shares. The backends
// live in the memory and postgres subpackages; fixtures seeds memory from
// YAML.
package store

import "errors"

// ErrNotFound is returned by every backend when a referenced record does
// not exist.
var ErrNotFound = errors.New("resource not found")

// ErrConflict is returned when a conditional update lost a race, for
// example claiming an invoice that is no longer in the expected status.
var ErrConflict = errors.New("conflicting update")
