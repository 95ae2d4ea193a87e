package store

import "errors"

// ErrNotFound indicates a record was not located.
var ErrNotFound = errors.New("store: not found")

// ErrDuplicateVersion indicates a conditional insert lost to an existing
// record at the same (module, environment, version) key.
var ErrDuplicateVersion = errors.New("store: duplicate module version")
