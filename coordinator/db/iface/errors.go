package iface

import "github.com/pkg/errors"

// ErrNotFound is returned when a requested ceremony, circuit, participant or
// contribution does not exist. Caller policy decides whether that is fatal.
var ErrNotFound = errors.New("not found in db")
