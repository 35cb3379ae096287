package bgsstore

import "errors"

var (
	ErrNotFound       = errors.New("bgsstore: no BGS with that id")
	ErrAlreadyPending = errors.New("bgsstore: a request is already pending for this BGS")
	ErrWrongState     = errors.New("bgsstore: operation invalid for the BGS's current status")
)

// MaxSessions bounds the number of simultaneously live BGS (spec.md §3.1).
const MaxSessions = 256
