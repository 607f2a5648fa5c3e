package booklet

import "errors"

// Sentinel errors returned by the Local Store primitive.
var (
	ErrKeyNotFound   = errors.New("booklet: key not found")
	ErrClosed        = errors.New("booklet: store is closed")
	ErrReadOnly      = errors.New("booklet: store opened read-only")
	ErrLocked        = errors.New("booklet: store is locked by another process")
	ErrHeaderInvalid = errors.New("booklet: header magic mismatch")
	ErrUnknownEngine = errors.New("booklet: unknown engine")
)
