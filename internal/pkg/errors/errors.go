package errors

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalid           = errors.New("invalid")
	ErrConflict          = errors.New("conflict")
	ErrInternal          = errors.New("internal")
	ErrInvalidTransition = errors.New("invalid status transition")

	// pipeline failure categories
	ErrDecode    = errors.New("decode error")
	ErrUpstream  = errors.New("upstream error")
	ErrStorage   = errors.New("storage error")
	ErrTransport = errors.New("transport error")
	ErrQuery     = errors.New("query error")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Wrap tags err with a category sentinel so both stay matchable with errors.Is.
func Wrap(kind error, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, kind) {
		return err
	}
	return errors.Join(kind, err)
}
