package errcode

const (
	ErrUnknown = 10000000 + iota
	ErrUnauthorized
	ErrForbidden
	ErrNotFound
	ErrInvalid
	ErrConflict
	ErrTooMany
	ErrInternal
	ErrInvalidFile
	ErrInvalidTransition
	ErrUpstream
	ErrQueryFailed
	ErrStorage
	ErrAIUnavailable
)
