package bus

import "errors"

// Sentinel errors returned by bus operations. Callers match them with
// errors.Is; the returned errors usually wrap them with context.
var (
	ErrNotInitialized = errors.New("event bus not initialized")
	ErrNotFound       = errors.New("not found")
	ErrNicknameTaken  = errors.New("nickname already taken")
	ErrNoTargets      = errors.New("no matching targets")
	ErrValidation     = errors.New("invalid argument")
)
