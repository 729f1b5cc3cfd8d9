package instance

import "errors"

var (
	// ErrNotFound means no such instance record exists.
	ErrNotFound = errors.New("instance not found")

	// ErrOwnership means the requester does not own the instance.
	ErrOwnership = errors.New("instance belongs to another user")

	// ErrConcurrencyLimit means the owner already holds the maximum number
	// of starting/running instances.
	ErrConcurrencyLimit = errors.New("concurrent instance limit exceeded")

	// ErrNotAttachable means the instance cannot serve a terminal: it is not
	// running, has no backing container, or is a stack lab (stacks are used
	// through their own frontends, not an exec shell).
	ErrNotAttachable = errors.New("instance has no attachable terminal")
)
