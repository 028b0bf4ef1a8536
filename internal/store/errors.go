package store

import "errors"

// Error kinds surfaced by the message chain. Handlers map these to HTTP
// statuses; everything else wraps them with %w and matches with errors.Is.
var (
	// ErrNotFound means a message, user, room or member does not exist.
	ErrNotFound = errors.New("not found")

	// ErrChainConflict means the parent message already has a child. The
	// chain never branches, so a second child is rejected rather than
	// silently overwriting a concurrent writer's message.
	ErrChainConflict = errors.New("parent message already has a child")

	// ErrMissingParent means the parent reference is required (the room
	// already has messages) or forbidden (the room is empty) for this post.
	ErrMissingParent = errors.New("parent message id required once the room has messages, forbidden before")

	// ErrInterrupted means a concurrent writer extended the chain while a
	// generation was in flight; the produced turn is discarded.
	ErrInterrupted = errors.New("message already has a child, generated turn discarded")

	// ErrBrokenChain means the ancestor chain no longer reaches the room
	// root. Detection triggers cascading deletion of the broken run.
	ErrBrokenChain = errors.New("message has no chain to root")

	// ErrPollTimeout means a bounded child wait exhausted its budget.
	ErrPollTimeout = errors.New("timed out polling for child message")
)
