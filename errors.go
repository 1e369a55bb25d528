package paramtree

import (
	"errors"
	"fmt"
)

// Error taxonomy of the tree core. All navigation and queue failures wrap one
// of these sentinels so that callers can test with `errors.Is`. Failures
// coming back from the remote side pass through unchanged.
var (
	// a path segment does not exist, a leaf was extended, or a wildcard
	// was used where a concrete lookup is required
	ErrInvalidPath = errors.New("invalid path")

	// the operation is not defined for this node variant
	ErrInappropriateNodeType = errors.New("inappropriate node type")

	// a queue-scoped streaming failure
	ErrStreaming = errors.New("streaming")
)

// ErrEmptyDisconnected is raised by DataQueue.Get when the queue is both
// empty and disconnected. It is part of the streaming taxonomy.
var ErrEmptyDisconnected = fmt.Errorf("%w: empty and disconnected", ErrStreaming)

func invalidPathError(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidPath, fmt.Sprintf(format, a...))
}

func inappropriateNodeTypeError(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrInappropriateNodeType, fmt.Sprintf(format, a...))
}

func streamingError(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrStreaming, fmt.Sprintf(format, a...))
}
