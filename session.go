package paramtree

import (
	"context"
)

// ListNodesFlags modify which paths a list operation returns.
// Flags combine bitwise.
type ListNodesFlags int

const (
	ListNodesAll             ListNodesFlags = 0
	ListNodesRecursive       ListNodesFlags = 1
	ListNodesAbsolute        ListNodesFlags = 1 << 1
	ListNodesLeavesOnly      ListNodesFlags = 1 << 2
	ListNodesSettingsOnly    ListNodesFlags = 1 << 3
	ListNodesStreamingOnly   ListNodesFlags = 1 << 4
	ListNodesSubscribedOnly  ListNodesFlags = 1 << 5
	ListNodesBaseChannelOnly ListNodesFlags = 1 << 6
	ListNodesGetOnly         ListNodesFlags = 1 << 7
	ListNodesExcludeStreaming ListNodesFlags = 1 << 20
	ListNodesExcludeVectors   ListNodesFlags = 1 << 24
)

// DefaultExpressionFlags is the flag set used for get-with-expression reads
// issued by partial and wildcard nodes.
const DefaultExpressionFlags = ListNodesAbsolute |
	ListNodesRecursive |
	ListNodesLeavesOnly |
	ListNodesExcludeStreaming |
	ListNodesGetOnly

// Session is the remote procedure contract the tree core runs against.
// Implementations are external collaborators: the wire package speaks to a
// remote server, the mock package answers in process. The core performs no
// network i/o itself.
//
// Paths are '/'-separated and case insensitive. The wildcard '*' matches
// exactly one concrete segment. Errors returned by a session surface to the
// caller unchanged; the core neither wraps nor retries them.
type Session interface {
	// ListNodes lists the paths found at a path expression.
	ListNodes(ctx context.Context, path string, flags ListNodesFlags) ([]string, error)

	// ListNodesInfo lists the paths found at a path expression together
	// with their metadata.
	ListNodesInfo(ctx context.Context, path string, flags ListNodesFlags) (map[string]NodeInfo, error)

	// Get reads the value of a single leaf path.
	Get(ctx context.Context, path string) (AnnotatedValue, error)

	// GetWithExpression reads every leaf matching a path expression.
	GetWithExpression(ctx context.Context, pathExpression string, flags ListNodesFlags) ([]AnnotatedValue, error)

	// Set writes the value to a single leaf path and returns the
	// acknowledged value.
	Set(ctx context.Context, value AnnotatedValue) (AnnotatedValue, error)

	// SetWithExpression writes the value to every leaf matching the path
	// expression of the annotated value.
	SetWithExpression(ctx context.Context, value AnnotatedValue) ([]AnnotatedValue, error)

	// Subscribe registers a subscription to a leaf path. All updates pushed
	// by the remote side are parsed once with `parser` and distributed to
	// the returned queue and all of its forks.
	Subscribe(ctx context.Context, path string, parser Parser) (*DataQueue, error)
}
