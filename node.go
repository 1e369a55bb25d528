package paramtree

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/exp/slices"
)

// Node is one position in the parameter tree. Implementations are immutable
// and interned by the tree manager, so nodes for equal paths compare equal.
//
// Navigation is uniform across variants. Reading and writing are typed per
// variant: `LeafNode` returns single values, `PartialNode` and `WildcardNode`
// return a `ResultNode` covering every matched leaf.
type Node interface {
	TreeManager() *TreeManager

	// Path returns the canonical path of this node.
	Path() string
	PathSegments() []string

	// Child extends the path by one segment.
	Child(segment string) (Node, error)
	// Resolve extends the path by all segments of a relative path.
	Resolve(path string) (Node, error)

	// ChildNames returns the direct child segments in iteration order.
	ChildNames() ([]string, error)
	NumChildren() (int, error)
	// Contains reports whether segment is a direct child.
	Contains(segment string) (bool, error)

	// Subscribe registers a new queue for updates of this node.
	// Supported on leaf nodes only.
	Subscribe(ctx context.Context) (*DataQueue, error)

	// WaitForStateChange blocks until the node value compares to `value`,
	// equal when `invert` is false, not equal when `invert` is true.
	// The wait is bounded by the context.
	WaitForStateChange(ctx context.Context, value Value, invert bool) error
}

// buildNode determines the variant from the path shape and the structure.
// Must be called with the manager state lock held.
func buildNode(treeManager *TreeManager, pathSegments []string) (Node, error) {
	metaNode := metaNode{
		treeManager:  treeManager,
		pathSegments: pathSegments,
	}
	if containsWildcard(pathSegments) {
		return &WildcardNode{metaNode: metaNode}, nil
	}
	structure, err := treeManager.findSubstructure(pathSegments)
	if err != nil {
		return nil, err
	}
	if structure.IsLeaf() {
		return &LeafNode{metaNode: metaNode}, nil
	}
	return &PartialNode{metaNode: metaNode}, nil
}

type metaNode struct {
	treeManager  *TreeManager
	pathSegments []string
}

func (self *metaNode) TreeManager() *TreeManager {
	return self.treeManager
}

func (self *metaNode) Path() string {
	return JoinPath(self.pathSegments)
}

func (self *metaNode) PathSegments() []string {
	return slices.Clone(self.pathSegments)
}

func (self *metaNode) extendedSegments(segment string) []string {
	extended := make([]string, 0, len(self.pathSegments)+1)
	extended = append(extended, self.pathSegments...)
	return append(extended, segment)
}

func resolveNode(node Node, path string) (Node, error) {
	current := node
	for _, segment := range SplitPath(path) {
		next, err := current.Child(segment)
		if err != nil {
			return nil, err
		}
		current = next
	}
	return current, nil
}

// LeafNode is a terminal path with a remotely readable or writable value.
type LeafNode struct {
	metaNode
}

func (self *LeafNode) Child(segment string) (Node, error) {
	return nil, invalidPathError("%s extends beyond leaf %s", JoinPath(self.extendedSegments(segment)), self.Path())
}

func (self *LeafNode) Resolve(path string) (Node, error) {
	return resolveNode(self, path)
}

func (self *LeafNode) ChildNames() ([]string, error) {
	return []string{}, nil
}

func (self *LeafNode) NumChildren() (int, error) {
	return 0, nil
}

func (self *LeafNode) Contains(segment string) (bool, error) {
	return false, nil
}

// Info returns the metadata of this leaf.
func (self *LeafNode) Info() NodeInfo {
	return self.treeManager.Info(self.Path())
}

// Get reads the current value.
func (self *LeafNode) Get(ctx context.Context) (AnnotatedValue, error) {
	value, err := self.treeManager.Session().Get(ctx, self.Path())
	if err != nil {
		return AnnotatedValue{}, err
	}
	return self.treeManager.Parser()(value), nil
}

// Set writes a value and returns the acknowledged value.
func (self *LeafNode) Set(ctx context.Context, value Value) (AnnotatedValue, error) {
	acknowledged, err := self.treeManager.Session().Set(ctx, AnnotatedValue{
		Value: value,
		Path:  self.Path(),
	})
	if err != nil {
		return AnnotatedValue{}, err
	}
	return self.treeManager.Parser()(acknowledged), nil
}

func (self *LeafNode) Subscribe(ctx context.Context) (*DataQueue, error) {
	return self.treeManager.Session().Subscribe(ctx, self.Path(), self.treeManager.Parser())
}

func (self *LeafNode) WaitForStateChange(ctx context.Context, value Value, invert bool) error {
	// subscribe before the baseline read so no update between the two is lost
	queue, err := self.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer queue.Disconnect()

	baseline, err := self.Get(ctx)
	if err != nil {
		return err
	}
	if valueEqual(baseline.Value, value) != invert {
		return nil
	}
	for {
		next, err := queue.Get(ctx)
		if err != nil {
			return err
		}
		if valueEqual(next.Value, value) != invert {
			return nil
		}
	}
}

// PartialNode is a non-terminal path without wildcards. Its children are
// known from the structure.
type PartialNode struct {
	metaNode
}

func (self *PartialNode) Child(segment string) (Node, error) {
	return self.treeManager.PathSegmentsToNode(self.extendedSegments(segment))
}

func (self *PartialNode) Resolve(path string) (Node, error) {
	return resolveNode(self, path)
}

func (self *PartialNode) ChildNames() ([]string, error) {
	structure, err := self.treeManager.FindSubstructure(self.pathSegments)
	if err != nil {
		return nil, err
	}
	return structure.Keys(), nil
}

func (self *PartialNode) NumChildren() (int, error) {
	structure, err := self.treeManager.FindSubstructure(self.pathSegments)
	if err != nil {
		return 0, err
	}
	return structure.Len(), nil
}

func (self *PartialNode) Contains(segment string) (bool, error) {
	structure, err := self.treeManager.FindSubstructure(self.pathSegments)
	if err != nil {
		return false, err
	}
	return structure.Contains(NormalizePathSegment(segment)), nil
}

// Get reads every leaf below this node and packages the values as a result
// tree.
func (self *PartialNode) Get(ctx context.Context) (*ResultNode, error) {
	values, err := self.treeManager.Session().GetWithExpression(ctx, self.Path(), DefaultExpressionFlags)
	if err != nil {
		return nil, err
	}
	return newResultNode(self.treeManager, values), nil
}

// Set writes the value to every leaf below this node.
func (self *PartialNode) Set(ctx context.Context, value Value) (*ResultNode, error) {
	values, err := self.treeManager.Session().SetWithExpression(ctx, AnnotatedValue{
		Value: value,
		Path:  self.Path(),
	})
	if err != nil {
		return nil, err
	}
	return newResultNode(self.treeManager, values), nil
}

func (self *PartialNode) Subscribe(ctx context.Context) (*DataQueue, error) {
	return nil, inappropriateNodeTypeError("cannot subscribe to non-leaf %s", self.Path())
}

func (self *PartialNode) WaitForStateChange(ctx context.Context, value Value, invert bool) error {
	return inappropriateNodeTypeError("cannot wait for state change on non-leaf %s", self.Path())
}

// WildcardNode is a path containing at least one wildcard segment. Its shape
// is unknown until the remote side resolves the expression, so navigation
// never fails locally.
type WildcardNode struct {
	metaNode
}

func (self *WildcardNode) Child(segment string) (Node, error) {
	return self.treeManager.PathSegmentsToNode(self.extendedSegments(segment))
}

func (self *WildcardNode) Resolve(path string) (Node, error) {
	return resolveNode(self, path)
}

func (self *WildcardNode) ChildNames() ([]string, error) {
	return nil, inappropriateNodeTypeError("children of wildcard %s are unknown until resolved", self.Path())
}

func (self *WildcardNode) NumChildren() (int, error) {
	return 0, inappropriateNodeTypeError("children of wildcard %s are unknown until resolved", self.Path())
}

func (self *WildcardNode) Contains(segment string) (bool, error) {
	return false, inappropriateNodeTypeError("children of wildcard %s are unknown until resolved", self.Path())
}

// Get reads every leaf matching this expression. Each distinct matched
// prefix becomes one indexed match group on the result.
func (self *WildcardNode) Get(ctx context.Context) (*ResultNode, error) {
	values, err := self.treeManager.Session().GetWithExpression(ctx, self.Path(), DefaultExpressionFlags)
	if err != nil {
		return nil, err
	}
	return newWildcardResultNode(self.treeManager, self.pathSegments, values), nil
}

// Set writes the value to every leaf matching this expression.
func (self *WildcardNode) Set(ctx context.Context, value Value) (*ResultNode, error) {
	values, err := self.treeManager.Session().SetWithExpression(ctx, AnnotatedValue{
		Value: value,
		Path:  self.Path(),
	})
	if err != nil {
		return nil, err
	}
	return newWildcardResultNode(self.treeManager, self.pathSegments, values), nil
}

func (self *WildcardNode) Subscribe(ctx context.Context) (*DataQueue, error) {
	return nil, inappropriateNodeTypeError("cannot subscribe to wildcard %s", self.Path())
}

// WaitForStateChange resolves the expression and waits on every matched
// leaf concurrently. It returns when all leaves satisfy the condition.
func (self *WildcardNode) WaitForStateChange(ctx context.Context, value Value, invert bool) error {
	paths, err := self.treeManager.Session().ListNodes(ctx, self.Path(), ListNodesAbsolute|ListNodesLeavesOnly)
	if err != nil {
		return err
	}

	errs := make([]error, len(paths))
	wg := sync.WaitGroup{}
	for i, path := range paths {
		node, err := self.treeManager.PathToNode(path)
		if err != nil {
			errs[i] = err
			continue
		}
		leafNode, ok := node.(*LeafNode)
		if !ok {
			errs[i] = inappropriateNodeTypeError("%s resolved to a non-leaf", path)
			continue
		}
		wg.Add(1)
		go func(i int, leafNode *LeafNode) {
			defer wg.Done()
			errs[i] = leafNode.WaitForStateChange(ctx, value, invert)
		}(i, leafNode)
	}
	wg.Wait()
	return errors.Join(errs...)
}
