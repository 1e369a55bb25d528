package paramtree

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// ResultNode is an immutable snapshot of one multi-leaf read or write,
// navigable like a live node. Leaf positions expose the captured value via
// `Value`. Results coming from a wildcard expression carry one indexed match
// group per distinct matched prefix, aliased to the real segments.
type ResultNode struct {
	treeManager  *TreeManager
	pathSegments []string
	// structure at this position. The root of a wildcard result carries a
	// synthetic structure of match group indexes.
	structure *Structure
	// rootStructure covers all captured paths, absolute
	rootStructure *Structure
	// values maps each captured canonical path to its value
	values map[string]AnnotatedValue
	// aliases redirect synthetic paths to real paths, followed to a fixed
	// point at navigation time
	aliases   map[string]string
	timestamp int64
}

func packageValues(treeManager *TreeManager, values []AnnotatedValue) (map[string]AnnotatedValue, []string, int64) {
	valueMap := make(map[string]AnnotatedValue, len(values))
	paths := make([]string, 0, len(values))
	timestamp := int64(0)
	for i, value := range values {
		parsed := treeManager.Parser()(value)
		path := strings.ToLower(parsed.Path)
		valueMap[path] = parsed
		paths = append(paths, path)
		if i == 0 {
			timestamp = parsed.Timestamp
		}
	}
	return valueMap, paths, timestamp
}

// newResultNode packages the response of a read or write on a partial node.
// The result is rooted at the tree root, so navigation uses absolute
// segments.
func newResultNode(treeManager *TreeManager, values []AnnotatedValue) *ResultNode {
	valueMap, paths, timestamp := packageValues(treeManager, values)
	rootStructure := NewStructure(paths)
	return &ResultNode{
		treeManager:   treeManager,
		pathSegments:  []string{},
		structure:     rootStructure,
		rootStructure: rootStructure,
		values:        valueMap,
		timestamp:     timestamp,
	}
}

// newWildcardResultNode packages the response of a read or write on a
// wildcard node. Each distinct matched prefix, cut at the expression length,
// becomes one match group: sorted, deduplicated, and indexed from zero. The
// alias table redirects `<expression>/<index>` to the real prefix.
func newWildcardResultNode(
	treeManager *TreeManager,
	wildcardSegments []string,
	values []AnnotatedValue,
) *ResultNode {
	valueMap, paths, timestamp := packageValues(treeManager, values)
	rootStructure := NewStructure(paths)

	prefixSet := map[string]bool{}
	for _, path := range paths {
		prefixSet[Prefix(path, len(wildcardSegments))] = true
	}
	prefixes := maps.Keys(prefixSet)
	slices.Sort(prefixes)

	aliases := make(map[string]string, len(prefixes))
	matchGroups := make([][]string, 0, len(prefixes))
	for i, prefix := range prefixes {
		index := strconv.Itoa(i)
		aliases[JoinPath(append(slices.Clone(wildcardSegments), index))] = prefix
		matchGroups = append(matchGroups, []string{index})
	}

	return &ResultNode{
		treeManager:   treeManager,
		pathSegments:  slices.Clone(wildcardSegments),
		structure:     newStructure(matchGroups),
		rootStructure: rootStructure,
		values:        valueMap,
		aliases:       aliases,
		timestamp:     timestamp,
	}
}

func (self *ResultNode) TreeManager() *TreeManager {
	return self.treeManager
}

func (self *ResultNode) Path() string {
	return JoinPath(self.pathSegments)
}

func (self *ResultNode) PathSegments() []string {
	return slices.Clone(self.pathSegments)
}

// Timestamp returns the capture time of the snapshot.
func (self *ResultNode) Timestamp() int64 {
	return self.timestamp
}

// resolveAliases follows the alias table to a fixed point. A visited set
// guards against cycles, since nothing enforces the table to be acyclic.
func (self *ResultNode) resolveAliases(pathSegments []string) []string {
	if len(self.aliases) == 0 {
		return pathSegments
	}
	path := JoinPath(pathSegments)
	visited := map[string]bool{}
	for !visited[path] {
		visited[path] = true
		target, ok := self.aliases[path]
		if !ok {
			break
		}
		path = target
	}
	return SplitPath(path)
}

func (self *ResultNode) Child(segment string) (Node, error) {
	segment = NormalizePathSegment(segment)
	if segment == Wildcard {
		return nil, inappropriateNodeTypeError("wildcard below captured result %s", self.Path())
	}
	realSegments := self.resolveAliases(append(slices.Clone(self.pathSegments), segment))

	structure := self.rootStructure
	for i, realSegment := range realSegments {
		if structure.IsLeaf() {
			return nil, invalidPathError("%s extends beyond leaf %s", JoinPath(realSegments), JoinPath(realSegments[:i]))
		}
		child, ok := structure.Child(realSegment)
		if !ok {
			// distinguish a path outside the capture from one outside
			// the tree altogether
			if _, err := self.treeManager.FindSubstructure(realSegments); err != nil {
				return nil, err
			}
			return nil, invalidPathError("%s not captured in this result", JoinPath(realSegments))
		}
		structure = child
	}

	return &ResultNode{
		treeManager:   self.treeManager,
		pathSegments:  realSegments,
		structure:     structure,
		rootStructure: self.rootStructure,
		values:        self.values,
		aliases:       self.aliases,
		timestamp:     self.timestamp,
	}, nil
}

func (self *ResultNode) Resolve(path string) (Node, error) {
	return resolveNode(self, path)
}

func (self *ResultNode) ChildNames() ([]string, error) {
	return self.structure.Keys(), nil
}

func (self *ResultNode) NumChildren() (int, error) {
	return self.structure.Len(), nil
}

func (self *ResultNode) Contains(segment string) (bool, error) {
	return self.structure.Contains(NormalizePathSegment(segment)), nil
}

func (self *ResultNode) Subscribe(ctx context.Context) (*DataQueue, error) {
	return nil, inappropriateNodeTypeError("%s is a captured result, not a live node", self.Path())
}

func (self *ResultNode) WaitForStateChange(ctx context.Context, value Value, invert bool) error {
	return inappropriateNodeTypeError("%s is a captured result, not a live node", self.Path())
}

// IsLeaf reports whether this position holds a single captured value.
func (self *ResultNode) IsLeaf() bool {
	return self.structure.IsLeaf()
}

// Value returns the captured value at this leaf position.
func (self *ResultNode) Value() (AnnotatedValue, error) {
	if !self.IsLeaf() {
		return AnnotatedValue{}, inappropriateNodeTypeError("%s is not a leaf of the result", self.Path())
	}
	value, ok := self.values[self.Path()]
	if !ok {
		return AnnotatedValue{}, invalidPathError("%s not captured in this result", self.Path())
	}
	return value, nil
}

// Results returns every captured value at or below this position, sorted by
// path.
func (self *ResultNode) Results() []AnnotatedValue {
	prefix := self.Path()
	all := containsWildcard(self.pathSegments)
	results := []AnnotatedValue{}
	for path, value := range self.values {
		if all || path == prefix || strings.HasPrefix(path, prefix+PathSeparator) || prefix == JoinPath(nil) {
			results = append(results, value)
		}
	}
	slices.SortFunc(results, func(a AnnotatedValue, b AnnotatedValue) int {
		return strings.Compare(a.Path, b.Path)
	})
	return results
}

func (self *ResultNode) String() string {
	return fmt.Sprintf("ResultNode(%s, %d values)", self.Path(), len(self.values))
}
