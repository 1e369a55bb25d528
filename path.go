package paramtree

import (
	"strconv"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

const PathSeparator = "/"

// placeholder segment matching exactly one concrete segment
const Wildcard = "*"

// NormalizePathSegment brings a single user-entered segment into canonical
// form: lower case, trailing underscores stripped (reserved word escaping).
// Numeric segments stay decimal strings.
func NormalizePathSegment(segment string) string {
	return strings.TrimRight(strings.ToLower(segment), "_")
}

// SplitPath splits a canonical path into its segments.
// A leading separator is ignored. The root ("" or "/") has no segments.
func SplitPath(path string) []string {
	if path == "" || path == PathSeparator {
		return []string{}
	}
	segments := strings.Split(path, PathSeparator)
	if segments[0] == "" {
		// the path started with '/'
		segments = segments[1:]
	}
	return segments
}

// JoinPath joins segments into one canonical path.
// A leading separator is always added, so the empty input is the root "/".
func JoinPath(segments []string) string {
	return PathSeparator + strings.Join(segments, PathSeparator)
}

// Prefix returns the path truncated to the first `segmentCount` segments.
// If the path is shorter, it is returned whole.
func Prefix(path string, segmentCount int) string {
	segments := SplitPath(path)
	if segmentCount < len(segments) {
		segments = segments[:segmentCount]
	}
	return JoinPath(segments)
}

func containsWildcard(segments []string) bool {
	return slices.Contains(segments, Wildcard)
}

// compareSegments orders sibling segments for iteration.
// Numeric segments sort numerically so that /2 comes before /10.
func compareSegments(a string, b string) int {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	if aerr == nil && berr == nil {
		switch {
		case ai < bi:
			return -1
		case bi < ai:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a, b)
}

// buildPrefixDict groups a list of split paths by their first segment.
// The value of each group is the list of non-empty suffixes starting with it.
func buildPrefixDict(suffixList [][]string) map[string][][]string {
	result := map[string][][]string{}
	for _, path := range suffixList {
		firstSegment := path[0]
		pathSuffix := path[1:]
		if _, ok := result[firstSegment]; !ok {
			result[firstSegment] = [][]string{}
		}
		if 0 < len(pathSuffix) {
			result[firstSegment] = append(result[firstSegment], pathSuffix)
		}
	}
	return result
}

// Structure is one level of the lazily explored path tree. Each level holds
// the not-yet-grouped path suffixes below it and expands them into child
// levels on first access, memoized per level.
type Structure struct {
	suffixes [][]string
	children map[string]*Structure
}

func newStructure(suffixes [][]string) *Structure {
	return &Structure{
		suffixes: suffixes,
	}
}

// NewStructure builds the root level for a set of canonical paths.
func NewStructure(paths []string) *Structure {
	suffixes := make([][]string, 0, len(paths))
	for _, path := range paths {
		segments := SplitPath(path)
		if 0 < len(segments) {
			suffixes = append(suffixes, segments)
		}
	}
	return newStructure(suffixes)
}

// expand one level deeper. Deeper levels stay unexpanded.
func (self *Structure) expand() {
	if self.children != nil {
		return
	}
	prefixDict := buildPrefixDict(self.suffixes)
	children := make(map[string]*Structure, len(prefixDict))
	for segment, childSuffixes := range prefixDict {
		children[segment] = newStructure(childSuffixes)
	}
	self.children = children
	self.suffixes = nil
}

func (self *Structure) Child(segment string) (*Structure, bool) {
	self.expand()
	child, ok := self.children[segment]
	return child, ok
}

// Keys returns the child segments of this level in iteration order.
func (self *Structure) Keys() []string {
	self.expand()
	keys := maps.Keys(self.children)
	slices.SortFunc(keys, compareSegments)
	return keys
}

func (self *Structure) Len() int {
	self.expand()
	return len(self.children)
}

func (self *Structure) Contains(segment string) bool {
	self.expand()
	_, ok := self.children[segment]
	return ok
}

// IsLeaf reports whether no path extends below this level.
func (self *Structure) IsLeaf() bool {
	self.expand()
	return len(self.children) == 0
}
