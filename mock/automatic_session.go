package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/attolab/paramtree"
	"github.com/golang/glog"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type pathData struct {
	value  paramtree.Value
	info   paramtree.NodeInfo
	handle *paramtree.StreamingHandle
}

// AutomaticSession is an in-process Session backed by a flat map. It answers
// list, get, and set from memory, reduces expression operations to per-path
// operations, and distributes every set to the subscriptions of its path.
// Timestamps are strictly increasing.
//
// All known paths start with the zero value of their type tag.
type AutomaticSession struct {
	stateLock sync.Mutex

	memory        map[string]*pathData
	lastTimestamp int64
}

func NewAutomaticSession(pathToInfo map[string]paramtree.NodeInfo) *AutomaticSession {
	memory := map[string]*pathData{}
	for path, info := range pathToInfo {
		memory[strings.ToLower(path)] = &pathData{
			value: int64(0),
			info:  info,
		}
	}
	return &AutomaticSession{
		memory: memory,
	}
}

// NewAutomaticSessionForPaths registers the paths with default metadata.
func NewAutomaticSessionForPaths(paths []string) *AutomaticSession {
	pathToInfo := map[string]paramtree.NodeInfo{}
	for _, path := range paths {
		pathToInfo[path] = paramtree.DefaultNodeInfo(path)
	}
	return NewAutomaticSession(pathToInfo)
}

// timestamp must be called with the state lock held.
func (self *AutomaticSession) timestamp() int64 {
	timestamp := time.Now().UnixNano()
	if timestamp <= self.lastTimestamp {
		timestamp = self.lastTimestamp + 1
	}
	self.lastTimestamp = timestamp
	return timestamp
}

// matchExpression reports whether path falls under the expression. Wildcard
// segments match exactly one concrete segment; paths extending below a fully
// matched expression are included.
func matchExpression(expression string, path string) bool {
	expressionSegments := paramtree.SplitPath(strings.ToLower(expression))
	pathSegments := paramtree.SplitPath(strings.ToLower(path))
	if len(pathSegments) < len(expressionSegments) {
		return false
	}
	for i, expressionSegment := range expressionSegments {
		if expressionSegment != paramtree.Wildcard && expressionSegment != pathSegments[i] {
			return false
		}
	}
	return true
}

func (self *AutomaticSession) matchPaths(expression string) []string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	matched := []string{}
	for path := range self.memory {
		if matchExpression(expression, path) {
			matched = append(matched, path)
		}
	}
	slices.Sort(matched)
	return matched
}

func (self *AutomaticSession) ListNodes(ctx context.Context, path string, flags paramtree.ListNodesFlags) ([]string, error) {
	return self.matchPaths(path), nil
}

func (self *AutomaticSession) ListNodesInfo(ctx context.Context, path string, flags paramtree.ListNodesFlags) (map[string]paramtree.NodeInfo, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	pathToInfo := map[string]paramtree.NodeInfo{}
	for candidate, data := range self.memory {
		if matchExpression(path, candidate) {
			pathToInfo[candidate] = data.info
		}
	}
	return pathToInfo, nil
}

func (self *AutomaticSession) Get(ctx context.Context, path string) (paramtree.AnnotatedValue, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	data, ok := self.memory[strings.ToLower(path)]
	if !ok {
		return paramtree.AnnotatedValue{}, fmt.Errorf("%s not found, cannot get", path)
	}
	return paramtree.AnnotatedValue{
		Value:     data.value,
		Path:      strings.ToLower(path),
		Timestamp: self.timestamp(),
	}, nil
}

func (self *AutomaticSession) GetWithExpression(ctx context.Context, pathExpression string, flags paramtree.ListNodesFlags) ([]paramtree.AnnotatedValue, error) {
	values := []paramtree.AnnotatedValue{}
	for _, path := range self.matchPaths(pathExpression) {
		value, err := self.Get(ctx, path)
		if err != nil {
			return nil, err
		}
		values = append(values, value)
	}
	return values, nil
}

func (self *AutomaticSession) Set(ctx context.Context, value paramtree.AnnotatedValue) (paramtree.AnnotatedValue, error) {
	path := strings.ToLower(value.Path)

	self.stateLock.Lock()
	data, ok := self.memory[path]
	if !ok {
		self.stateLock.Unlock()
		return paramtree.AnnotatedValue{}, fmt.Errorf("%s not found, cannot set", value.Path)
	}
	data.value = value.Value
	acknowledged := paramtree.AnnotatedValue{
		Value:     value.Value,
		Path:      path,
		Timestamp: self.timestamp(),
	}
	handle := data.handle
	self.stateLock.Unlock()

	// distribute outside the state lock so that a no-interest callback can
	// take the lock again
	if handle != nil {
		handle.Distribute(acknowledged)
	}
	return acknowledged, nil
}

func (self *AutomaticSession) SetWithExpression(ctx context.Context, value paramtree.AnnotatedValue) ([]paramtree.AnnotatedValue, error) {
	acknowledged := []paramtree.AnnotatedValue{}
	for _, path := range self.matchPaths(value.Path) {
		one, err := self.Set(ctx, paramtree.AnnotatedValue{
			Value: value.Value,
			Path:  path,
		})
		if err != nil {
			return nil, err
		}
		acknowledged = append(acknowledged, one)
	}
	return acknowledged, nil
}

func (self *AutomaticSession) Subscribe(ctx context.Context, path string, parser paramtree.Parser) (*paramtree.DataQueue, error) {
	normalPath := strings.ToLower(path)

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	data, ok := self.memory[normalPath]
	if !ok {
		return nil, fmt.Errorf("%s not found, cannot subscribe", path)
	}
	if data.handle == nil {
		data.handle = paramtree.NewStreamingHandle(normalPath, parser, func() {
			self.unsubscribe(normalPath)
		})
		glog.V(2).Infof("[mock]subscribe %s\n", normalPath)
	}
	return data.handle.NewQueue(0), nil
}

func (self *AutomaticSession) unsubscribe(path string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if data, ok := self.memory[path]; ok {
		data.handle = nil
		glog.V(2).Infof("[mock]unsubscribe %s\n", path)
	}
}

// Paths returns all known paths, sorted.
func (self *AutomaticSession) Paths() []string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	paths := maps.Keys(self.memory)
	slices.Sort(paths)
	return paths
}
