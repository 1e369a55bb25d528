package paramtree

import (
	"context"
	"strings"
	"sync"

	"github.com/golang/glog"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// TreeManager owns the known parameter space of one session: the set of leaf
// paths, their metadata, and the caches that make repeated traversal cheap.
// Nodes are lightweight views and hold no state of their own; every node
// operation funnels through the manager.
type TreeManager struct {
	session Session
	parser  Parser

	stateLock sync.Mutex

	// pathToInfo maps each known absolute leaf path to its metadata
	pathToInfo map[string]NodeInfo

	structure *Structure

	// structureCache memoizes findSubstructure results keyed by joined path
	structureCache map[string]*Structure
	// nodeCache interns nodes so that equal paths yield identical nodes
	nodeCache map[string]Node

	// grouped write support is probed once per manager
	transactionLock       sync.Mutex
	transactionProbed     bool
	transactionMarkerPath string
}

func NewTreeManager(
	session Session,
	parser Parser,
	pathToInfo map[string]NodeInfo,
) *TreeManager {
	if parser == nil {
		parser = IdentityParser
	}
	treeManager := &TreeManager{
		session:        session,
		parser:         parser,
		pathToInfo:     map[string]NodeInfo{},
		structureCache: map[string]*Structure{},
		nodeCache:      map[string]Node{},
	}
	treeManager.addNodesWithInfo(pathToInfo)
	return treeManager
}

func (self *TreeManager) Session() Session {
	return self.session
}

func (self *TreeManager) Parser() Parser {
	return self.parser
}

// Paths returns all known absolute leaf paths, sorted.
func (self *TreeManager) Paths() []string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	paths := maps.Keys(self.pathToInfo)
	slices.Sort(paths)
	return paths
}

// Info returns the metadata for one absolute leaf path. Unknown paths get
// default metadata so that forgiving sessions remain usable.
func (self *TreeManager) Info(path string) NodeInfo {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if info, ok := self.pathToInfo[strings.ToLower(path)]; ok {
		return info
	}
	return DefaultNodeInfo(path)
}

// AddNodes registers additional leaf paths with default metadata.
func (self *TreeManager) AddNodes(paths []string) {
	pathToInfo := map[string]NodeInfo{}
	for _, path := range paths {
		pathToInfo[path] = DefaultNodeInfo(path)
	}
	self.AddNodesWithInfo(pathToInfo)
}

// AddNodesWithInfo registers additional leaf paths with metadata. The tree
// structure is rebuilt and all caches are reset; previously handed out nodes
// remain valid but may describe a stale shape.
func (self *TreeManager) AddNodesWithInfo(pathToInfo map[string]NodeInfo) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.addNodesWithInfo(pathToInfo)
	glog.V(2).Infof("[tree]added %d nodes\n", len(pathToInfo))
}

func (self *TreeManager) addNodesWithInfo(pathToInfo map[string]NodeInfo) {
	previousTopLevel := 0
	if self.structure != nil {
		previousTopLevel = self.structure.Len()
	}

	for path, info := range pathToInfo {
		self.pathToInfo[strings.ToLower(path)] = info
	}

	paths := maps.Keys(self.pathToInfo)
	slices.Sort(paths)

	suffixes := [][]string{}
	for _, path := range paths {
		suffixes = append(suffixes, SplitPath(path))
	}
	self.structure = &Structure{suffixes: suffixes}

	// caches describe the previous structure
	self.structureCache = map[string]*Structure{}
	self.nodeCache = map[string]Node{}

	// a tree rooted below its single top level segment no longer shows the
	// new branches
	if previousTopLevel == 1 && 1 < self.structure.Len() {
		glog.Infof("[tree]added nodes introduce %d top level branches, a tree built with a hidden common prefix does not reach them\n", self.structure.Len())
	}
}

// Root returns the node at the top of the tree.
func (self *TreeManager) Root() Node {
	node, err := self.PathSegmentsToNode([]string{})
	if err != nil {
		// the empty path always resolves
		panic(err)
	}
	return node
}

// FindSubstructure resolves the path segments to the substructure rooted
// there. Wildcard segments are rejected. The error identifies the first
// offending segment.
func (self *TreeManager) FindSubstructure(pathSegments []string) (*Structure, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.findSubstructure(pathSegments)
}

// findSubstructure must be called with the state lock held.
func (self *TreeManager) findSubstructure(pathSegments []string) (*Structure, error) {
	normalSegments := make([]string, len(pathSegments))
	for i, segment := range pathSegments {
		normalSegments[i] = NormalizePathSegment(segment)
	}
	key := JoinPath(normalSegments)
	if structure, ok := self.structureCache[key]; ok {
		return structure, nil
	}

	if len(normalSegments) == 0 {
		self.structureCache[key] = self.structure
		return self.structure, nil
	}

	parent, err := self.findSubstructure(normalSegments[:len(normalSegments)-1])
	if err != nil {
		return nil, err
	}
	segment := normalSegments[len(normalSegments)-1]
	if segment == Wildcard {
		return nil, invalidPathError("wildcard segment in %s", key)
	}
	if parent.IsLeaf() {
		return nil, invalidPathError("%s extends beyond leaf %s", key, JoinPath(normalSegments[:len(normalSegments)-1]))
	}
	child, ok := parent.Child(segment)
	if !ok {
		return nil, invalidPathError("%s not found in tree", key)
	}
	self.structureCache[key] = child
	return child, nil
}

// PathToNode converts a path into a node.
func (self *TreeManager) PathToNode(path string) (Node, error) {
	return self.PathSegmentsToNode(SplitPath(path))
}

// PathSegmentsToNode converts path segments into a node. Equal segment lists
// return the identical node value from the same manager.
func (self *TreeManager) PathSegmentsToNode(pathSegments []string) (Node, error) {
	normalSegments := make([]string, len(pathSegments))
	for i, segment := range pathSegments {
		normalSegments[i] = NormalizePathSegment(segment)
	}

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	key := JoinPath(normalSegments)
	if node, ok := self.nodeCache[key]; ok {
		return node, nil
	}
	node, err := buildNode(self, normalSegments)
	if err != nil {
		return nil, err
	}
	self.nodeCache[key] = node
	return node, nil
}

// NodetreeSettings configure tree construction.
type NodetreeSettings struct {
	// HideCommonPrefix roots the returned tree below a single shared
	// leading segment, typically the device id.
	HideCommonPrefix bool
	// UseEnumParser converts integer values of enumerated leaves into
	// `EnumValue`.
	UseEnumParser bool
	// CustomParser is applied after the enum parser, if any.
	CustomParser Parser
}

func DefaultNodetreeSettings() *NodetreeSettings {
	return &NodetreeSettings{
		HideCommonPrefix: true,
		UseEnumParser:    true,
	}
}

// ConstructNodetree lists the session's parameter space and returns the root
// node of a new tree.
func ConstructNodetree(ctx context.Context, session Session, settings *NodetreeSettings) (Node, error) {
	if settings == nil {
		settings = DefaultNodetreeSettings()
	}

	pathToInfo, err := session.ListNodesInfo(ctx, "*", ListNodesAll)
	if err != nil {
		return nil, err
	}
	glog.V(2).Infof("[tree]listed %d nodes\n", len(pathToInfo))

	parsers := []Parser{}
	if settings.UseEnumParser {
		normalPathToInfo := map[string]NodeInfo{}
		for path, info := range pathToInfo {
			normalPathToInfo[strings.ToLower(path)] = info
		}
		parsers = append(parsers, NewEnumParser(normalPathToInfo))
	}
	if settings.CustomParser != nil {
		parsers = append(parsers, settings.CustomParser)
	}

	treeManager := NewTreeManager(
		session,
		ChainParsers(parsers...),
		pathToInfo,
	)
	root := treeManager.Root()
	if settings.HideCommonPrefix {
		structure, err := treeManager.FindSubstructure([]string{})
		if err != nil {
			return nil, err
		}
		if keys := structure.Keys(); len(keys) == 1 {
			return root.Child(keys[0])
		} else {
			glog.Infof("[tree]cannot hide common prefix, %d top level branches\n", len(keys))
		}
	}
	return root, nil
}
