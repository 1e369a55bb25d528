package paramtree_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/attolab/paramtree"
	"github.com/attolab/paramtree/mock"
)

func newTestTree(t *testing.T, paths []string, hideCommonPrefix bool) paramtree.Node {
	session := mock.NewAutomaticSessionForPaths(paths)
	root, err := paramtree.ConstructNodetree(context.Background(), session, &paramtree.NodetreeSettings{
		HideCommonPrefix: hideCommonPrefix,
	})
	assert.Equal(t, nil, err)
	return root
}

func TestTreeNavigation(t *testing.T) {
	root := newTestTree(t, []string{"/a/b", "/a/c"}, false)

	a, err := root.Child("a")
	assert.Equal(t, nil, err)
	assert.Equal(t, "/a", a.Path())

	b, err := a.Child("b")
	assert.Equal(t, nil, err)
	assert.Equal(t, "/a/b", b.Path())

	n, err := a.NumChildren()
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, n)

	contains, err := a.Contains("b")
	assert.Equal(t, nil, err)
	assert.Equal(t, true, contains)
	contains, err = a.Contains("z")
	assert.Equal(t, nil, err)
	assert.Equal(t, false, contains)

	names, err := a.ChildNames()
	assert.Equal(t, nil, err)
	assert.Equal(t, []string{"b", "c"}, names)

	// navigation is case insensitive and strips escape underscores
	b2, err := root.Resolve("A/B_")
	assert.Equal(t, nil, err)
	assert.Equal(t, "/a/b", b2.Path())
}

func TestNodeIdentity(t *testing.T) {
	root := newTestTree(t, []string{"/a/b", "/a/c"}, false)
	treeManager := root.TreeManager()

	first, err := treeManager.PathToNode("/a/b")
	assert.Equal(t, nil, err)
	second, err := treeManager.PathToNode("/A/b")
	assert.Equal(t, nil, err)
	assert.Equal(t, true, first == second)

	third, err := root.Resolve("a/b")
	assert.Equal(t, nil, err)
	assert.Equal(t, true, first == third)
}

func TestInvalidPaths(t *testing.T) {
	root := newTestTree(t, []string{"/a"}, false)

	// extending a leaf
	_, err := root.Resolve("a/b")
	assert.Equal(t, true, errors.Is(err, paramtree.ErrInvalidPath))

	// absent segment
	root2 := newTestTree(t, []string{"/a/b"}, false)
	_, err = root2.Resolve("a/z")
	assert.Equal(t, true, errors.Is(err, paramtree.ErrInvalidPath))
}

func TestHideCommonPrefix(t *testing.T) {
	root := newTestTree(t, []string{"/dev1000/demods/0/rate", "/dev1000/demods/1/rate"}, true)
	assert.Equal(t, "/dev1000", root.Path())

	demods, err := root.Child("demods")
	assert.Equal(t, nil, err)
	assert.Equal(t, "/dev1000/demods", demods.Path())
}

func TestLeafGetSet(t *testing.T) {
	ctx := context.Background()
	root := newTestTree(t, []string{"/a/b", "/a/c"}, false)

	node, err := root.Resolve("a/b")
	assert.Equal(t, nil, err)
	leaf, ok := node.(*paramtree.LeafNode)
	assert.Equal(t, true, ok)

	acknowledged, err := leaf.Set(ctx, int64(5))
	assert.Equal(t, nil, err)
	assert.Equal(t, int64(5), acknowledged.Value)
	assert.Equal(t, "/a/b", acknowledged.Path)

	value, err := leaf.Get(ctx)
	assert.Equal(t, nil, err)
	assert.Equal(t, int64(5), value.Value)
	assert.Equal(t, true, 0 < value.Timestamp)
}

func TestLeafSubscribeOrder(t *testing.T) {
	ctx := context.Background()
	root := newTestTree(t, []string{"/a/b", "/a/c"}, false)

	node, err := root.Resolve("a/b")
	assert.Equal(t, nil, err)
	leaf := node.(*paramtree.LeafNode)

	queue, err := leaf.Subscribe(ctx)
	assert.Equal(t, nil, err)
	defer queue.Disconnect()

	for _, v := range []int64{7, 3, 5} {
		_, err := leaf.Set(ctx, v)
		assert.Equal(t, nil, err)
	}

	for _, expected := range []int64{7, 3, 5} {
		value, err := queue.Get(ctx)
		assert.Equal(t, nil, err)
		assert.Equal(t, expected, value.Value)
	}
	assert.Equal(t, 0, queue.Len())

	// writes to a sibling leaf do not reach this queue
	c := root.TreeManager()
	cNode, err := c.PathToNode("/a/c")
	assert.Equal(t, nil, err)
	_, err = cNode.(*paramtree.LeafNode).Set(ctx, int64(9))
	assert.Equal(t, nil, err)
	assert.Equal(t, 0, queue.Len())
}

func TestPartialSubscribeFails(t *testing.T) {
	ctx := context.Background()
	root := newTestTree(t, []string{"/a/b", "/a/c"}, false)

	a, err := root.Child("a")
	assert.Equal(t, nil, err)
	_, err = a.Subscribe(ctx)
	assert.Equal(t, true, errors.Is(err, paramtree.ErrInappropriateNodeType))

	err = a.WaitForStateChange(ctx, int64(1), false)
	assert.Equal(t, true, errors.Is(err, paramtree.ErrInappropriateNodeType))
}

func TestPartialGet(t *testing.T) {
	ctx := context.Background()
	root := newTestTree(t, []string{"/a/b", "/a/c", "/d"}, false)

	a, err := root.Child("a")
	assert.Equal(t, nil, err)
	partial := a.(*paramtree.PartialNode)

	result, err := partial.Set(ctx, int64(4))
	assert.Equal(t, nil, err)
	results := result.Results()
	assert.Equal(t, 2, len(results))

	// the result is rooted at the tree root and navigable by real segments
	node, err := result.Resolve("a/b")
	assert.Equal(t, nil, err)
	leaf := node.(*paramtree.ResultNode)
	assert.Equal(t, true, leaf.IsLeaf())
	value, err := leaf.Value()
	assert.Equal(t, nil, err)
	assert.Equal(t, int64(4), value.Value)

	// paths outside the capture are rejected
	_, err = result.Resolve("d")
	assert.Equal(t, true, errors.Is(err, paramtree.ErrInvalidPath))
}

func TestWildcardResult(t *testing.T) {
	ctx := context.Background()
	root := newTestTree(t, []string{"/a/b/c", "/a/x/c", "/a/b/d"}, false)

	node, err := root.Resolve("a/*/c")
	assert.Equal(t, nil, err)
	wildcard, ok := node.(*paramtree.WildcardNode)
	assert.Equal(t, true, ok)

	result, err := wildcard.Get(ctx)
	assert.Equal(t, nil, err)

	// one match group per distinct matched prefix, sorted and indexed
	names, err := result.ChildNames()
	assert.Equal(t, nil, err)
	assert.Equal(t, []string{"0", "1"}, names)

	first, err := result.Child("0")
	assert.Equal(t, nil, err)
	assert.Equal(t, "/a/b/c", first.Path())
	value, err := first.(*paramtree.ResultNode).Value()
	assert.Equal(t, nil, err)
	assert.Equal(t, "/a/b/c", value.Path)

	second, err := result.Child("1")
	assert.Equal(t, nil, err)
	assert.Equal(t, "/a/x/c", second.Path())

	assert.Equal(t, 2, len(result.Results()))

	// wildcards below a result are rejected
	_, err = result.Child("*")
	assert.Equal(t, true, errors.Is(err, paramtree.ErrInappropriateNodeType))
}

func TestWildcardNavigationNeverFails(t *testing.T) {
	root := newTestTree(t, []string{"/a/b/c"}, false)

	node, err := root.Resolve("a/*")
	assert.Equal(t, nil, err)
	_, ok := node.(*paramtree.WildcardNode)
	assert.Equal(t, true, ok)

	// any extension is legal before remote resolution
	deeper, err := node.Child("nonexistent")
	assert.Equal(t, nil, err)
	assert.Equal(t, "/a/*/nonexistent", deeper.Path())

	// shape queries are undefined on a wildcard
	_, err = node.ChildNames()
	assert.Equal(t, true, errors.Is(err, paramtree.ErrInappropriateNodeType))
}

func TestWaitForStateChange(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	root := newTestTree(t, []string{"/a/b"}, false)
	node, err := root.Resolve("a/b")
	assert.Equal(t, nil, err)
	leaf := node.(*paramtree.LeafNode)

	// already satisfied, returns from the baseline read
	err = leaf.WaitForStateChange(ctx, int64(0), false)
	assert.Equal(t, nil, err)

	done := make(chan error, 1)
	go func() {
		done <- leaf.WaitForStateChange(ctx, int64(5), false)
	}()
	time.Sleep(50 * time.Millisecond)
	_, err = leaf.Set(ctx, int64(5))
	assert.Equal(t, nil, err)
	assert.Equal(t, nil, <-done)

	// inverted wait returns once the value moves away
	go func() {
		done <- leaf.WaitForStateChange(ctx, int64(5), true)
	}()
	time.Sleep(50 * time.Millisecond)
	_, err = leaf.Set(ctx, int64(6))
	assert.Equal(t, nil, err)
	assert.Equal(t, nil, <-done)
}

func TestWildcardWaitForStateChange(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	root := newTestTree(t, []string{"/a/0/enable", "/a/1/enable"}, false)
	node, err := root.Resolve("a/*/enable")
	assert.Equal(t, nil, err)
	wildcard := node.(*paramtree.WildcardNode)

	done := make(chan error, 1)
	go func() {
		done <- wildcard.WaitForStateChange(ctx, int64(3), false)
	}()

	// the wait holds until every matched leaf reaches the value
	leaf0, err := root.Resolve("a/0/enable")
	assert.Equal(t, nil, err)
	_, err = leaf0.(*paramtree.LeafNode).Set(ctx, int64(3))
	assert.Equal(t, nil, err)
	select {
	case err := <-done:
		t.Fatalf("wait returned with one leaf pending, err = %s", err)
	case <-time.After(100 * time.Millisecond):
	}

	leaf1, err := root.Resolve("a/1/enable")
	assert.Equal(t, nil, err)
	_, err = leaf1.(*paramtree.LeafNode).Set(ctx, int64(3))
	assert.Equal(t, nil, err)
	assert.Equal(t, nil, <-done)

	// a listed path missing from the metadata snapshot surfaces in the
	// joined error while the known leaves are still awaited
	session := mock.NewAutomaticSessionForPaths([]string{
		"/a/0/enable",
		"/a/1/enable",
	})
	pathToInfo := map[string]paramtree.NodeInfo{
		"/a/0/enable": paramtree.DefaultNodeInfo("/a/0/enable"),
	}
	treeManager := paramtree.NewTreeManager(session, nil, pathToInfo)
	staleNode, err := treeManager.PathToNode("/a/*/enable")
	assert.Equal(t, nil, err)
	err = staleNode.(*paramtree.WildcardNode).WaitForStateChange(ctx, int64(0), false)
	assert.Equal(t, true, errors.Is(err, paramtree.ErrInvalidPath))
}

func TestTransaction(t *testing.T) {
	ctx := context.Background()

	// without the marker leaf the writes still apply, unbracketed
	root := newTestTree(t, []string{"/dev1/demods/0/rate", "/dev1/demods/1/rate"}, false)
	transaction, err := root.TreeManager().BeginTransaction(ctx)
	assert.Equal(t, nil, err)
	transaction.Set(ctx, "/dev1/demods/0/rate", int64(100))
	transaction.Set(ctx, "/dev1/demods/1/rate", int64(200))
	assert.Equal(t, nil, transaction.End(ctx))

	node, err := root.Resolve("dev1/demods/0/rate")
	assert.Equal(t, nil, err)
	value, err := node.(*paramtree.LeafNode).Get(ctx)
	assert.Equal(t, nil, err)
	assert.Equal(t, int64(100), value.Value)

	// with the marker leaf the batch is bracketed between marker writes
	session := mock.NewAutomaticSessionForPaths([]string{
		"/dev1/demods/0/rate",
		"/dev1/system/writegroup",
	})
	root2, err := paramtree.ConstructNodetree(ctx, session, &paramtree.NodetreeSettings{})
	assert.Equal(t, nil, err)

	markerQueue, err := session.Subscribe(ctx, "/dev1/system/writegroup", nil)
	assert.Equal(t, nil, err)
	defer markerQueue.Disconnect()

	transaction2, err := root2.TreeManager().BeginTransaction(ctx)
	assert.Equal(t, nil, err)
	transaction2.Set(ctx, "/dev1/demods/0/rate", int64(300))
	assert.Equal(t, nil, transaction2.End(ctx))

	begin, err := markerQueue.Get(ctx)
	assert.Equal(t, nil, err)
	assert.Equal(t, int64(1), begin.Value)
	end, err := markerQueue.Get(ctx)
	assert.Equal(t, nil, err)
	assert.Equal(t, int64(0), end.Value)

	value2, err := session.Get(ctx, "/dev1/demods/0/rate")
	assert.Equal(t, nil, err)
	assert.Equal(t, int64(300), value2.Value)

	// failed writes are collected, not dropped
	transaction3, err := root2.TreeManager().BeginTransaction(ctx)
	assert.Equal(t, nil, err)
	transaction3.Set(ctx, "/dev1/nonexistent", int64(1))
	assert.NotEqual(t, nil, transaction3.End(ctx))
}

func TestEnumTree(t *testing.T) {
	ctx := context.Background()

	session := mock.NewAutomaticSession(map[string]paramtree.NodeInfo{
		"/a/enable": {
			Path:       "/a/enable",
			Properties: "Read, Write, Setting",
			Type:       "Integer (enumerated)",
			Options: map[int64]string{
				0: `"off": Output disabled`,
				1: `"on": Output enabled`,
			},
		},
		"/a/rate": paramtree.DefaultNodeInfo("/a/rate"),
	})
	root, err := paramtree.ConstructNodetree(ctx, session, nil)
	assert.Equal(t, nil, err)
	// hide common prefix roots the tree below /a
	assert.Equal(t, "/a", root.Path())

	node, err := root.Child("enable")
	assert.Equal(t, nil, err)
	leaf := node.(*paramtree.LeafNode)

	value, err := leaf.Get(ctx)
	assert.Equal(t, nil, err)
	assert.Equal(t, paramtree.EnumValue{Value: 0, Name: "off"}, value.Value)

	info := leaf.Info()
	assert.Equal(t, true, info.IsSetting())
	assert.Equal(t, "off", info.OptionTable()[0].Keyword)
}

func TestDevice(t *testing.T) {
	ctx := context.Background()
	session := mock.NewAutomaticSessionForPaths([]string{"/dev1000/demods/0/rate"})

	device, err := paramtree.NewDevice(ctx, session, "dev1000", nil)
	assert.Equal(t, nil, err)
	assert.Equal(t, "dev1000", device.Serial())
	assert.Equal(t, "/dev1000", device.Path())

	node, err := device.Resolve("demods/0/rate")
	assert.Equal(t, nil, err)
	assert.Equal(t, "/dev1000/demods/0/rate", node.Path())
}

func TestAddNodes(t *testing.T) {
	root := newTestTree(t, []string{"/a/b"}, false)
	treeManager := root.TreeManager()

	_, err := treeManager.PathToNode("/a/z")
	assert.Equal(t, true, errors.Is(err, paramtree.ErrInvalidPath))

	treeManager.AddNodes([]string{"/a/z"})

	node, err := treeManager.PathToNode("/a/z")
	assert.Equal(t, nil, err)
	assert.Equal(t, "/a/z", node.Path())
	assert.Equal(t, true, treeManager.Info("/a/z").Writable())

	// a second top level branch becomes reachable from the absolute root
	// even when the handed out tree was rooted below the first
	treeManager.AddNodes([]string{"/b/c"}) // logs that the shape outgrew a hidden prefix
	structure, err := treeManager.FindSubstructure([]string{})
	assert.Equal(t, nil, err)
	assert.Equal(t, []string{"a", "b"}, structure.Keys())
	added, err := treeManager.PathToNode("/b/c")
	assert.Equal(t, nil, err)
	assert.Equal(t, "/b/c", added.Path())
}
