package paramtree

import (
	"context"
	"errors"
	"sync"
)

// writeGroupExpression locates the marker leaf that brackets a grouped write
// on servers that support atomic grouping.
const writeGroupExpression = "*/system/writegroup"

// transactionMarker probes once whether the session supports atomic write
// grouping. The probe result is cached for the lifetime of the manager. An
// empty marker path means grouping is unsupported.
func (self *TreeManager) transactionMarker(ctx context.Context) (string, error) {
	self.transactionLock.Lock()
	defer self.transactionLock.Unlock()

	if self.transactionProbed {
		return self.transactionMarkerPath, nil
	}
	paths, err := self.session.ListNodes(ctx, writeGroupExpression, ListNodesAbsolute|ListNodesLeavesOnly)
	if err != nil {
		return "", err
	}
	self.transactionProbed = true
	if 0 < len(paths) {
		self.transactionMarkerPath = paths[0]
	}
	return self.transactionMarkerPath, nil
}

// Transaction batches writes. Every Set dispatches immediately; all writes
// are awaited together at End, and one write's failure does not cancel the
// others. On servers with atomic grouping support the batch is bracketed
// between marker writes, otherwise the writes are plain concurrent sets.
type Transaction struct {
	treeManager *TreeManager
	markerPath  string

	stateLock sync.Mutex
	waits     sync.WaitGroup
	errs      []error
}

// BeginTransaction opens a grouped write scope.
func (self *TreeManager) BeginTransaction(ctx context.Context) (*Transaction, error) {
	markerPath, err := self.transactionMarker(ctx)
	if err != nil {
		return nil, err
	}
	if markerPath != "" {
		if _, err := self.session.Set(ctx, AnnotatedValue{Value: int64(1), Path: markerPath}); err != nil {
			return nil, err
		}
	}
	return &Transaction{
		treeManager: self,
		markerPath:  markerPath,
		errs:        []error{},
	}, nil
}

// Set dispatches one write. The result is collected at End.
func (self *Transaction) Set(ctx context.Context, path string, value Value) {
	self.waits.Add(1)
	go func() {
		defer self.waits.Done()
		_, err := self.treeManager.Session().Set(ctx, AnnotatedValue{
			Value: value,
			Path:  path,
		})
		if err != nil {
			self.stateLock.Lock()
			self.errs = append(self.errs, err)
			self.stateLock.Unlock()
		}
	}()
}

// End awaits all dispatched writes and closes the group. The returned error
// joins every failed write.
func (self *Transaction) End(ctx context.Context) error {
	self.waits.Wait()

	self.stateLock.Lock()
	errs := self.errs
	self.errs = nil
	self.stateLock.Unlock()

	if self.markerPath != "" {
		if _, err := self.treeManager.Session().Set(ctx, AnnotatedValue{Value: int64(0), Path: self.markerPath}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
