package paramtree

import (
	"context"
	"errors"
	"sync"

	"github.com/golang/glog"
	"golang.org/x/exp/slices"
)

var errQueueFull = errors.New("queue full")
var errQueueDisconnected = errors.New("queue disconnected")

// StreamingHandle is the distribution point for one remote subscription.
// Each push update is parsed once and enqueued into every registered queue.
// A queue that cannot keep up is disconnected and dropped, never silently
// retained. When the last queue goes away, `onNoInterest` fires once so the
// owner can tear down the remote subscription.
type StreamingHandle struct {
	path   string
	parser Parser

	onNoInterest func()

	stateLock       sync.Mutex
	queues          []*DataQueue
	noInterestFired bool
}

func NewStreamingHandle(path string, parser Parser, onNoInterest func()) *StreamingHandle {
	if parser == nil {
		parser = IdentityParser
	}
	return &StreamingHandle{
		path:         path,
		parser:       parser,
		onNoInterest: onNoInterest,
		queues:       []*DataQueue{},
	}
}

func (self *StreamingHandle) Path() string {
	return self.path
}

// NewQueue registers a new consumer queue. capacity <= 0 means unbounded.
func (self *StreamingHandle) NewQueue(capacity int) *DataQueue {
	queue := newDataQueue(self, capacity)

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.queues = append(self.queues, queue)
	return queue
}

func (self *StreamingHandle) NumQueues() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return len(self.queues)
}

// Distribute parses one push update and enqueues it into every live queue.
// A full queue is permanently disconnected and dropped. An already
// disconnected queue is dropped without touching it again.
func (self *StreamingHandle) Distribute(value AnnotatedValue) {
	parsed := self.parser(value)

	self.stateLock.Lock()
	liveQueues := make([]*DataQueue, 0, len(self.queues))
	for _, queue := range self.queues {
		switch err := queue.push(parsed); {
		case err == nil:
			liveQueues = append(liveQueues, queue)
		case errors.Is(err, errQueueFull):
			queue.markDisconnected()
			glog.Infof("[stream]%s backpressure, dropping queue\n", self.path)
		case errors.Is(err, errQueueDisconnected):
			// drop without re-disconnecting
		}
	}
	self.queues = liveQueues
	fireNoInterest := len(self.queues) == 0 && !self.noInterestFired
	if fireNoInterest {
		self.noInterestFired = true
	}
	self.stateLock.Unlock()

	if fireNoInterest && self.onNoInterest != nil {
		self.onNoInterest()
	}
}

func (self *StreamingHandle) remove(queue *DataQueue) {
	self.stateLock.Lock()
	self.queues = slices.DeleteFunc(self.queues, func(q *DataQueue) bool {
		return q == queue
	})
	fireNoInterest := len(self.queues) == 0 && !self.noInterestFired
	if fireNoInterest {
		self.noInterestFired = true
	}
	self.stateLock.Unlock()

	if fireNoInterest && self.onNoInterest != nil {
		self.onNoInterest()
	}
}

// DataQueue is one consumer's view of a subscription. It buffers updates in
// arrival order and moves from connected to disconnected exactly once, never
// back. A disconnected queue still drains its buffered items.
type DataQueue struct {
	handle *StreamingHandle

	stateLock    sync.Mutex
	update       chan struct{}
	items        []AnnotatedValue
	capacity     int
	disconnected bool
}

func newDataQueue(handle *StreamingHandle, capacity int) *DataQueue {
	return &DataQueue{
		handle:   handle,
		update:   make(chan struct{}),
		items:    []AnnotatedValue{},
		capacity: capacity,
	}
}

func (self *DataQueue) Path() string {
	return self.handle.path
}

func (self *DataQueue) Connected() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return !self.disconnected
}

func (self *DataQueue) Len() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return len(self.items)
}

func (self *DataQueue) Capacity() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.capacity
}

// SetCapacity adjusts the capacity. Shrinking below the currently buffered
// count is rejected.
func (self *DataQueue) SetCapacity(capacity int) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.disconnected {
		return streamingError("queue %s is disconnected", self.handle.path)
	}
	if 0 < capacity && capacity < len(self.items) {
		return streamingError("capacity %d below %d buffered items", capacity, len(self.items))
	}
	self.capacity = capacity
	return nil
}

// Get returns the next buffered update, blocking while the queue is empty
// and connected. Buffered items remain readable after a disconnect.
func (self *DataQueue) Get(ctx context.Context) (AnnotatedValue, error) {
	for {
		self.stateLock.Lock()
		if 0 < len(self.items) {
			item := self.items[0]
			self.items = self.items[1:]
			self.stateLock.Unlock()
			return item, nil
		}
		if self.disconnected {
			self.stateLock.Unlock()
			return AnnotatedValue{}, ErrEmptyDisconnected
		}
		update := self.update
		self.stateLock.Unlock()

		select {
		case <-ctx.Done():
			return AnnotatedValue{}, ctx.Err()
		case <-update:
		}
	}
}

// Fork registers an independently disconnectable queue against the same
// subscription. The fork starts empty with unbounded capacity.
func (self *DataQueue) Fork() (*DataQueue, error) {
	self.stateLock.Lock()
	if self.disconnected {
		self.stateLock.Unlock()
		return nil, streamingError("cannot fork disconnected queue %s", self.handle.path)
	}
	self.stateLock.Unlock()

	return self.handle.NewQueue(0), nil
}

// Disconnect removes the queue from its subscription. Terminal.
func (self *DataQueue) Disconnect() {
	self.stateLock.Lock()
	if self.disconnected {
		self.stateLock.Unlock()
		return
	}
	self.disconnected = true
	self.notifyAll()
	self.stateLock.Unlock()

	self.handle.remove(self)
}

// markDisconnected is used by the handle while it already owns the registry.
func (self *DataQueue) markDisconnected() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if !self.disconnected {
		self.disconnected = true
		self.notifyAll()
	}
}

func (self *DataQueue) push(item AnnotatedValue) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.disconnected {
		return errQueueDisconnected
	}
	if 0 < self.capacity && self.capacity <= len(self.items) {
		return errQueueFull
	}
	self.items = append(self.items, item)
	self.notifyAll()
	return nil
}

// notifyAll must be called with the state lock held.
func (self *DataQueue) notifyAll() {
	close(self.update)
	self.update = make(chan struct{})
}
