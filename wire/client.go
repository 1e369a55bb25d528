package wire

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/attolab/paramtree"
	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
)

const sendBufferSize = 32

type ClientSessionSettings struct {
	WsHandshakeTimeout time.Duration
	AuthTimeout        time.Duration
	PingTimeout        time.Duration
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration
}

func DefaultClientSessionSettings() *ClientSessionSettings {
	return &ClientSessionSettings{
		WsHandshakeTimeout: 2 * time.Second,
		AuthTimeout:        2 * time.Second,
		PingTimeout:        1 * time.Second,
		WriteTimeout:       5 * time.Second,
		ReadTimeout:        15 * time.Second,
	}
}

// ClientSession speaks the JSON frame protocol to a remote server and
// implements the Session interface. Requests are correlated to responses by
// id; push updates are routed to the streaming handle of their subscription.
//
// A broken connection fails all pending and future calls. Reconnecting is
// the caller's concern, typically by constructing a fresh tree on a fresh
// session.
type ClientSession struct {
	ctx    context.Context
	cancel context.CancelFunc

	url      string
	settings *ClientSessionSettings

	ws *websocket.Conn

	send chan *message

	stateLock       sync.Mutex
	pendingRequests map[string]chan *message
	subscriptions   map[string]*paramtree.StreamingHandle
	closed          bool
}

// Connect dials the server and, if byJwt is not empty, authenticates with it
// before any other frame.
func Connect(ctx context.Context, url string, byJwt string, settings *ClientSessionSettings) (*ClientSession, error) {
	if settings == nil {
		settings = DefaultClientSessionSettings()
	}

	dialer := &websocket.Dialer{
		HandshakeTimeout: settings.WsHandshakeTimeout,
	}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	success := false
	defer func() {
		if !success {
			ws.Close()
		}
	}()

	if byJwt != "" {
		ws.SetWriteDeadline(time.Now().Add(settings.AuthTimeout))
		if err := ws.WriteJSON(&message{Op: opAuth, Token: byJwt}); err != nil {
			return nil, err
		}
		ws.SetReadDeadline(time.Now().Add(settings.AuthTimeout))
		response := &message{}
		if err := ws.ReadJSON(response); err != nil {
			return nil, err
		}
		if response.Error != "" {
			return nil, errors.New(response.Error)
		}
	}

	cancelCtx, cancel := context.WithCancel(ctx)
	clientSession := &ClientSession{
		ctx:             cancelCtx,
		cancel:          cancel,
		url:             url,
		settings:        settings,
		ws:              ws,
		send:            make(chan *message, sendBufferSize),
		pendingRequests: map[string]chan *message{},
		subscriptions:   map[string]*paramtree.StreamingHandle{},
	}
	go clientSession.writeLoop()
	go clientSession.readLoop()

	success = true
	return clientSession, nil
}

func (self *ClientSession) writeLoop() {
	defer self.shutdown()

	for {
		select {
		case <-self.ctx.Done():
			return
		case m := <-self.send:
			self.ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
			if err := self.ws.WriteJSON(m); err != nil {
				glog.Infof("[wire]-> error = %s\n", err)
				return
			}
			glog.V(2).Infof("[wire]->%s\n", m.Op)
		case <-time.After(self.settings.PingTimeout):
			self.ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
			if err := self.ws.WriteJSON(&message{Op: opPing}); err != nil {
				return
			}
		}
	}
}

func (self *ClientSession) readLoop() {
	defer self.shutdown()

	for {
		select {
		case <-self.ctx.Done():
			return
		default:
		}

		self.ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		m := &message{}
		if err := self.ws.ReadJSON(m); err != nil {
			glog.Infof("[wire]<- error = %s\n", err)
			return
		}

		switch m.Op {
		case opPing:
			glog.V(2).Infof("[wire]ping<-\n")
		case opUpdate:
			self.distribute(m)
		default:
			self.stateLock.Lock()
			pending, ok := self.pendingRequests[m.Id]
			if ok {
				delete(self.pendingRequests, m.Id)
			}
			self.stateLock.Unlock()
			if ok {
				pending <- m
			} else {
				glog.V(2).Infof("[wire]drop unmatched %s<-\n", m.Op)
			}
		}
	}
}

func (self *ClientSession) distribute(m *message) {
	self.stateLock.Lock()
	handle, ok := self.subscriptions[m.SubscriptionId]
	self.stateLock.Unlock()
	if !ok {
		glog.V(2).Infof("[wire]drop update for unknown subscription\n")
		return
	}
	value, err := decodeAnnotatedValue(m.Value)
	if err != nil {
		glog.Infof("[wire]bad update payload = %s\n", err)
		return
	}
	handle.Distribute(value)
}

func (self *ClientSession) shutdown() {
	self.cancel()
	self.ws.Close()

	self.stateLock.Lock()
	if self.closed {
		self.stateLock.Unlock()
		return
	}
	self.closed = true
	pendingRequests := self.pendingRequests
	self.pendingRequests = map[string]chan *message{}
	self.stateLock.Unlock()

	for _, pending := range pendingRequests {
		close(pending)
	}
}

func (self *ClientSession) Close() {
	self.shutdown()
}

func (self *ClientSession) request(ctx context.Context, m *message) (*message, error) {
	m.Id = ulid.Make().String()

	pending := make(chan *message, 1)
	self.stateLock.Lock()
	if self.closed {
		self.stateLock.Unlock()
		return nil, fmt.Errorf("session closed")
	}
	self.pendingRequests[m.Id] = pending
	self.stateLock.Unlock()

	removePending := func() {
		self.stateLock.Lock()
		delete(self.pendingRequests, m.Id)
		self.stateLock.Unlock()
	}

	select {
	case <-ctx.Done():
		removePending()
		return nil, ctx.Err()
	case <-self.ctx.Done():
		removePending()
		return nil, fmt.Errorf("session closed")
	case self.send <- m:
	}

	select {
	case <-ctx.Done():
		removePending()
		return nil, ctx.Err()
	case response, ok := <-pending:
		if !ok {
			return nil, fmt.Errorf("session closed")
		}
		if response.Error != "" {
			return nil, errors.New(response.Error)
		}
		return response, nil
	}
}

func (self *ClientSession) ListNodes(ctx context.Context, path string, flags paramtree.ListNodesFlags) ([]string, error) {
	response, err := self.request(ctx, &message{
		Op:    opListNodes,
		Path:  path,
		Flags: int(flags),
	})
	if err != nil {
		return nil, err
	}
	return response.Paths, nil
}

func (self *ClientSession) ListNodesInfo(ctx context.Context, path string, flags paramtree.ListNodesFlags) (map[string]paramtree.NodeInfo, error) {
	response, err := self.request(ctx, &message{
		Op:    opListNodesInfo,
		Path:  path,
		Flags: int(flags),
	})
	if err != nil {
		return nil, err
	}
	return response.PathToInfo, nil
}

func (self *ClientSession) Get(ctx context.Context, path string) (paramtree.AnnotatedValue, error) {
	response, err := self.request(ctx, &message{
		Op:   opGet,
		Path: path,
	})
	if err != nil {
		return paramtree.AnnotatedValue{}, err
	}
	return decodeAnnotatedValue(response.Value)
}

func (self *ClientSession) GetWithExpression(ctx context.Context, pathExpression string, flags paramtree.ListNodesFlags) ([]paramtree.AnnotatedValue, error) {
	response, err := self.request(ctx, &message{
		Op:    opGetWithExpression,
		Path:  pathExpression,
		Flags: int(flags),
	})
	if err != nil {
		return nil, err
	}
	return decodeAnnotatedValues(response.Values)
}

func (self *ClientSession) Set(ctx context.Context, value paramtree.AnnotatedValue) (paramtree.AnnotatedValue, error) {
	encoded, err := encodeAnnotatedValue(value)
	if err != nil {
		return paramtree.AnnotatedValue{}, err
	}
	response, err := self.request(ctx, &message{
		Op:    opSet,
		Value: encoded,
	})
	if err != nil {
		return paramtree.AnnotatedValue{}, err
	}
	return decodeAnnotatedValue(response.Value)
}

func (self *ClientSession) SetWithExpression(ctx context.Context, value paramtree.AnnotatedValue) ([]paramtree.AnnotatedValue, error) {
	encoded, err := encodeAnnotatedValue(value)
	if err != nil {
		return nil, err
	}
	response, err := self.request(ctx, &message{
		Op:    opSetWithExpression,
		Value: encoded,
	})
	if err != nil {
		return nil, err
	}
	return decodeAnnotatedValues(response.Values)
}

func (self *ClientSession) Subscribe(ctx context.Context, path string, parser paramtree.Parser) (*paramtree.DataQueue, error) {
	response, err := self.request(ctx, &message{
		Op:   opSubscribe,
		Path: path,
	})
	if err != nil {
		return nil, err
	}
	subscriptionId := response.SubscriptionId
	if subscriptionId == "" {
		return nil, fmt.Errorf("missing subscription id")
	}

	handle := paramtree.NewStreamingHandle(path, parser, func() {
		// the no-interest callback can fire on the read loop goroutine,
		// which must never wait on its own response
		go self.unsubscribe(subscriptionId)
	})

	self.stateLock.Lock()
	self.subscriptions[subscriptionId] = handle
	self.stateLock.Unlock()

	return handle.NewQueue(0), nil
}

func (self *ClientSession) unsubscribe(subscriptionId string) {
	self.stateLock.Lock()
	delete(self.subscriptions, subscriptionId)
	closed := self.closed
	self.stateLock.Unlock()
	if closed {
		return
	}

	// best effort, the server also drops subscriptions on disconnect
	ctx, cancel := context.WithTimeout(self.ctx, self.settings.WriteTimeout)
	defer cancel()
	if _, err := self.request(ctx, &message{
		Op:             opUnsubscribe,
		SubscriptionId: subscriptionId,
	}); err != nil {
		glog.V(2).Infof("[wire]unsubscribe error = %s\n", err)
	}
}
