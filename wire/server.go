package wire

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/attolab/paramtree"
	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
)

type ServerSettings struct {
	// AuthSecret verifies client bearer tokens. Empty disables auth.
	AuthSecret string

	AuthTimeout  time.Duration
	PingTimeout  time.Duration
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
}

func DefaultServerSettings() *ServerSettings {
	return &ServerSettings{
		AuthTimeout:  2 * time.Second,
		PingTimeout:  1 * time.Second,
		WriteTimeout: 5 * time.Second,
		ReadTimeout:  15 * time.Second,
	}
}

// Server hosts any Session implementation over the JSON frame protocol.
// One goroutine per request keeps slow operations from blocking the
// connection; a single write loop owns the socket for writes.
type Server struct {
	ctx      context.Context
	session  paramtree.Session
	settings *ServerSettings

	upgrader websocket.Upgrader
}

func NewServer(ctx context.Context, session paramtree.Session, settings *ServerSettings) *Server {
	if settings == nil {
		settings = DefaultServerSettings()
	}
	return &Server{
		ctx:      ctx,
		session:  session,
		settings: settings,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (self *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := self.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Infof("[wire]upgrade error = %s\n", err)
		return
	}
	go self.handle(ws)
}

func (self *Server) handle(ws *websocket.Conn) {
	defer ws.Close()

	if self.settings.AuthSecret != "" {
		if err := self.authenticate(ws); err != nil {
			glog.Infof("[wire]auth error = %s\n", err)
			return
		}
	}

	handleCtx, handleCancel := context.WithCancel(self.ctx)
	defer handleCancel()

	conn := &serverConn{
		server:        self,
		ctx:           handleCtx,
		cancel:        handleCancel,
		send:          make(chan *message, sendBufferSize),
		subscriptions: map[string]*paramtree.DataQueue{},
	}
	defer conn.disconnectAll()

	go conn.writeLoop(ws)
	conn.readLoop(ws)
}

func (self *Server) authenticate(ws *websocket.Conn) error {
	ws.SetReadDeadline(time.Now().Add(self.settings.AuthTimeout))
	m := &message{}
	if err := ws.ReadJSON(m); err != nil {
		return err
	}
	if m.Op != opAuth {
		return fmt.Errorf("expected auth frame, got %s", m.Op)
	}
	subject, err := verifyToken(self.settings.AuthSecret, m.Token)
	ws.SetWriteDeadline(time.Now().Add(self.settings.AuthTimeout))
	if err != nil {
		ws.WriteJSON(&message{Op: opAuth, Error: "unauthorized"})
		return err
	}
	glog.V(2).Infof("[wire]auth %s\n", subject)
	return ws.WriteJSON(&message{Op: opAuth})
}

type serverConn struct {
	server *Server
	ctx    context.Context
	cancel context.CancelFunc

	send chan *message

	stateLock     sync.Mutex
	subscriptions map[string]*paramtree.DataQueue
}

func (self *serverConn) writeLoop(ws *websocket.Conn) {
	defer self.cancel()

	settings := self.server.settings
	for {
		select {
		case <-self.ctx.Done():
			return
		case m := <-self.send:
			ws.SetWriteDeadline(time.Now().Add(settings.WriteTimeout))
			if err := ws.WriteJSON(m); err != nil {
				glog.Infof("[wire]-> error = %s\n", err)
				return
			}
			glog.V(2).Infof("[wire]->%s\n", m.Op)
		case <-time.After(settings.PingTimeout):
			ws.SetWriteDeadline(time.Now().Add(settings.WriteTimeout))
			if err := ws.WriteJSON(&message{Op: opPing}); err != nil {
				return
			}
		}
	}
}

func (self *serverConn) readLoop(ws *websocket.Conn) {
	defer self.cancel()

	settings := self.server.settings
	for {
		select {
		case <-self.ctx.Done():
			return
		default:
		}

		ws.SetReadDeadline(time.Now().Add(settings.ReadTimeout))
		m := &message{}
		if err := ws.ReadJSON(m); err != nil {
			glog.Infof("[wire]<- error = %s\n", err)
			return
		}
		if m.Op == opPing {
			continue
		}
		go self.dispatch(m)
	}
}

func (self *serverConn) enqueue(m *message) {
	select {
	case <-self.ctx.Done():
	case self.send <- m:
	}
}

func (self *serverConn) dispatch(m *message) {
	response := &message{
		Id: m.Id,
		Op: m.Op,
	}
	if err := self.apply(m, response); err != nil {
		response.Error = err.Error()
	}
	self.enqueue(response)
}

func (self *serverConn) apply(m *message, response *message) error {
	session := self.server.session

	switch m.Op {
	case opListNodes:
		paths, err := session.ListNodes(self.ctx, m.Path, paramtree.ListNodesFlags(m.Flags))
		if err != nil {
			return err
		}
		response.Paths = paths
		return nil
	case opListNodesInfo:
		pathToInfo, err := session.ListNodesInfo(self.ctx, m.Path, paramtree.ListNodesFlags(m.Flags))
		if err != nil {
			return err
		}
		response.PathToInfo = pathToInfo
		return nil
	case opGet:
		value, err := session.Get(self.ctx, m.Path)
		if err != nil {
			return err
		}
		encoded, err := encodeAnnotatedValue(value)
		if err != nil {
			return err
		}
		response.Value = encoded
		return nil
	case opGetWithExpression:
		values, err := session.GetWithExpression(self.ctx, m.Path, paramtree.ListNodesFlags(m.Flags))
		if err != nil {
			return err
		}
		encoded, err := encodeAnnotatedValues(values)
		if err != nil {
			return err
		}
		response.Values = encoded
		return nil
	case opSet:
		value, err := decodeAnnotatedValue(m.Value)
		if err != nil {
			return err
		}
		acknowledged, err := session.Set(self.ctx, value)
		if err != nil {
			return err
		}
		encoded, err := encodeAnnotatedValue(acknowledged)
		if err != nil {
			return err
		}
		response.Value = encoded
		return nil
	case opSetWithExpression:
		value, err := decodeAnnotatedValue(m.Value)
		if err != nil {
			return err
		}
		acknowledged, err := session.SetWithExpression(self.ctx, value)
		if err != nil {
			return err
		}
		encoded, err := encodeAnnotatedValues(acknowledged)
		if err != nil {
			return err
		}
		response.Values = encoded
		return nil
	case opSubscribe:
		return self.subscribe(m, response)
	case opUnsubscribe:
		self.unsubscribe(m.SubscriptionId)
		return nil
	default:
		return fmt.Errorf("unknown op %q", m.Op)
	}
}

func (self *serverConn) subscribe(m *message, response *message) error {
	// the hosted session parses values for its own consumers. Values pushed
	// to the client travel raw, the client applies its own parser.
	queue, err := self.server.session.Subscribe(self.ctx, m.Path, nil)
	if err != nil {
		return err
	}
	subscriptionId := ulid.Make().String()

	self.stateLock.Lock()
	self.subscriptions[subscriptionId] = queue
	self.stateLock.Unlock()

	go self.pump(subscriptionId, queue)

	response.SubscriptionId = subscriptionId
	return nil
}

func (self *serverConn) pump(subscriptionId string, queue *paramtree.DataQueue) {
	for {
		value, err := queue.Get(self.ctx)
		if err != nil {
			glog.V(2).Infof("[wire]pump %s done = %s\n", queue.Path(), err)
			return
		}
		encoded, err := encodeAnnotatedValue(value)
		if err != nil {
			glog.Infof("[wire]pump %s encode error = %s\n", queue.Path(), err)
			continue
		}
		self.enqueue(&message{
			Op:             opUpdate,
			SubscriptionId: subscriptionId,
			Value:          encoded,
		})
	}
}

func (self *serverConn) unsubscribe(subscriptionId string) {
	self.stateLock.Lock()
	queue, ok := self.subscriptions[subscriptionId]
	if ok {
		delete(self.subscriptions, subscriptionId)
	}
	self.stateLock.Unlock()
	if ok {
		queue.Disconnect()
	}
}

func (self *serverConn) disconnectAll() {
	self.stateLock.Lock()
	queues := make([]*paramtree.DataQueue, 0, len(self.subscriptions))
	for _, queue := range self.subscriptions {
		queues = append(queues, queue)
	}
	self.subscriptions = map[string]*paramtree.DataQueue{}
	self.stateLock.Unlock()

	for _, queue := range queues {
		queue.Disconnect()
	}
}
