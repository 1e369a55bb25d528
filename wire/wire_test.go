package wire

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/attolab/paramtree"
	"github.com/attolab/paramtree/mock"
)

func newTestServer(t *testing.T, authSecret string) (*httptest.Server, *mock.AutomaticSession) {
	session := mock.NewAutomaticSessionForPaths([]string{
		"/dev1/demods/0/rate",
		"/dev1/demods/0/enable",
		"/dev1/demods/1/rate",
	})
	settings := DefaultServerSettings()
	settings.AuthSecret = authSecret
	server := NewServer(context.Background(), session, settings)
	httpServer := httptest.NewServer(server)
	t.Cleanup(httpServer.Close)
	return httpServer, session
}

func wsUrl(httpServer *httptest.Server) string {
	return "ws" + strings.TrimPrefix(httpServer.URL, "http")
}

func TestValueCodec(t *testing.T) {
	values := []paramtree.Value{
		int64(42),
		1.5,
		"hello",
		complex(1.0, -2.0),
		[]byte{1, 2, 3},
		[]float64{0.5, 1.5},
		[]int64{1, 2, 3},
		paramtree.DemodSample{X: []float64{1}, Y: []float64{2}},
		paramtree.TriggerSample{Timestamp: 1, Trigger: 2},
		paramtree.CntSample{Timestamp: 1, Counter: -2},
	}
	for _, value := range values {
		encoded, err := encodeValue(value)
		assert.Equal(t, nil, err)
		decoded, err := decodeValue(encoded)
		assert.Equal(t, nil, err)
		assert.Equal(t, value, decoded)
	}

	// enums travel as their integer value
	encoded, err := encodeValue(paramtree.EnumValue{Value: 1, Name: "on"})
	assert.Equal(t, nil, err)
	decoded, err := decodeValue(encoded)
	assert.Equal(t, nil, err)
	assert.Equal(t, int64(1), decoded)

	_, err = encodeValue(struct{}{})
	assert.NotEqual(t, nil, err)
}

func TestClientSessionRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	httpServer, _ := newTestServer(t, "")
	clientSession, err := Connect(ctx, wsUrl(httpServer), "", nil)
	assert.Equal(t, nil, err)
	defer clientSession.Close()

	paths, err := clientSession.ListNodes(ctx, "/dev1/demods/*/rate", paramtree.ListNodesAll)
	assert.Equal(t, nil, err)
	assert.Equal(t, []string{"/dev1/demods/0/rate", "/dev1/demods/1/rate"}, paths)

	pathToInfo, err := clientSession.ListNodesInfo(ctx, "*", paramtree.ListNodesAll)
	assert.Equal(t, nil, err)
	assert.Equal(t, 3, len(pathToInfo))

	acknowledged, err := clientSession.Set(ctx, paramtree.AnnotatedValue{
		Value: int64(7),
		Path:  "/dev1/demods/0/rate",
	})
	assert.Equal(t, nil, err)
	assert.Equal(t, int64(7), acknowledged.Value)

	value, err := clientSession.Get(ctx, "/dev1/demods/0/rate")
	assert.Equal(t, nil, err)
	assert.Equal(t, int64(7), value.Value)

	values, err := clientSession.GetWithExpression(ctx, "/dev1/demods/*/rate", paramtree.DefaultExpressionFlags)
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, len(values))

	// remote errors surface as plain errors
	_, err = clientSession.Get(ctx, "/dev1/unknown")
	assert.NotEqual(t, nil, err)
}

func TestClientSessionSubscribe(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	httpServer, serverSession := newTestServer(t, "")
	clientSession, err := Connect(ctx, wsUrl(httpServer), "", nil)
	assert.Equal(t, nil, err)
	defer clientSession.Close()

	queue, err := clientSession.Subscribe(ctx, "/dev1/demods/0/rate", nil)
	assert.Equal(t, nil, err)
	defer queue.Disconnect()

	// a write on the server side is pushed to the client queue
	_, err = serverSession.Set(ctx, paramtree.AnnotatedValue{
		Value: int64(11),
		Path:  "/dev1/demods/0/rate",
	})
	assert.Equal(t, nil, err)

	value, err := queue.Get(ctx)
	assert.Equal(t, nil, err)
	assert.Equal(t, int64(11), value.Value)
	assert.Equal(t, "/dev1/demods/0/rate", value.Path)
}

func TestClientSessionSubscribeBackpressure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	httpServer, serverSession := newTestServer(t, "")
	clientSession, err := Connect(ctx, wsUrl(httpServer), "", nil)
	assert.Equal(t, nil, err)
	defer clientSession.Close()

	queue, err := clientSession.Subscribe(ctx, "/dev1/demods/0/rate", nil)
	assert.Equal(t, nil, err)
	err = queue.SetCapacity(1)
	assert.Equal(t, nil, err)

	// the second push overflows the queue and drops the subscription
	for i := 0; i < 2; i += 1 {
		_, err = serverSession.Set(ctx, paramtree.AnnotatedValue{
			Value: int64(i),
			Path:  "/dev1/demods/0/rate",
		})
		assert.Equal(t, nil, err)
	}
	for queue.Connected() {
		select {
		case <-ctx.Done():
			t.FailNow()
		case <-time.After(10 * time.Millisecond):
		}
	}

	// the connection stays responsive while the unsubscribe is in flight
	startTime := time.Now()
	value, err := clientSession.Get(ctx, "/dev1/demods/0/rate")
	assert.Equal(t, nil, err)
	assert.Equal(t, int64(1), value.Value)
	if elapsed := time.Since(startTime); 2*time.Second < elapsed {
		t.Fatalf("get stalled for %s", elapsed)
	}
}

func TestClientSessionTree(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	httpServer, _ := newTestServer(t, "")
	clientSession, err := Connect(ctx, wsUrl(httpServer), "", nil)
	assert.Equal(t, nil, err)
	defer clientSession.Close()

	root, err := paramtree.ConstructNodetree(ctx, clientSession, nil)
	assert.Equal(t, nil, err)
	assert.Equal(t, "/dev1", root.Path())

	node, err := root.Resolve("demods/0/rate")
	assert.Equal(t, nil, err)
	leaf := node.(*paramtree.LeafNode)

	_, err = leaf.Set(ctx, int64(5))
	assert.Equal(t, nil, err)
	value, err := leaf.Get(ctx)
	assert.Equal(t, nil, err)
	assert.Equal(t, int64(5), value.Value)
}

func TestAuth(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	secret := "test-secret"
	httpServer, _ := newTestServer(t, secret)

	byJwt, err := SignToken(secret, "tester", time.Minute)
	assert.Equal(t, nil, err)

	clientSession, err := Connect(ctx, wsUrl(httpServer), byJwt, nil)
	assert.Equal(t, nil, err)
	defer clientSession.Close()

	_, err = clientSession.Get(ctx, "/dev1/demods/0/rate")
	assert.Equal(t, nil, err)

	// a token signed with the wrong secret is rejected
	badJwt, err := SignToken("other-secret", "tester", time.Minute)
	assert.Equal(t, nil, err)
	_, err = Connect(ctx, wsUrl(httpServer), badJwt, nil)
	assert.NotEqual(t, nil, err)
}

func TestSignToken(t *testing.T) {
	token, err := SignToken("secret", "tester", time.Minute)
	assert.Equal(t, nil, err)

	subject, err := verifyToken("secret", token)
	assert.Equal(t, nil, err)
	assert.Equal(t, "tester", subject)

	_, err = verifyToken("wrong", token)
	assert.NotEqual(t, nil, err)

	expired, err := SignToken("secret", "tester", -time.Minute)
	assert.Equal(t, nil, err)
	_, err = verifyToken("secret", expired)
	assert.NotEqual(t, nil, err)
}
