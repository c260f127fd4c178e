package socketio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startPeer runs a test server whose accepted connections dispatch to the
// given handler and returns a ws:// URL for dialing.
func startPeer(t *testing.T, handler Handler) string {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		conn := NewConn(r.Context(), ws, handler)
		<-conn.Done()
	}))
	t.Cleanup(server.Close)

	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func dialPeer(t *testing.T, url string, handler Handler) *Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Dial(ctx, url, nil, handler)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestConn_RequestAck(t *testing.T) {
	url := startPeer(t, func(ctx context.Context, event string, data json.RawMessage) (any, error) {
		var payload map[string]string
		require.NoError(t, json.Unmarshal(data, &payload))
		return map[string]string{"echo": event + ":" + payload["msg"]}, nil
	})

	conn := dialPeer(t, url, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	raw, err := conn.Request(ctx, "greet", map[string]string{"msg": "hello"})
	require.NoError(t, err)

	var reply map[string]string
	require.NoError(t, json.Unmarshal(raw, &reply))
	assert.Equal(t, "greet:hello", reply["echo"])
}

func TestConn_RequestRemoteError(t *testing.T) {
	url := startPeer(t, func(ctx context.Context, event string, data json.RawMessage) (any, error) {
		return nil, errors.New("not allowed")
	})

	conn := dialPeer(t, url, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := conn.Request(ctx, "forbidden", nil)
	require.Error(t, err)

	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "forbidden", remote.Event)
	assert.Equal(t, "not allowed", remote.Message)
}

func TestConn_RequestTimeout(t *testing.T) {
	url := startPeer(t, func(ctx context.Context, event string, data json.RawMessage) (any, error) {
		time.Sleep(2 * time.Second)
		return nil, nil
	})

	conn := dialPeer(t, url, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := conn.Request(ctx, "slow", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConn_EmitIsFireAndForget(t *testing.T) {
	received := make(chan string, 1)
	url := startPeer(t, func(ctx context.Context, event string, data json.RawMessage) (any, error) {
		received <- event
		return nil, nil
	})

	conn := dialPeer(t, url, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Emit(ctx, "ping", nil))

	select {
	case event := <-received:
		assert.Equal(t, "ping", event)
	case <-time.After(5 * time.Second):
		t.Fatal("event never arrived")
	}
}

func TestConn_ConcurrentRequests(t *testing.T) {
	url := startPeer(t, func(ctx context.Context, event string, data json.RawMessage) (any, error) {
		var payload map[string]int
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, err
		}
		return map[string]int{"n": payload["n"]}, nil
	})

	conn := dialPeer(t, url, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			raw, err := conn.Request(ctx, "num", map[string]int{"n": n})
			if !assert.NoError(t, err) {
				return
			}
			var reply map[string]int
			if !assert.NoError(t, json.Unmarshal(raw, &reply)) {
				return
			}
			assert.Equal(t, n, reply["n"], "ack must correlate to its own request")
		}(i)
	}
	wg.Wait()
}

func TestConn_BidirectionalRequests(t *testing.T) {
	// The server side issues a request back over the same connection the
	// client dialed.
	serverConns := make(chan *Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		conn := NewConn(r.Context(), ws, nil)
		serverConns <- conn
		<-conn.Done()
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client := dialPeer(t, url, func(ctx context.Context, event string, data json.RawMessage) (any, error) {
		return map[string]string{"from": "client", "event": event}, nil
	})
	_ = client

	var serverConn *Conn
	select {
	case serverConn = <-serverConns:
	case <-time.After(5 * time.Second):
		t.Fatal("server never saw the connection")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	raw, err := serverConn.Request(ctx, "status", nil)
	require.NoError(t, err)

	var reply map[string]string
	require.NoError(t, json.Unmarshal(raw, &reply))
	assert.Equal(t, "client", reply["from"])
	assert.Equal(t, "status", reply["event"])
}

func TestConn_RequestFailsOnClose(t *testing.T) {
	url := startPeer(t, func(ctx context.Context, event string, data json.RawMessage) (any, error) {
		time.Sleep(time.Minute)
		return nil, nil
	})

	conn := dialPeer(t, url, nil)

	errCh := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_, err := conn.Request(ctx, "never", nil)
		errCh <- err
	}()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, conn.Close())

	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("request did not fail after close")
	}
}

func TestDecodeMessage(t *testing.T) {
	msg, err := decodeMessage([]byte(`{"type":"event","event":"x","id":"1"}`))
	require.NoError(t, err)
	assert.Equal(t, MessageTypeEvent, msg.Type)
	assert.Equal(t, "x", msg.Event)

	_, err = decodeMessage([]byte(`{"type":"mystery"}`))
	assert.Error(t, err)

	_, err = decodeMessage([]byte(`not json`))
	assert.Error(t, err)
}

func TestRemoteError_Message(t *testing.T) {
	err := &RemoteError{Event: "client:tool_call", Message: "boom"}
	assert.Equal(t, fmt.Sprintf("remote error for %s: %s", "client:tool_call", "boom"), err.Error())
}
