package socketio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"a2csmcp/pkg/logging"
)

// Handler processes one incoming event and returns the ack payload. A nil
// result acks with empty data. Returning an error sends a failure ack.
type Handler func(ctx context.Context, event string, data json.RawMessage) (any, error)

// Conn is an event-oriented connection over one WebSocket. Both ends of the
// fabric speak the same envelope, so the hub and the clients share this
// type.
//
// The read loop runs until the socket closes; Done is closed afterwards and
// Err carries the terminal read error.
type Conn struct {
	ws *websocket.Conn

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan AckEnvelope

	handlerMu sync.RWMutex
	handler   Handler

	done    chan struct{}
	errOnce sync.Once
	err     error
}

// NewConn wraps an accepted or dialed WebSocket and starts its read loop.
func NewConn(ctx context.Context, ws *websocket.Conn, handler Handler) *Conn {
	c := &Conn{
		ws:      ws,
		pending: make(map[string]chan AckEnvelope),
		handler: handler,
		done:    make(chan struct{}),
	}
	go c.readLoop(ctx)
	return c
}

// Dial connects to a fabric endpoint and wraps the socket.
func Dial(ctx context.Context, url string, headers http.Header, handler Handler) (*Conn, error) {
	ws, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	return NewConn(ctx, ws, handler), nil
}

// SetHandler replaces the event handler. Safe while the read loop runs.
func (c *Conn) SetHandler(handler Handler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.handler = handler
}

// Done is closed once the read loop exits.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns the terminal read error after Done is closed.
func (c *Conn) Err() error {
	<-c.done
	return c.err
}

// Close closes the socket with a normal closure.
func (c *Conn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "")
}

// CloseWithReason closes the socket with a status code and reason visible
// to the peer.
func (c *Conn) CloseWithReason(code websocket.StatusCode, reason string) error {
	return c.ws.Close(code, reason)
}

// Emit sends a fire-and-forget event.
func (c *Conn) Emit(ctx context.Context, event string, payload any) error {
	data, err := marshalPayload(payload)
	if err != nil {
		return err
	}
	return c.write(ctx, Message{Type: MessageTypeEvent, Event: event, Data: data})
}

// Request sends an event that demands an acknowledgement and waits for it.
// The ctx deadline bounds the wait; a failure ack surfaces as RemoteError.
func (c *Conn) Request(ctx context.Context, event string, payload any) (json.RawMessage, error) {
	data, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	waiter := make(chan AckEnvelope, 1)

	c.pendingMu.Lock()
	c.pending[id] = waiter
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.write(ctx, Message{Type: MessageTypeEvent, ID: id, Event: event, Data: data}); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for ack of %s: %w", event, ctx.Err())
	case <-c.done:
		return nil, fmt.Errorf("connection closed while waiting for ack of %s", event)
	case envelope := <-waiter:
		if !envelope.OK {
			return nil, &RemoteError{Event: event, Message: envelope.Error}
		}
		return envelope.Data, nil
	}
}

func (c *Conn) write(ctx context.Context, msg Message) error {
	encoded, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.Write(ctx, websocket.MessageText, encoded)
}

func (c *Conn) readLoop(ctx context.Context) {
	defer close(c.done)

	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			c.errOnce.Do(func() { c.err = err })
			c.failPending()
			return
		}

		msg, err := decodeMessage(data)
		if err != nil {
			logging.Debug("SocketIO", "dropping malformed message: %v", err)
			continue
		}

		switch msg.Type {
		case MessageTypeAck:
			c.deliverAck(msg)
		case MessageTypeEvent:
			go c.dispatch(ctx, msg)
		}
	}
}

func (c *Conn) deliverAck(msg Message) {
	var envelope AckEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		logging.Debug("SocketIO", "dropping malformed ack %s: %v", msg.ID, err)
		return
	}

	c.pendingMu.Lock()
	waiter, ok := c.pending[msg.ID]
	delete(c.pending, msg.ID)
	c.pendingMu.Unlock()

	if ok {
		waiter <- envelope
	}
}

func (c *Conn) dispatch(ctx context.Context, msg Message) {
	c.handlerMu.RLock()
	handler := c.handler
	c.handlerMu.RUnlock()

	if handler == nil {
		if msg.ID != "" {
			c.sendAck(ctx, msg.ID, nil, errors.New("no handler registered"))
		}
		return
	}

	result, err := handler(ctx, msg.Event, msg.Data)
	if msg.ID == "" {
		if err != nil {
			logging.Warn("SocketIO", "handler failed for %s: %v", msg.Event, err)
		}
		return
	}
	c.sendAck(ctx, msg.ID, result, err)
}

func (c *Conn) sendAck(ctx context.Context, id string, result any, handlerErr error) {
	envelope := AckEnvelope{OK: handlerErr == nil}
	if handlerErr != nil {
		envelope.Error = handlerErr.Error()
	} else if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			envelope = AckEnvelope{OK: false, Error: fmt.Sprintf("failed to encode ack payload: %v", err)}
		} else {
			envelope.Data = data
		}
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		logging.Error("SocketIO", err, "failed to encode ack envelope for %s", id)
		return
	}
	if err := c.write(ctx, Message{Type: MessageTypeAck, ID: id, Data: payload}); err != nil {
		logging.Debug("SocketIO", "failed to send ack %s: %v", id, err)
	}
}

// failPending wakes every in-flight Request after the socket dies.
func (c *Conn) failPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, waiter := range c.pending {
		waiter <- AckEnvelope{OK: false, Error: "connection closed"}
		delete(c.pending, id)
	}
}

func marshalPayload(payload any) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return data, nil
}
