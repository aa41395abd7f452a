// Package rosbridge talks to ROS through a rosbridge websocket server using
// the rosbridge v2 JSON protocol.
package rosbridge

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

// ErrClosed is returned by calls on a closed client.
var ErrClosed = errors.New("rosbridge client closed")

// Operation is one rosbridge protocol message.
type Operation struct {
	Op      string          `json:"op"`
	ID      string          `json:"id,omitempty"`
	Topic   string          `json:"topic,omitempty"`
	Type    string          `json:"type,omitempty"`
	Msg     json.RawMessage `json:"msg,omitempty"`
	Service string          `json:"service,omitempty"`
	Args    json.RawMessage `json:"args,omitempty"`
	Values  json.RawMessage `json:"values,omitempty"`
	Result  *bool           `json:"result,omitempty"`
}

// Handler receives the raw msg field of a published message.
type Handler func(msg json.RawMessage)

// Client is a rosbridge connection. Messages are read by a background worker
// that dispatches topic messages to subscribers and service responses to the
// pending call with the matching id.
type Client struct {
	conn   *websocket.Conn
	logger logging.Logger

	writeMu sync.Mutex
	nextID  atomic.Uint64

	mu         sync.Mutex
	handlers   map[string][]Handler
	pending    map[string]chan Operation
	advertised map[string]bool
	closed     bool

	cancelCtx               context.Context
	cancel                  func()
	activeBackgroundWorkers sync.WaitGroup
}

// Dial connects to a rosbridge server, e.g. ws://stretch:9090.
func Dial(ctx context.Context, url string, logger logging.Logger) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dialing rosbridge at %s", url)
	}
	conn.SetReadLimit(64 << 20)
	cancelCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:       conn,
		logger:     logger,
		handlers:   map[string][]Handler{},
		pending:    map[string]chan Operation{},
		advertised: map[string]bool{},
		cancelCtx:  cancelCtx,
		cancel:     cancel,
	}
	c.activeBackgroundWorkers.Add(1)
	utils.PanicCapturingGo(func() {
		defer c.activeBackgroundWorkers.Done()
		c.readLoop()
	})
	return c, nil
}

func (c *Client) readLoop() {
	for {
		var op Operation
		if err := wsjson.Read(c.cancelCtx, c.conn, &op); err != nil {
			if c.cancelCtx.Err() == nil {
				c.logger.Warnw("rosbridge connection lost", "error", err)
			}
			c.failPending()
			return
		}
		switch op.Op {
		case "publish":
			c.mu.Lock()
			handlers := append([]Handler(nil), c.handlers[op.Topic]...)
			c.mu.Unlock()
			for _, h := range handlers {
				h(op.Msg)
			}
		case "service_response":
			c.mu.Lock()
			ch, ok := c.pending[op.ID]
			delete(c.pending, op.ID)
			c.mu.Unlock()
			if ok {
				ch <- op
			}
		case "status":
			c.logger.Debugw("rosbridge status", "msg", string(op.Msg))
		default:
			c.logger.Debugw("ignoring rosbridge operation", "op", op.Op)
		}
	}
}

func (c *Client) failPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *Client) send(ctx context.Context, op Operation) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsjson.Write(ctx, c.conn, op)
}

func (c *Client) id(op string) string {
	return op + ":" + strconv.FormatUint(c.nextID.Add(1), 10)
}

// Advertise declares that this client publishes msgType on topic. Repeated
// advertisements of a topic are sent once.
func (c *Client) Advertise(ctx context.Context, topic, msgType string) error {
	c.mu.Lock()
	done := c.advertised[topic]
	c.mu.Unlock()
	if done {
		return nil
	}
	if err := c.send(ctx, Operation{Op: "advertise", ID: c.id("advertise"), Topic: topic, Type: msgType}); err != nil {
		return errors.Wrapf(err, "advertising %s", topic)
	}
	c.mu.Lock()
	c.advertised[topic] = true
	c.mu.Unlock()
	return nil
}

// Publish sends msg on topic.
func (c *Client) Publish(ctx context.Context, topic string, msg interface{}) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := c.send(ctx, Operation{Op: "publish", Topic: topic, Msg: raw}); err != nil {
		return errors.Wrapf(err, "publishing on %s", topic)
	}
	return nil
}

// Subscribe calls handler for every message on topic.
func (c *Client) Subscribe(ctx context.Context, topic, msgType string, handler Handler) error {
	c.mu.Lock()
	first := len(c.handlers[topic]) == 0
	c.handlers[topic] = append(c.handlers[topic], handler)
	c.mu.Unlock()
	if !first {
		return nil
	}
	if err := c.send(ctx, Operation{Op: "subscribe", ID: c.id("subscribe"), Topic: topic, Type: msgType}); err != nil {
		return errors.Wrapf(err, "subscribing to %s", topic)
	}
	return nil
}

// CallService calls service with args and decodes the response values into
// result, which may be nil.
func (c *Client) CallService(ctx context.Context, service string, args, result interface{}) error {
	var rawArgs json.RawMessage
	if args != nil {
		var err error
		if rawArgs, err = json.Marshal(args); err != nil {
			return err
		}
	}
	id := c.id("call_service")
	ch := make(chan Operation, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.send(ctx, Operation{Op: "call_service", ID: id, Service: service, Args: rawArgs}); err != nil {
		return errors.Wrapf(err, "calling %s", service)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			return ErrClosed
		}
		if resp.Result != nil && !*resp.Result {
			return errors.Errorf("service %s failed: %s", service, string(resp.Values))
		}
		if result == nil || len(resp.Values) == 0 {
			return nil
		}
		return errors.Wrapf(json.Unmarshal(resp.Values, result), "decoding %s response", service)
	}
}

// Close stops the reader and closes the connection.
func (c *Client) Close() error {
	c.cancel()
	// the reader closes the connection once its context is cancelled
	utils.UncheckedError(c.conn.Close(websocket.StatusNormalClosure, ""))
	c.activeBackgroundWorkers.Wait()
	return nil
}
