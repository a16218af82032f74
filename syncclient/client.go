// Package syncclient is a pure transport handle for one connection to
// the relay: it neither transforms nor applies Operations, only queues
// them for send and receive.
package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Polqt/crdtcollab/crdt"
	"github.com/Polqt/crdtcollab/crdterrors"
	"github.com/coder/websocket"
)

// DefaultQueueCapacity is the reference capacity for both the outbound
// and inbound queues.
const DefaultQueueCapacity = 100

// Client holds a duplex connection to a relay: an outbound queue (writer
// side) and an inbound queue (reader side). Two background goroutines
// drive the socket; either terminates on I/O failure or a close frame,
// at which point the corresponding queue end becomes disconnected.
type Client struct {
	ws *websocket.Conn

	outbound chan crdt.Operation
	inbound  chan crdt.Operation

	writerDone chan struct{}
	readerDone chan struct{}
}

// Connect opens a duplex connection to the relay at addr (a bare
// host:port, turned into a ws://host:port/ws URL) and starts its two
// background goroutines.
func Connect(ctx context.Context, addr string) (*Client, error) {
	url := fmt.Sprintf("ws://%s/ws", addr)
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, errors.Join(crdterrors.ErrTransport, err)
	}

	c := &Client{
		ws:         ws,
		outbound:   make(chan crdt.Operation, DefaultQueueCapacity),
		inbound:    make(chan crdt.Operation, DefaultQueueCapacity),
		writerDone: make(chan struct{}),
		readerDone: make(chan struct{}),
	}

	go c.writeLoop(ctx)
	go c.readLoop(ctx)

	return c, nil
}

// Send enqueues op on the outbound queue. Returns ErrDisconnected if the
// writer goroutine has already stopped.
func (c *Client) Send(op crdt.Operation) error {
	select {
	case <-c.writerDone:
		return crdterrors.ErrDisconnected
	default:
	}
	select {
	case c.outbound <- op:
		return nil
	case <-c.writerDone:
		return crdterrors.ErrDisconnected
	}
}

// Recv dequeues the next inbound Operation. ok is false once the reader
// goroutine has terminated and no more operations remain buffered.
func (c *Client) Recv() (op crdt.Operation, ok bool) {
	op, ok = <-c.inbound
	return op, ok
}

// Close tears down the underlying connection. Safe to call more than
// once.
func (c *Client) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "")
}

func (c *Client) writeLoop(ctx context.Context) {
	defer close(c.writerDone)
	for {
		select {
		case <-ctx.Done():
			return
		case op := <-c.outbound:
			b, err := json.Marshal(op)
			if err != nil {
				slog.Warn("syncclient: dropping unserializable operation", "err", err)
				continue
			}
			if err := c.ws.Write(ctx, websocket.MessageText, b); err != nil {
				return
			}
		}
	}
}

func (c *Client) readLoop(ctx context.Context) {
	defer close(c.readerDone)
	defer close(c.inbound)
	for {
		msgType, data, err := c.ws.Read(ctx)
		if err != nil {
			return
		}
		if msgType != websocket.MessageText {
			continue
		}
		var op crdt.Operation
		if err := json.Unmarshal(data, &op); err != nil {
			slog.Warn("syncclient: dropping malformed frame", "err", err)
			continue
		}
		select {
		case c.inbound <- op:
		case <-ctx.Done():
			return
		}
	}
}
