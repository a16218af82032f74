package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/Polqt/crdtcollab/crdt"
	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// errConnClosed marks a clean close-frame shutdown of either side of a
// connection. It is returned (never logged above debug) purely so
// errgroup's derived context is cancelled and the paired goroutine
// unblocks — errgroup.Wait only tears down gctx on a non-nil return.
var errConnClosed = errors.New("relay: connection closed")

// connection is the per-client Open → Closed state machine. On Open,
// two cooperating goroutines run: egress subscribes to the broadcast
// bus and writes each Operation to the socket as a text frame; ingress
// reads text frames, parses each to an Operation, and publishes it on
// the bus. Either side closing ends the connection; the other is
// cancelled.
type connection struct {
	ws      *websocket.Conn
	bus     *bus
	limiter *rate.Limiter
	remote  string
}

func newConnection(ws *websocket.Conn, b *bus, limiter *rate.Limiter, remote string) *connection {
	return &connection{ws: ws, bus: b, limiter: limiter, remote: remote}
}

// run drives the connection until it closes, then returns. It never
// returns an error to its caller: transport and serialization failures
// are logged and terminate only this connection, leaving the rest of
// the relay unaffected.
func (c *connection) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	subID, inbound := c.bus.subscribe()
	defer c.bus.unsubscribe(subID)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.egress(gctx, inbound) })
	g.Go(func() error { return c.ingress(gctx) })

	if err := g.Wait(); err != nil {
		slog.Debug("relay: connection closed", "remote", c.remote, "err", err)
	}
	cancel()
	_ = c.ws.Close(websocket.StatusNormalClosure, "")
}

// egress writes every operation the bus delivers to this subscriber out
// to the socket, until the connection context is cancelled or a write
// fails.
func (c *connection) egress(ctx context.Context, inbound <-chan crdt.Operation) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case op, ok := <-inbound:
			if !ok {
				return errConnClosed
			}
			frame, err := marshalFrame(op)
			if err != nil {
				slog.Warn("relay: dropping unserializable outbound operation", "err", err)
				continue
			}
			if err := c.ws.Write(ctx, websocket.MessageText, frame); err != nil {
				return err
			}
		}
	}
}

// ingress reads frames off the socket, parses each into an Operation,
// and publishes it on the bus. Malformed frames are dropped and logged;
// the connection keeps serving. Binary frames are ignored. Only I/O
// failure or a close frame ends the loop.
func (c *connection) ingress(ctx context.Context) error {
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		msgType, data, err := c.ws.Read(ctx)
		if err != nil {
			var closeErr websocket.CloseError
			if errors.As(err, &closeErr) {
				return errConnClosed
			}
			return err
		}
		if msgType != websocket.MessageText {
			continue
		}

		var op crdt.Operation
		if err := json.Unmarshal(data, &op); err != nil {
			slog.Warn("relay: dropping malformed frame", "remote", c.remote, "err", err)
			continue
		}
		c.bus.publish(op)
	}
}
