package relay_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/Polqt/crdtcollab/crdt"
	"github.com/Polqt/crdtcollab/relay"
	"github.com/Polqt/crdtcollab/syncclient"
	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"
)

func startTestServer(t *testing.T) (*relay.Server, string) {
	t.Helper()
	srv := relay.New(relay.Options{})
	stopped, err := srv.Start("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() {
		srv.Shutdown()
		select {
		case <-stopped:
		case <-time.After(5 * time.Second):
			t.Fatal("server did not stop in time")
		}
	})
	return srv, srv.Addr().String()
}

func recvWithin(t *testing.T, c *syncclient.Client, d time.Duration) crdt.Operation {
	t.Helper()
	type result struct {
		op crdt.Operation
		ok bool
	}
	ch := make(chan result, 1)
	go func() {
		op, ok := c.Recv()
		ch <- result{op, ok}
	}()
	select {
	case r := <-ch:
		require.True(t, r.ok, "connection closed before an operation arrived")
		return r.op
	case <-time.After(d):
		t.Fatal("timed out waiting for broadcast operation")
		return crdt.Operation{}
	}
}

// Broadcast includes the sender, and fans out to other connected
// clients.
func TestBroadcastIncludesSenderAndFansOutToOtherClients(t *testing.T) {
	srv, addr := startTestServer(t)
	ctx := context.Background()

	c1, err := syncclient.Connect(ctx, addr)
	require.NoError(t, err)
	defer c1.Close()

	op1 := crdt.Insert(0, 'a', "1")
	require.NoError(t, c1.Send(op1))
	require.Equal(t, op1, recvWithin(t, c1, 2*time.Second))

	c2, err := syncclient.Connect(ctx, addr)
	require.NoError(t, err)
	defer c2.Close()

	// Wait for c2's subscription to actually register, or the broadcast
	// below would race its connection setup.
	require.Eventually(t, func() bool {
		return srv.SubscriberCount() == 2
	}, 2*time.Second, 10*time.Millisecond)

	op2 := crdt.Insert(1, 'b', "2")
	require.NoError(t, c1.Send(op2))
	require.Equal(t, op2, recvWithin(t, c2, 2*time.Second))
}

// Clean shutdown confirms within 5 seconds, and further connect
// attempts fail afterward.
func TestShutdownConfirmsWithinTimeout(t *testing.T) {
	srv := relay.New(relay.Options{})
	stopped, err := srv.Start("127.0.0.1:0")
	require.NoError(t, err)
	addr := srv.Addr().String()

	ctx := context.Background()
	c, err := syncclient.Connect(ctx, addr)
	require.NoError(t, err)
	_ = c.Close()

	srv.Shutdown()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown confirmation did not arrive within 5s")
	}

	_, err = syncclient.Connect(ctx, addr)
	require.Error(t, err)
}

// A malformed frame is dropped, the connection stays open, and
// subsequent valid frames are still broadcast.
func TestMalformedFrameDroppedConnectionStaysOpen(t *testing.T) {
	_, addr := startTestServer(t)
	ctx := context.Background()

	c1, err := syncclient.Connect(ctx, addr)
	require.NoError(t, err)
	defer c1.Close()

	rawWS, err := dialRaw(ctx, addr)
	require.NoError(t, err)
	defer rawWS.close()

	require.NoError(t, rawWS.writeText([]byte("not json")))

	op := crdt.Insert(0, 'z', "survivor")
	require.NoError(t, c1.Send(op))
	require.Equal(t, op, recvWithin(t, c1, 2*time.Second))

	// The connection that sent the malformed frame is still open: a valid
	// frame sent on it afterwards is broadcast to c1.
	after := crdt.Insert(1, 'y', "after-malformed")
	frame, err := json.Marshal(after)
	require.NoError(t, err)
	require.NoError(t, rawWS.writeText(frame))
	require.Equal(t, after, recvWithin(t, c1, 2*time.Second))
}

// rawConn is a bare WebSocket connection used only to inject a
// deliberately malformed frame that syncclient's JSON layer would never
// produce.
type rawConn struct {
	ws *websocket.Conn
}

func dialRaw(ctx context.Context, addr string) (*rawConn, error) {
	url := fmt.Sprintf("ws://%s/ws", addr)
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &rawConn{ws: ws}, nil
}

func (r *rawConn) writeText(b []byte) error {
	return r.ws.Write(context.Background(), websocket.MessageText, b)
}

func (r *rawConn) close() {
	_ = r.ws.Close(websocket.StatusNormalClosure, "")
}
