// Package crdtcollab is the thin public façade over the convergence
// core, the relay, and the sync client: "start server", "connect
// client".
package crdtcollab

import (
	"context"

	"github.com/Polqt/crdtcollab/crdt"
	"github.com/Polqt/crdtcollab/ot"
	"github.com/Polqt/crdtcollab/relay"
	"github.com/Polqt/crdtcollab/syncclient"
)

// RGA is the replica that makes concurrent text edits converge.
type RGA = crdt.RGA

// Operation is the tagged union of edits exchanged between peers.
type Operation = crdt.Operation

// Client is a duplex handle to one connection to a relay server.
type Client = syncclient.Client

// NewRGA creates an empty RGA replica.
func NewRGA() *RGA { return crdt.New() }

// Transform rewrites a to apply on top of b's effect. See ot.Transform.
func Transform(a, b Operation) Operation { return ot.Transform(a, b) }

// StartSyncServer binds addr and begins accepting relay connections. The
// returned channel closes once the server has fully stopped; callers
// await it (with their own timeout) after calling Server.Shutdown.
func StartSyncServer(addr string) (*relay.Server, <-chan struct{}, error) {
	srv := relay.New(relay.Options{})
	stopped, err := srv.Start(addr)
	if err != nil {
		return nil, nil, err
	}
	return srv, stopped, nil
}

// ConnectSyncClient opens a duplex connection to a relay server at addr.
func ConnectSyncClient(ctx context.Context, addr string) (*Client, error) {
	return syncclient.Connect(ctx, addr)
}
