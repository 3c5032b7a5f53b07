// Package transport defines the connection types an explorer can use to
// reach an electrum server.
//
// Two implementations exist:
//   - websocket: JSON-RPC over ws:// or wss://, the transport public
//     Doichain electrum servers expose
//   - tcp: line delimited JSON-RPC over tcp:// or ssl://
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/doichain/go-sdk/types"
)

const (
	MethodListUnspent = "blockchain.scripthash.listunspent"
	MethodGetHistory  = "blockchain.scripthash.get_history"
	MethodGetBalance  = "blockchain.scripthash.get_balance"
	MethodGetTx       = "blockchain.transaction.get"
	MethodBroadcast   = "blockchain.transaction.broadcast"
	MethodPing        = "server.ping"
)

var (
	// ErrNotConnected is returned while a transport holds no connection. It
	// wraps net.ErrClosed so that callers treat it as a lost connection.
	ErrNotConnected = fmt.Errorf("not connected: %w", net.ErrClosed)
	ErrClosed       = errors.New("transport closed")
)

// Transport is a connection to an electrum server.
type Transport interface {
	types.ChainQuery

	// Ping checks that the server is still reachable.
	Ping(ctx context.Context) error

	// Generation identifies the current connection. It grows by one with
	// every successful dial.
	Generation() uint64

	// Reconnect drops the connection of the given generation and dials a new
	// one. Concurrent callers that saw the same generation share a single
	// dial: when the transport already moved past it, Reconnect returns
	// without touching the newer connection.
	Reconnect(ctx context.Context, generation uint64) error

	// Connected reports whether the transport holds a live connection.
	Connected() bool
}
