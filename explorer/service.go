package explorer

import (
	"context"

	"github.com/doichain/go-sdk/types"
)

// Explorer is the remote chain query service backed by an electrum server.
// Every read is keyed by an electrum script hash, see utils.ScriptHash.
//
// Calls go through a circuit breaker and an optional rate limiter; a call
// failing because the connection dropped triggers one reconnect and retry.
type Explorer interface {
	types.ChainQuery

	// BaseUrl returns the url of the electrum server.
	BaseUrl() string

	// Ping checks that the server is reachable.
	Ping(ctx context.Context) error

	// IsConnected reports whether the underlying connection is alive.
	IsConnected() bool

	// GetAddressUtxos is a convenience wrapper that resolves the script hash
	// of the address before listing its unspent outputs.
	GetAddressUtxos(ctx context.Context, address string) ([]types.UnspentOutput, error)

	// GetAddressHistory resolves the script hash of the address before
	// fetching its history.
	GetAddressHistory(ctx context.Context, address string) ([]types.HistoryEntry, error)
}
