package explorer

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/doichain/go-sdk/explorer/transport"
	tcp_transport "github.com/doichain/go-sdk/explorer/transport/tcp"
	websocket_transport "github.com/doichain/go-sdk/explorer/transport/websocket"
	"github.com/doichain/go-sdk/internal/utils"
	"github.com/doichain/go-sdk/types"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"go.uber.org/ratelimit"
)

// TransportType specifies how the explorer reaches the electrum server.
type TransportType string

const (
	// WebsocketTransport speaks JSON-RPC over ws:// or wss://.
	// This is what public Doichain electrum servers expose.
	WebsocketTransport TransportType = "websocket"

	// TCPTransport speaks line delimited JSON-RPC over tcp:// or ssl://.
	TCPTransport TransportType = "tcp"
)

const (
	defaultRequestTimeout   = 30 * time.Second
	defaultBreakerThreshold = 10
	defaultBreakerTimeout   = 30 * time.Second
)

type explorerSvc struct {
	baseUrl   string
	net       *chaincfg.Params
	transport transport.Transport
	cb        *gobreaker.CircuitBreaker
	limiter   ratelimit.Limiter
	timeout   time.Duration
}

// NewExplorer connects to the electrum server at baseUrl.
//
// The transport is detected from the URL scheme:
//   - ws://, wss://   → websocket transport
//   - tcp://, ssl://  → tcp transport
//
// Use WithTransportType() to explicitly override detection.
//
// Examples:
//
//	explorer, err := explorer.NewExplorer(ctx, "wss://big-parrot-60.doi.works:50004", &network.Doichain)
//
//	explorer, err := explorer.NewExplorer(ctx, "ssl://localhost:50002", &network.Regtest,
//	    explorer.WithRequestsPerSecond(20))
func NewExplorer(
	ctx context.Context, baseUrl string, net *chaincfg.Params, opts ...Option,
) (Explorer, error) {
	options := &explorerOptions{
		requestTimeout:   defaultRequestTimeout,
		breakerThreshold: defaultBreakerThreshold,
		breakerTimeout:   defaultBreakerTimeout,
	}
	for _, opt := range opts {
		opt(options)
	}

	if options.transportType == "" {
		transportType, err := detectTransportType(baseUrl)
		if err != nil {
			return nil, err
		}
		options.transportType = transportType
	}

	var (
		t   transport.Transport
		err error
	)
	switch options.transportType {
	case WebsocketTransport:
		t, err = websocket_transport.NewTransport(
			ctx, baseUrl, websocket_transport.WithHandshakeTimeout(options.requestTimeout),
		)
	case TCPTransport:
		t, err = tcp_transport.NewTransport(ctx, baseUrl)
	default:
		return nil, fmt.Errorf("unsupported transport type: %s", options.transportType)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s transport: %w", options.transportType, err)
	}

	return newExplorer(baseUrl, net, t, options), nil
}

func newExplorer(
	baseUrl string, net *chaincfg.Params, t transport.Transport, options *explorerOptions,
) *explorerSvc {
	limiter := ratelimit.NewUnlimited()
	if options.requestsPerSec > 0 {
		limiter = ratelimit.New(options.requestsPerSec)
	}

	return &explorerSvc{
		baseUrl:   baseUrl,
		net:       net,
		transport: t,
		cb:        newCircuitBreaker(options.breakerThreshold, options.breakerTimeout),
		limiter:   limiter,
		timeout:   options.requestTimeout,
	}
}

func detectTransportType(baseUrl string) (TransportType, error) {
	u, err := url.Parse(baseUrl)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
		return WebsocketTransport, nil
	case "tcp", "ssl", "tls":
		return TCPTransport, nil
	default:
		return "", fmt.Errorf(
			"unsupported URL scheme: %s (expected ws://, wss://, tcp:// or ssl://)", u.Scheme,
		)
	}
}

func newCircuitBreaker(threshold uint32, timeout time.Duration) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "electrum",
		Timeout: timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				log.Warn("electrum: server seems down, stop allowing requests")
			}
			if from == gobreaker.StateOpen && to == gobreaker.StateHalfOpen {
				log.Info("electrum: checking server status")
			}
			if from == gobreaker.StateHalfOpen && to == gobreaker.StateClosed {
				log.Info("electrum: server seems ok, restart allowing requests")
			}
		},
	})
}

func (e *explorerSvc) BaseUrl() string {
	return e.baseUrl
}

func (e *explorerSvc) IsConnected() bool {
	return e.transport.Connected()
}

func (e *explorerSvc) Ping(ctx context.Context) error {
	_, err := do(ctx, e, "ping", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.transport.Ping(ctx)
	})
	return err
}

func (e *explorerSvc) ListUnspent(ctx context.Context, scriptHash string) ([]types.UnspentOutput, error) {
	return do(ctx, e, transport.MethodListUnspent, func(ctx context.Context) ([]types.UnspentOutput, error) {
		return e.transport.ListUnspent(ctx, scriptHash)
	})
}

func (e *explorerSvc) GetHistory(ctx context.Context, scriptHash string) ([]types.HistoryEntry, error) {
	return do(ctx, e, transport.MethodGetHistory, func(ctx context.Context) ([]types.HistoryEntry, error) {
		return e.transport.GetHistory(ctx, scriptHash)
	})
}

func (e *explorerSvc) GetBalance(ctx context.Context, scriptHash string) (types.Balance, error) {
	return do(ctx, e, transport.MethodGetBalance, func(ctx context.Context) (types.Balance, error) {
		return e.transport.GetBalance(ctx, scriptHash)
	})
}

func (e *explorerSvc) GetTransaction(ctx context.Context, txid string) (*types.RawTransaction, error) {
	return do(ctx, e, transport.MethodGetTx, func(ctx context.Context) (*types.RawTransaction, error) {
		return e.transport.GetTransaction(ctx, txid)
	})
}

// Broadcast accepts either a raw transaction in hex or a finalized PSBT.
func (e *explorerSvc) Broadcast(ctx context.Context, tx string) (string, error) {
	txHex, txid, err := normalizeTx(tx)
	if err != nil {
		return "", fmt.Errorf("invalid transaction: %w", err)
	}

	// Broadcasting is not idempotent from the caller's point of view, so it
	// bypasses the reconnect-and-retry path.
	res, err := e.cb.Execute(func() (interface{}, error) {
		e.limiter.Take()
		ctx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()
		return e.transport.Broadcast(ctx, txHex)
	})
	if err != nil {
		return "", fmt.Errorf("failed to broadcast %s: %w", txid, err)
	}
	return res.(string), nil
}

func (e *explorerSvc) GetAddressUtxos(ctx context.Context, address string) ([]types.UnspentOutput, error) {
	scriptHash, err := utils.AddressScriptHash(address, e.net)
	if err != nil {
		return nil, err
	}
	return e.ListUnspent(ctx, scriptHash)
}

func (e *explorerSvc) GetAddressHistory(ctx context.Context, address string) ([]types.HistoryEntry, error) {
	scriptHash, err := utils.AddressScriptHash(address, e.net)
	if err != nil {
		return nil, err
	}
	return e.GetHistory(ctx, scriptHash)
}

func (e *explorerSvc) Close() {
	e.transport.Close()
}

// do runs a read through the rate limiter and the circuit breaker. When the
// failure means the connection is gone, the transport reconnects and the read
// is attempted once more.
func do[T any](
	ctx context.Context, e *explorerSvc, method string, fn func(ctx context.Context) (T, error),
) (T, error) {
	var zero T

	attempt := func() (T, error) {
		res, err := e.cb.Execute(func() (interface{}, error) {
			e.limiter.Take()
			ctx, cancel := context.WithTimeout(ctx, e.timeout)
			defer cancel()
			return fn(ctx)
		})
		if err != nil {
			return zero, err
		}
		return res.(T), nil
	}

	// the generation seen before the read lets concurrent failures of the
	// same connection share one reconnect
	generation := e.transport.Generation()
	res, err := attempt()
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return zero, ctx.Err()
	}

	reconnect, delay := utils.ShouldReconnect(err)
	if !reconnect {
		return zero, err
	}

	log.WithError(err).WithField("method", method).Warn("electrum: connection lost, reconnecting")
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-time.After(delay):
	}
	if rerr := e.transport.Reconnect(ctx, generation); rerr != nil {
		return zero, fmt.Errorf("%w (reconnect failed: %s)", err, rerr)
	}
	return attempt()
}
