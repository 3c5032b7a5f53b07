package tcp_transport

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/checksum0/go-electrum/electrum"
	"github.com/doichain/go-sdk/explorer/transport"
	"github.com/doichain/go-sdk/types"
	log "github.com/sirupsen/logrus"
)

// tcpTransport reaches an electrum server over plain tcp or tls using the
// go-electrum client.
type tcpTransport struct {
	addr   string
	useSSL bool

	client     *electrum.Client
	mu         *sync.RWMutex
	generation atomic.Uint64

	reconnectMu *sync.Mutex
}

// NewTransport dials the electrum server at baseUrl (tcp:// or ssl://).
func NewTransport(ctx context.Context, baseUrl string) (*tcpTransport, error) {
	u, err := url.Parse(baseUrl)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %s", err)
	}

	t := &tcpTransport{addr: u.Host, mu: &sync.RWMutex{}, reconnectMu: &sync.Mutex{}}
	switch u.Scheme {
	case "tcp":
	case "ssl", "tls":
		t.useSSL = true
	default:
		return nil, fmt.Errorf("unsupported scheme %s, expected tcp:// or ssl://", u.Scheme)
	}
	if u.Port() == "" {
		return nil, fmt.Errorf("missing port in %s", baseUrl)
	}

	if err := t.connect(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *tcpTransport) connect(ctx context.Context) error {
	var (
		client *electrum.Client
		err    error
	)
	if t.useSSL {
		client, err = electrum.NewClientSSL(ctx, t.addr, nil)
	} else {
		client, err = electrum.NewClientTCP(ctx, t.addr)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", t.addr, err)
	}

	t.mu.Lock()
	t.client = client
	generation := t.generation.Add(1)
	t.mu.Unlock()

	log.WithFields(log.Fields{
		"addr":       t.addr,
		"generation": generation,
	}).Debug("electrum: tcp connected")
	return nil
}

func (t *tcpTransport) getClient() (*electrum.Client, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.client == nil {
		return nil, transport.ErrNotConnected
	}
	return t.client, nil
}

func (t *tcpTransport) ListUnspent(ctx context.Context, scriptHash string) ([]types.UnspentOutput, error) {
	client, err := t.getClient()
	if err != nil {
		return nil, err
	}
	utxos, err := client.ListUnspent(ctx, scriptHash)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", transport.MethodListUnspent, err)
	}

	results := make([]transport.ListUnspentResult, 0, len(utxos))
	for _, u := range utxos {
		results = append(results, transport.ListUnspentResult{
			Height:   int64(u.Height),
			Position: u.Position,
			Hash:     u.Hash,
			Value:    u.Value,
		})
	}
	return transport.ToUnspentOutputs(results)
}

func (t *tcpTransport) GetHistory(ctx context.Context, scriptHash string) ([]types.HistoryEntry, error) {
	client, err := t.getClient()
	if err != nil {
		return nil, err
	}
	history, err := client.GetHistory(ctx, scriptHash)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", transport.MethodGetHistory, err)
	}

	results := make([]transport.HistoryResult, 0, len(history))
	for _, h := range history {
		results = append(results, transport.HistoryResult{
			Hash:   h.Hash,
			Height: int64(h.Height),
		})
	}
	return transport.ToHistory(results), nil
}

func (t *tcpTransport) GetBalance(ctx context.Context, scriptHash string) (types.Balance, error) {
	client, err := t.getClient()
	if err != nil {
		return types.Balance{}, err
	}
	balance, err := client.GetBalance(ctx, scriptHash)
	if err != nil {
		return types.Balance{}, fmt.Errorf("%s: %w", transport.MethodGetBalance, err)
	}
	return transport.BalanceResult{
		Confirmed:   balance.Confirmed,
		Unconfirmed: balance.Unconfirmed,
	}.ToBalance(), nil
}

func (t *tcpTransport) GetTransaction(ctx context.Context, txid string) (*types.RawTransaction, error) {
	client, err := t.getClient()
	if err != nil {
		return nil, err
	}

	verbose, err := client.GetTransaction(ctx, txid)
	if err == nil && verbose.Hex != "" {
		return transport.TransactionResult{
			Hex:           verbose.Hex,
			Blocktime:     verbose.Blocktime,
			Confirmations: int64(verbose.Confirmations),
		}.ToRawTransaction(txid)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	txHex, err := client.GetRawTransaction(ctx, txid)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", transport.MethodGetTx, err)
	}
	return &types.RawTransaction{Txid: txid, Hex: txHex}, nil
}

func (t *tcpTransport) Broadcast(ctx context.Context, txHex string) (string, error) {
	client, err := t.getClient()
	if err != nil {
		return "", err
	}
	txid, err := client.BroadcastTransaction(ctx, txHex)
	if err != nil {
		return "", fmt.Errorf("%s: %w", transport.MethodBroadcast, err)
	}
	return txid, nil
}

func (t *tcpTransport) Ping(ctx context.Context) error {
	client, err := t.getClient()
	if err != nil {
		return err
	}
	return client.Ping(ctx)
}

func (t *tcpTransport) Generation() uint64 {
	return t.generation.Load()
}

func (t *tcpTransport) Reconnect(ctx context.Context, generation uint64) error {
	t.reconnectMu.Lock()
	defer t.reconnectMu.Unlock()

	t.mu.Lock()
	client := t.client
	if client != nil && t.generation.Load() != generation {
		t.mu.Unlock()
		return nil
	}
	t.client = nil
	t.mu.Unlock()
	if client != nil {
		client.Shutdown()
	}
	return t.connect(ctx)
}

func (t *tcpTransport) Connected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.client != nil
}

func (t *tcpTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		t.client.Shutdown()
		t.client = nil
	}
}
