package websocket_transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/doichain/go-sdk/explorer/transport"
	"github.com/doichain/go-sdk/types"
	"github.com/gorilla/websocket"
	"github.com/mitchellh/mapstructure"
	log "github.com/sirupsen/logrus"
)

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("electrum error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	ID     *uint64         `json:"id"`
	Method string          `json:"method,omitempty"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type pendingCall chan rpcResponse

// session is one websocket connection and the calls waiting on it. A session
// is never reused: a reconnect starts a new one.
type session struct {
	conn       *websocket.Conn
	generation uint64
	writeMu    sync.Mutex

	pendingMu sync.Mutex
	pending   map[uint64]pendingCall
	dropped   bool
}

// register fails when the session was dropped in the meantime, so that no
// call waits on a connection nobody reads from anymore.
func (s *session) register(id uint64, call pendingCall) bool {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	if s.dropped {
		return false
	}
	s.pending[id] = call
	return true
}

func (s *session) take(id uint64) (pendingCall, bool) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	call, ok := s.pending[id]
	delete(s.pending, id)
	return call, ok
}

// wsTransport talks JSON-RPC to an electrum server over a single websocket
// connection. Requests are multiplexed by id: a read loop dispatches every
// response to the caller waiting on it.
type wsTransport struct {
	url              string
	handshakeTimeout time.Duration

	current *session
	connMu  *sync.RWMutex

	reconnectMu *sync.Mutex
	generation  atomic.Uint64
	requestID   atomic.Uint64

	cache   map[string]string // txid => hex
	cacheMu *sync.RWMutex

	closed atomic.Bool
}

// NewTransport dials the electrum server at baseUrl (ws:// or wss://).
func NewTransport(ctx context.Context, baseUrl string, opts ...Option) (*wsTransport, error) {
	u, err := url.Parse(baseUrl)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %s", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported scheme %s, expected ws:// or wss://", u.Scheme)
	}

	t := &wsTransport{
		url:              u.String(),
		handshakeTimeout: 10 * time.Second,
		connMu:           &sync.RWMutex{},
		reconnectMu:      &sync.Mutex{},
		cache:            make(map[string]string),
		cacheMu:          &sync.RWMutex{},
	}
	for _, opt := range opts {
		opt(t)
	}

	if err := t.connect(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *wsTransport) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: t.handshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", t.url, err)
	}

	s := &session{
		conn:       conn,
		generation: t.generation.Add(1),
		pending:    make(map[uint64]pendingCall),
	}
	t.connMu.Lock()
	t.current = s
	t.connMu.Unlock()

	go t.readLoop(s)
	log.WithFields(log.Fields{
		"url":        t.url,
		"generation": s.generation,
	}).Debug("electrum: websocket connected")
	return nil
}

func (t *wsTransport) currentSession() *session {
	t.connMu.RLock()
	defer t.connMu.RUnlock()
	return t.current
}

func (t *wsTransport) readLoop(s *session) {
	for {
		var resp rpcResponse
		if err := s.conn.ReadJSON(&resp); err != nil {
			if !t.closed.Load() {
				log.WithError(err).Warn("electrum: websocket read error")
			}
			t.dropSession(s, err)
			return
		}

		// Subscription notifications carry a method and no id.
		if resp.ID == nil {
			log.WithField("method", resp.Method).Debug("electrum: ignoring notification")
			continue
		}

		if call, ok := s.take(*resp.ID); ok {
			call <- resp
		}
	}
}

// dropSession closes the session's connection and fails its in-flight calls
// with cause. The transport's current session is only cleared if it is still
// s, a newer connection is left alone.
func (t *wsTransport) dropSession(s *session, cause error) {
	t.connMu.Lock()
	if t.current == s {
		t.current = nil
	}
	t.connMu.Unlock()
	// nolint:errcheck
	s.conn.Close()

	s.pendingMu.Lock()
	pending := s.pending
	s.pending = make(map[uint64]pendingCall)
	s.dropped = true
	s.pendingMu.Unlock()

	for _, call := range pending {
		call <- rpcResponse{Error: &rpcError{Code: -1, Message: cause.Error()}}
	}
}

func (t *wsTransport) call(ctx context.Context, method string, result interface{}, params ...interface{}) error {
	s := t.currentSession()
	if s == nil {
		return fmt.Errorf("%s: %w", method, transport.ErrNotConnected)
	}

	if params == nil {
		params = []interface{}{}
	}
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      t.requestID.Add(1),
		Method:  method,
		Params:  params,
	}

	call := make(pendingCall, 1)
	if !s.register(req.ID, call) {
		return fmt.Errorf("%s: %w", method, transport.ErrNotConnected)
	}

	s.writeMu.Lock()
	if deadline, ok := ctx.Deadline(); ok {
		// nolint:errcheck
		s.conn.SetWriteDeadline(deadline)
	}
	err := s.conn.WriteJSON(req)
	s.writeMu.Unlock()
	if err != nil {
		s.take(req.ID)
		return fmt.Errorf("%s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		s.take(req.ID)
		return ctx.Err()
	case resp := <-call:
		if resp.Error != nil {
			return fmt.Errorf("%s: %w", method, resp.Error)
		}
		return decodeResult(resp.Result, result)
	}
}

// decodeResult unmarshals into a generic value first and then maps it onto
// the typed result, so that servers returning numbers as strings or floats
// still decode.
func decodeResult(raw json.RawMessage, result interface{}) error {
	if result == nil {
		return nil
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return fmt.Errorf("invalid response: %s", err)
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           result,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(generic)
}

func (t *wsTransport) ListUnspent(ctx context.Context, scriptHash string) ([]types.UnspentOutput, error) {
	var results []transport.ListUnspentResult
	if err := t.call(ctx, transport.MethodListUnspent, &results, scriptHash); err != nil {
		return nil, err
	}
	return transport.ToUnspentOutputs(results)
}

func (t *wsTransport) GetHistory(ctx context.Context, scriptHash string) ([]types.HistoryEntry, error) {
	var results []transport.HistoryResult
	if err := t.call(ctx, transport.MethodGetHistory, &results, scriptHash); err != nil {
		return nil, err
	}
	return transport.ToHistory(results), nil
}

func (t *wsTransport) GetBalance(ctx context.Context, scriptHash string) (types.Balance, error) {
	var result transport.BalanceResult
	if err := t.call(ctx, transport.MethodGetBalance, &result, scriptHash); err != nil {
		return types.Balance{}, err
	}
	return result.ToBalance(), nil
}

// GetTransaction asks for the verbose form first to learn the block time,
// and falls back to the raw hex for servers that refuse verbose requests.
func (t *wsTransport) GetTransaction(ctx context.Context, txid string) (*types.RawTransaction, error) {
	var verbose transport.TransactionResult
	err := t.call(ctx, transport.MethodGetTx, &verbose, txid, true)
	if err == nil && verbose.Hex != "" {
		t.cacheHex(txid, verbose.Hex)
		return verbose.ToRawTransaction(txid)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		log.WithError(err).WithField("txid", txid).Debug("electrum: verbose tx unavailable")
	}

	if txHex, ok := t.cachedHex(txid); ok {
		return &types.RawTransaction{Txid: txid, Hex: txHex}, nil
	}

	var txHex string
	if err := t.call(ctx, transport.MethodGetTx, &txHex, txid); err != nil {
		return nil, err
	}
	t.cacheHex(txid, txHex)
	return &types.RawTransaction{Txid: txid, Hex: txHex}, nil
}

func (t *wsTransport) Broadcast(ctx context.Context, txHex string) (string, error) {
	var txid string
	if err := t.call(ctx, transport.MethodBroadcast, &txid, txHex); err != nil {
		return "", err
	}
	return txid, nil
}

func (t *wsTransport) Ping(ctx context.Context) error {
	return t.call(ctx, transport.MethodPing, nil)
}

func (t *wsTransport) Generation() uint64 {
	return t.generation.Load()
}

func (t *wsTransport) Reconnect(ctx context.Context, generation uint64) error {
	t.reconnectMu.Lock()
	defer t.reconnectMu.Unlock()

	if t.closed.Load() {
		return transport.ErrClosed
	}

	s := t.currentSession()
	if s != nil && s.generation != generation {
		// another caller already replaced the connection that failed
		return nil
	}
	if s != nil {
		t.dropSession(s, fmt.Errorf("reconnecting: %w", net.ErrClosed))
	}
	if err := t.connect(ctx); err != nil {
		return err
	}
	// Close may have run while dialing
	if t.closed.Load() {
		if s := t.currentSession(); s != nil {
			t.dropSession(s, transport.ErrClosed)
		}
		return transport.ErrClosed
	}
	return nil
}

func (t *wsTransport) Connected() bool {
	return t.currentSession() != nil
}

func (t *wsTransport) Close() {
	if t.closed.Swap(true) {
		return
	}

	s := t.currentSession()
	if s != nil {
		s.writeMu.Lock()
		// nolint:errcheck
		s.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		s.writeMu.Unlock()
		t.dropSession(s, transport.ErrClosed)
	}
	log.Debug("electrum: websocket closed")
}

func (t *wsTransport) cachedHex(txid string) (string, bool) {
	t.cacheMu.RLock()
	defer t.cacheMu.RUnlock()
	txHex, ok := t.cache[txid]
	return txHex, ok
}

func (t *wsTransport) cacheHex(txid, txHex string) {
	t.cacheMu.Lock()
	defer t.cacheMu.Unlock()
	t.cache[txid] = txHex
}
