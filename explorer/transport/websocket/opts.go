package websocket_transport

import "time"

// Option is a functional option for configuring the websocket transport.
type Option func(*wsTransport)

// WithHandshakeTimeout bounds the websocket opening handshake.
// Default: 10 seconds.
func WithHandshakeTimeout(timeout time.Duration) Option {
	return func(t *wsTransport) {
		if timeout > 0 {
			t.handshakeTimeout = timeout
		}
	}
}
