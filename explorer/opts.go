package explorer

import "time"

// Option is a functional option for configuring the Explorer service.
type Option func(*explorerOptions)

type explorerOptions struct {
	transportType    TransportType
	requestsPerSec   int
	requestTimeout   time.Duration
	breakerThreshold uint32
	breakerTimeout   time.Duration
}

// WithTransportType explicitly sets the transport to use.
// If not specified, the transport is detected from the URL scheme.
func WithTransportType(transportType TransportType) Option {
	return func(opts *explorerOptions) {
		opts.transportType = transportType
	}
}

// WithRequestsPerSecond caps the rate of requests sent to the server.
// Public electrum servers ban clients that flood them during deep scans.
// Default: 0, no limit.
func WithRequestsPerSecond(rps int) Option {
	return func(opts *explorerOptions) {
		opts.requestsPerSec = rps
	}
}

// WithRequestTimeout bounds every single request.
// Default: 30 seconds.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(opts *explorerOptions) {
		opts.requestTimeout = timeout
	}
}

// WithCircuitBreaker sets after how many consecutive failures the circuit
// opens and how long it stays open before letting a probe request through.
// Default: 10 failures, 30 seconds.
func WithCircuitBreaker(consecutiveFailures uint32, openTimeout time.Duration) Option {
	return func(opts *explorerOptions) {
		opts.breakerThreshold = consecutiveFailures
		opts.breakerTimeout = openTimeout
	}
}
