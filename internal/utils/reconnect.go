package utils

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
	"time"
)

var ElectrumReconnectConfig = struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}{
	InitialDelay: 1 * time.Second,
	MaxDelay:     10 * time.Second,
	Multiplier:   2.0,
}

const cloudflare524Error = "524"

// ShouldReconnect tells whether an error returned by an electrum transport
// means the connection is gone and should be re-established, and how long
// to wait before doing so.
func ShouldReconnect(err error) (bool, time.Duration) {
	if err == nil {
		return false, 0
	}
	if errors.Is(err, context.Canceled) {
		return false, 0
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true, time.Second
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true, time.Second
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, cloudflare524Error):
		return true, 5 * time.Second
	case strings.Contains(msg, "websocket: close"),
		strings.Contains(msg, "use of closed network connection"),
		strings.Contains(msg, "connection refused"):
		return true, time.Second
	case strings.Contains(msg, "excessive resource usage"):
		// electrumx bans clients that go over their cost budget for a while
		return true, 5 * time.Second
	default:
		return false, 0
	}
}

// NextDelay grows the reconnect delay up to the configured maximum.
func NextDelay(current time.Duration) time.Duration {
	if current <= 0 {
		return ElectrumReconnectConfig.InitialDelay
	}
	next := time.Duration(float64(current) * ElectrumReconnectConfig.Multiplier)
	if next > ElectrumReconnectConfig.MaxDelay {
		return ElectrumReconnectConfig.MaxDelay
	}
	return next
}
