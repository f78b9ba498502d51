package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/olam-creations/lefilonao-sub001/internal/metrics"
)

// Buyer portals are frequently slow to complete the TLS handshake; those
// failures get a short backoff before the hop is reported as failed.
var handshakeRetryBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

type handshakeRetryTransport struct {
	base    http.RoundTripper
	backoff []time.Duration
}

func newHandshakeRetryTransport(base http.RoundTripper) *handshakeRetryTransport {
	return &handshakeRetryTransport{base: base, backoff: handshakeRetryBackoff}
}

func (t *handshakeRetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("retry transport received nil request")
	}
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return t.base.RoundTrip(req)
	}
	attempts := len(t.backoff) + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		resp, err := t.base.RoundTrip(req.Clone(req.Context()))
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isTransientTLSError(err) || attempt == attempts-1 {
			break
		}
		metrics.ObserveHandshakeRetry(req.URL.Hostname())
		if err := sleepWithContext(req.Context(), t.backoff[attempt]); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("roundtrip %s: %w", req.URL.Redacted(), lastErr)
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry backoff: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func isTransientTLSError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if strings.Contains(err.Error(), "tls: handshake timeout") ||
		strings.Contains(err.Error(), "TLS handshake timeout") {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout() && strings.Contains(netErr.Error(), "handshake")
}
