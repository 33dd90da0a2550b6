package broker

import (
	"context"
	"net"
	"time"
)

// Prober answers whether the network path to the remote store is up
// without touching the store itself.
type Prober interface {
	Reachable(ctx context.Context) bool
}

// DialProber opens and immediately closes a TCP connection to Addr.
type DialProber struct {
	Addr    string        // e.g. "8.8.8.8:53"
	Timeout time.Duration // default 3s
}

func (p DialProber) Reachable(ctx context.Context) bool {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", p.Addr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) bool

func (f ProberFunc) Reachable(ctx context.Context) bool { return f(ctx) }
