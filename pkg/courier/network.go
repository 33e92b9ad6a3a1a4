package courier

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/xtaci/kcp-go/v5"
)

// Network selects the underlying stream.
type Network int

const (
	TCP Network = iota
	// KCP is a reliable stream over UDP.
	KCP
)

func (n Network) String() string {
	switch n {
	case TCP:
		return "tcp"
	case KCP:
		return "kcp"
	default:
		panic(fmt.Errorf("unknown network: %d", int(n)))
	}
}

// ParseNetwork accepts "tcp", and "kcp" or "udp".
func ParseNetwork(s string) (Network, error) {
	switch strings.ToLower(s) {
	case "tcp", "":
		return TCP, nil
	case "kcp", "udp":
		return KCP, nil
	default:
		return 0, fmt.Errorf("unknown network %q", s)
	}
}

// Dial connects to addr. The context bounds connection setup for TCP; KCP
// has no handshake, so it returns as soon as the socket is bound.
func Dial(
	ctx context.Context, network Network, addr string, opts ...ConnOption,
) (*Conn, error) {
	switch network {
	case TCP:
		var d net.Dialer
		c, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("dialing tcp: %w", err)
		}
		return NewConn(c, opts...), nil
	case KCP:
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c, err := kcp.Dial(addr)
		if err != nil {
			return nil, fmt.Errorf("dialing kcp: %w", err)
		}
		return NewConn(c, opts...), nil
	default:
		panic(fmt.Errorf("unknown network: %d", int(network)))
	}
}

// Listen opens a listener for network on addr.
func Listen(network Network, addr string) (net.Listener, error) {
	switch network {
	case TCP:
		return net.Listen("tcp", addr)
	case KCP:
		return kcp.Listen(addr)
	default:
		panic(fmt.Errorf("unknown network: %d", int(network)))
	}
}
