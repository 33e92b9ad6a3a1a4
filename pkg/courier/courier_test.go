package courier

import (
	"bytes"
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipe(t *testing.T, opts ...ConnOption) (*Conn, *Conn) {
	t.Helper()
	a, b := net.Pipe()
	ca, cb := NewConn(a, opts...), NewConn(b, opts...)
	t.Cleanup(func() {
		_ = ca.Close()
		_ = cb.Close()
	})
	return ca, cb
}

func TestConnFrames(t *testing.T) {
	a := require.New(t)
	client, server := pipe(t)

	frames := [][]byte{
		[]byte("hello"),
		{},
		bytes.Repeat([]byte{0xAB}, 70_000),
	}
	go func() {
		for _, f := range frames {
			if err := client.Write(f); err != nil {
				return
			}
		}
	}()

	for _, want := range frames {
		got, err := server.Read()
		a.NoError(err)
		a.Equal(len(want), len(got))
		a.True(bytes.Equal(want, got))
	}
}

func TestConnTooLarge(t *testing.T) {
	a := require.New(t)
	client, _ := pipe(t)

	err := client.Write(make([]byte, MaxFrameSize+1))
	a.ErrorIs(err, ErrFrameTooLarge)

	raw, rawServer := net.Pipe()
	defer raw.Close()
	server := NewConn(rawServer)
	go func() {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], MaxFrameSize+1)
		_, _ = raw.Write(lenBuf[:])
	}()
	_, err = server.Read()
	a.ErrorIs(err, ErrFrameTooLarge)

	_, err = server.Read()
	a.ErrorIs(err, ErrConnClosed)
}

func TestConnClose(t *testing.T) {
	a := require.New(t)
	client, _ := pipe(t)

	a.NoError(client.Close())
	a.ErrorIs(client.Close(), ErrConnClosed)
	a.ErrorIs(client.Write([]byte("x")), ErrConnClosed)
	_, err := client.Read()
	a.ErrorIs(err, ErrConnClosed)
}

func TestConnReadTimeout(t *testing.T) {
	client, _ := pipe(t, WithReadTimeout(20*time.Millisecond))

	_, err := client.Read()
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
}

func TestNetwork(t *testing.T) {
	a := assert.New(t)

	for in, want := range map[string]Network{
		"tcp": TCP, "": TCP, "KCP": KCP, "udp": KCP,
	} {
		got, err := ParseNetwork(in)
		a.NoError(err)
		a.Equal(want, got)
	}
	_, err := ParseNetwork("quic")
	a.Error(err)

	a.Equal("tcp", TCP.String())
	a.Equal("kcp", KCP.String())
	a.Panics(func() { _ = Network(9).String() })
}

func TestServerEcho(t *testing.T) {
	a := require.New(t)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	a.NoError(err)

	srv, err := NewServer(TCP, l.Addr().String(), func(ctx context.Context, c *Conn) error {
		msg, err := c.Read()
		if err != nil {
			return err
		}
		return c.Write(append([]byte("echo: "), msg...))
	})
	a.NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, l) }()

	c, err := Dial(ctx, TCP, l.Addr().String())
	a.NoError(err)
	defer c.Close()

	a.NoError(c.Write([]byte("ping")))
	reply, err := c.Read()
	a.NoError(err)
	a.Equal("echo: ping", string(reply))

	cancel()
	select {
	case err := <-done:
		a.NoError(err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestNewServerOptions(t *testing.T) {
	a := assert.New(t)

	_, err := NewServer(TCP, ":0", nil)
	a.Error(err)

	_, err = NewServer(
		TCP, ":0",
		func(context.Context, *Conn) error { return nil },
		ServeWithConnOptions(WithReadTimeout(time.Second)),
		ServeWithConnOptions(WithReadTimeout(time.Second)),
	)
	a.Error(err)
}
