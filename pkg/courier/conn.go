// Package courier moves opaque messages between two endpoints as
// length-prefixed frames over TCP or KCP. It knows nothing about their
// contents and does not retry.
package courier

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// MaxFrameSize bounds a single frame's payload.
const MaxFrameSize = 1 << 20

var (
	ErrConnClosed    = errors.New("connection closed")
	ErrFrameTooLarge = errors.New("frame too large")
)

type ConnOption func(*Conn)

// WithReadTimeout sets how long Read waits for a frame. Zero waits forever.
func WithReadTimeout(timeout time.Duration) ConnOption {
	return func(c *Conn) { c.readTimeout = timeout }
}

func WithWriteTimeout(timeout time.Duration) ConnOption {
	return func(c *Conn) { c.writeTimeout = timeout }
}

// Conn frames messages over a stream connection. Reads and writes may run
// concurrently with each other; concurrent writes are serialized.
type Conn struct {
	conn   net.Conn
	reader *bufio.Reader

	writeMu sync.Mutex
	closed  atomic.Bool

	readTimeout  time.Duration
	writeTimeout time.Duration
}

func NewConn(c net.Conn, opts ...ConnOption) *Conn {
	conn := &Conn{
		conn:         c,
		reader:       bufio.NewReader(c),
		writeTimeout: 10 * time.Second,
		readTimeout:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(conn)
	}
	return conn
}

// Read returns the next frame's payload.
func (c *Conn) Read() ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrConnClosed
	}
	if err := c.conn.SetReadDeadline(deadline(c.readTimeout)); err != nil {
		return nil, fmt.Errorf("setting read deadline: %w", err)
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(c.reader, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("reading length: %w", err)
	}
	size := binary.BigEndian.Uint32(lenBuf[:])
	if size > MaxFrameSize {
		// the stream can no longer be trusted to be in sync
		_ = c.Close()
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(c.reader, buf); err != nil {
		return nil, fmt.Errorf("reading frame: %w", err)
	}
	return buf, nil
}

// Write sends data as a single frame.
func (c *Conn) Write(data []byte) error {
	if len(data) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return ErrConnClosed
	}
	if err := c.conn.SetWriteDeadline(deadline(c.writeTimeout)); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}

	frame := make([]byte, 4, 4+len(data))
	binary.BigEndian.PutUint32(frame, uint32(len(data)))
	frame = append(frame, data...)
	if _, err := c.conn.Write(frame); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return ErrConnClosed
	}
	return c.conn.Close()
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func deadline(timeout time.Duration) time.Time {
	if timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}
