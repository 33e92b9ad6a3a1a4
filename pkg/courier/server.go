package courier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"
)

// HandlerFunc serves one accepted connection. The connection is closed once
// it returns.
type HandlerFunc func(ctx context.Context, c *Conn) error

type Server struct {
	network  Network
	addr     string
	handler  HandlerFunc
	connOpts []ConnOption
	logger   *slog.Logger
}

type ServerOption func(*Server) error

func ServeWithConnOptions(opts ...ConnOption) ServerOption {
	return func(s *Server) error {
		if s.connOpts != nil {
			return errors.New("server already has conn options")
		}
		s.connOpts = opts
		return nil
	}
}

func ServeWithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}

func NewServer(
	network Network, addr string, handler HandlerFunc, opts ...ServerOption,
) (*Server, error) {
	if handler == nil {
		return nil, errors.New("nil handler")
	}
	s := &Server{
		network: network,
		addr:    addr,
		handler: handler,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		if err := o(s); err != nil {
			return nil, fmt.Errorf("applying options: %w", err)
		}
	}
	return s, nil
}

// ListenAndServe listens on the server's address and serves until ctx is
// done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	l, err := Listen(s.network, s.addr)
	if err != nil {
		return fmt.Errorf("listening: %w", err)
	}
	return s.Serve(ctx, l)
}

// Serve accepts connections from l until ctx is done, then closes l and
// waits for running handlers.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	defer wg.Wait()

	go func() {
		<-ctx.Done()
		_ = l.Close()
	}()

	for {
		c, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.logger.Error("accept conn", slog.Any("err", err))
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serve(ctx, NewConn(c, s.connOpts...))
		}()
	}
}

func (s *Server) serve(ctx context.Context, conn *Conn) {
	remote := conn.RemoteAddr().String()
	defer func() {
		if msg := recover(); msg != nil {
			s.logger.Error(
				"serve panic",
				slog.String("remote", remote),
				slog.Any("message", msg),
				slog.String("stack", string(debug.Stack())),
			)
		}
		if err := conn.Close(); err != nil && !errors.Is(err, ErrConnClosed) {
			s.logger.Error("close conn", slog.Any("err", err))
		}
	}()

	// unblock a handler waiting on the peer once the server stops
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := s.handler(ctx, conn); err != nil {
		s.logger.Error(
			"serve conn", slog.String("remote", remote), slog.Any("err", err),
		)
	}
}
