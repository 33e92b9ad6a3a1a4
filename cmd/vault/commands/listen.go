package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hossein1376/grape/slogger"
	"github.com/spf13/cobra"

	"github.com/kamune-org/vault"
	"github.com/kamune-org/vault/internal/config"
	"github.com/kamune-org/vault/pkg/courier"
)

// replyText is sent back, encrypted, for every message accepted.
const replyText = "delivered"

func listenCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Serve the bundle and receive messages from peers",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				cfg.Courier.Address = addr
			}
			network, err := courier.ParseNetwork(cfg.Courier.Network)
			if err != nil {
				return err
			}
			d, err := openDevice(cfg)
			if err != nil {
				return err
			}
			defer d.Close()
			if _, err = maintainPreKeys(d, cfg, time.Now()); err != nil {
				return err
			}
			sessions, err := d.sessions(cfg)
			if err != nil {
				return err
			}
			defer sessions.Close()

			r := &receiver{device: d, cfg: cfg, sessions: sessions, out: os.Stdout}
			server, err := courier.NewServer(
				network,
				cfg.Courier.Address,
				r.handle,
				courier.ServeWithConnOptions(connOptions(cfg)...),
			)
			if err != nil {
				return fmt.Errorf("new server: %w", err)
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			errCh := make(chan error, 1)
			exitCh := make(chan os.Signal, 1)
			signal.Notify(exitCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				slog.Info(
					"listening",
					slog.String("network", network.String()),
					slog.String("address", cfg.Courier.Address),
					slog.String("self", d.self.String()),
				)
				errCh <- server.ListenAndServe(ctx)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("serving: %w", err)
				}
				return nil
			case <-exitCh:
				slogger.Info(ctx, "received exit signal")
				cancel()
				return <-errCh
			}
		},
	}
	cmd.Flags().StringVarP(&addr, "address", "a", "", "listen address, overrides the config")
	return cmd
}

// receiver answers the frames of one device's connections.
type receiver struct {
	device   *device
	cfg      config.Config
	sessions *vault.SessionStore
	out      io.Writer

	// keysMu serializes bundle publication with pre-key top-ups.
	keysMu sync.Mutex
}

func (r *receiver) handle(ctx context.Context, c *courier.Conn) error {
	for {
		f, err := readFrame(c)
		switch {
		case errors.Is(err, io.EOF), ctx.Err() != nil:
			return nil
		case err != nil:
			return err
		}

		var reply frame
		switch f.Kind {
		case kindBundleRequest:
			reply, err = r.bundle()
		case kindMessage:
			reply, err = r.message(f)
		default:
			err = fmt.Errorf("%w: %s", errUnexpectedFrame, f.Kind)
		}
		if err != nil {
			slog.Warn(
				"rejected frame",
				slog.String("remote", c.RemoteAddr().String()),
				slog.String("kind", f.Kind.String()),
				slogger.Err("error", err),
			)
			reply = frame{Kind: kindError, Payload: []byte(vault.UserFacing(err))}
		}
		if err = writeFrame(c, reply); err != nil {
			return err
		}
	}
}

func (r *receiver) bundle() (frame, error) {
	r.keysMu.Lock()
	defer r.keysMu.Unlock()

	if _, err := maintainPreKeys(r.device, r.cfg, time.Now()); err != nil {
		return frame{}, err
	}
	b, err := r.device.storage.Bundle(
		r.device.identity, r.cfg.Identity.RegistrationID, r.cfg.Identity.DeviceID,
	)
	if err != nil {
		return frame{}, err
	}
	raw, err := b.MarshalBinary()
	if err != nil {
		return frame{}, err
	}
	return frame{Kind: kindBundle, Payload: raw}, nil
}

func (r *receiver) message(f frame) (frame, error) {
	peer, err := vault.ParseAddress(f.From)
	if err != nil {
		return frame{}, err
	}
	msg, err := vault.UnmarshalMessage(f.Payload)
	if err != nil {
		return frame{}, err
	}
	sess, plaintext, err := r.sessions.Accept(peer, msg)
	if err != nil {
		return frame{}, err
	}
	fmt.Fprintf(r.out, "%s: %s\n", peer, plaintext)

	reply, err := sess.Encrypt([]byte(replyText))
	if err != nil {
		return frame{}, err
	}
	raw, err := reply.MarshalBinary()
	if err != nil {
		return frame{}, err
	}
	return frame{Kind: kindMessage, From: r.device.self.String(), Payload: raw}, nil
}
