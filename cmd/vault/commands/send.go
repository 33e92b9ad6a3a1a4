package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/kamune-org/vault"
	"github.com/kamune-org/vault/pkg/courier"
	"github.com/kamune-org/vault/pkg/fingerprint"
	"github.com/kamune-org/vault/pkg/prekey"
)

// send <peer> <message>: encrypt a message for peer and deliver it.
func sendCmd() *cobra.Command {
	var (
		addr       string
		bundlePath string
	)
	cmd := &cobra.Command{
		Use:   "send <peer> <message>",
		Short: "Encrypt and send a message to a peer device",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer, err := vault.ParseAddress(args[0])
			if err != nil {
				return err
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

			ctx := cmd.Context()
			conn, err := courier.Dial(ctx, network, addr, connOptions(cfg)...)
			if err != nil {
				return err
			}
			defer conn.Close()

			fetch := vault.BundleFetcherFunc(
				func(ctx context.Context, peer vault.Address) (*prekey.Bundle, error) {
					if bundlePath != "" {
						return readBundle(bundlePath)
					}
					return requestBundle(conn)
				},
			)
			sessions, err := d.sessions(cfg, vault.StoreWithFetcher(fetch))
			if err != nil {
				return err
			}
			defer sessions.Close()

			fresh := !sessions.Has(peer)
			sess, err := sessions.GetOrCreate(ctx, peer)
			if err != nil {
				return fmt.Errorf("session with %s: %w", peer, err)
			}
			if fresh {
				info, err := sess.Info()
				if err != nil {
					return err
				}
				slog.Info(
					"started session",
					slog.String("peer", peer.String()),
					slog.Bool("post_quantum", info.PostQuantum),
				)
			}

			reply, err := deliver(conn, d.self, sess, []byte(args[1]))
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s\n", peer, reply)
			return nil
		},
	}
	cmd.Flags().StringVarP(&addr, "address", "a", "", "peer's listen address")
	cmd.Flags().StringVar(&bundlePath, "bundle", "", "peer bundle, as a file or encoded text (default ask the peer)")
	_ = cmd.MarkFlagRequired("address")
	return cmd
}

func requestBundle(conn *courier.Conn) (*prekey.Bundle, error) {
	f, err := roundTrip(conn, frame{Kind: kindBundleRequest}, kindBundle)
	if err != nil {
		return nil, fmt.Errorf("requesting bundle: %w", err)
	}
	b, err := prekey.UnmarshalBundle(f.Payload)
	if err != nil {
		return nil, err
	}
	slog.Info(
		"received bundle",
		slog.String("name", fingerprint.Pseudonym(b.Identity.DH[:])),
		slog.Bool("one_time_prekey", b.HasOneTimePreKey()),
	)
	return b, nil
}

// deliver sends plaintext over sess and decrypts the peer's acknowledgement.
func deliver(
	conn *courier.Conn, self vault.Address, sess *vault.Session, plaintext []byte,
) ([]byte, error) {
	msg, err := sess.Encrypt(plaintext)
	if err != nil {
		return nil, err
	}
	raw, err := msg.MarshalBinary()
	if err != nil {
		return nil, err
	}
	f, err := roundTrip(
		conn, frame{Kind: kindMessage, From: self.String(), Payload: raw}, kindMessage,
	)
	if err != nil {
		return nil, err
	}
	reply, err := vault.UnmarshalMessage(f.Payload)
	if err != nil {
		return nil, err
	}
	return sess.Decrypt(reply)
}
