package commands

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kamune-org/vault/pkg/fingerprint"
	"github.com/kamune-org/vault/pkg/prekey"
)

func bundleCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Print the pre-key bundle peers need to start a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDevice(cfg)
			if err != nil {
				return err
			}
			defer d.Close()

			if _, err = maintainPreKeys(d, cfg, time.Now()); err != nil {
				return err
			}
			b, err := d.storage.Bundle(
				d.identity, cfg.Identity.RegistrationID, cfg.Identity.DeviceID,
			)
			if err != nil {
				return fmt.Errorf("bundle: %w", err)
			}
			raw, err := b.MarshalBinary()
			if err != nil {
				return err
			}
			encoded := fingerprint.Base64(raw)
			if out == "" {
				fmt.Println(encoded)
				return nil
			}
			return os.WriteFile(out, []byte(encoded+"\n"), 0644)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the bundle to a file instead of stdout")
	return cmd
}

// readBundle accepts either a path to a file written by the bundle command
// or the encoded bundle itself.
func readBundle(arg string) (*prekey.Bundle, error) {
	text := arg
	data, err := os.ReadFile(arg)
	switch {
	case err == nil:
		text = string(data)
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("reading bundle: %w", err)
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(text))
	if err != nil {
		return nil, fmt.Errorf("decoding bundle: %w", err)
	}
	b, err := prekey.UnmarshalBundle(raw)
	if err != nil {
		return nil, err
	}
	if err = b.Verify(); err != nil {
		return nil, err
	}
	return b, nil
}
