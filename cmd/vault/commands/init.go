package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/kamune-org/vault/internal/config"
	"github.com/kamune-org/vault/pkg/fingerprint"
)

func initCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the device identity, pre-keys and config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID != "" {
				cfg.Identity.UserID = userID
			}
			d, err := openDevice(cfg)
			if err != nil {
				return err
			}
			defer d.Close()

			report, err := maintainPreKeys(d, cfg, time.Now())
			if err != nil {
				return fmt.Errorf("generating pre-keys: %w", err)
			}
			if cfg.Identity.UserID == "" {
				cfg.Identity.UserID = d.self.UserID
			}
			written, err := writeConfig(cfgPath, cfg)
			if err != nil {
				return err
			}

			pub, err := d.identity.Public().MarshalBinary()
			if err != nil {
				return err
			}
			fmt.Printf("Address:     %s\n", d.self)
			fmt.Printf("Fingerprint: %s\n", fingerprint.Identity(pub))
			fmt.Printf("One-time pre-keys added: %d\n", report.AddedOneTime)
			if written {
				fmt.Printf("Config written to %s\n", cfgPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "user id to publish (default derived from the identity)")
	return cmd
}

// writeConfig saves cfg at path unless a file is already there.
func writeConfig(path string, cfg config.Config) (bool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return false, fmt.Errorf("creating config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if errors.Is(err, os.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("creating config: %w", err)
	}
	if err = config.Write(f, cfg); err != nil {
		f.Close()
		return false, err
	}
	return true, f.Close()
}
