package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hossein1376/grape/slogger"
	"github.com/spf13/cobra"

	"github.com/kamune-org/vault"
	"github.com/kamune-org/vault/internal/config"
	"github.com/kamune-org/vault/pkg/courier"
	"github.com/kamune-org/vault/pkg/prekey"
	"github.com/kamune-org/vault/pkg/ratchet"
	"github.com/kamune-org/vault/pkg/store"
	"github.com/kamune-org/vault/pkg/x3dh"
)

var (
	cfgPath string
	dbPath  string
	cfg     config.Config
)

func Execute() error {
	root := &cobra.Command{
		Use:           "vault",
		Short:         "End-to-end encrypted messaging between devices",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cfgPath == "" {
				dir, err := vault.DefaultDir()
				if err != nil {
					return err
				}
				cfgPath = filepath.Join(dir, "config.toml")
			}
			var err error
			cfg, err = config.New(cfgPath)
			if err != nil {
				return fmt.Errorf("new config: %w", err)
			}
			if dbPath != "" {
				cfg.Storage.Path = dbPath
			}
			slogger.NewDefault(slogger.WithLevel(cfg.Log.Level))
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config path (default ~/.config/vault/config.toml)")
	root.PersistentFlags().StringVar(&dbPath, "db", "", "database path, overrides the config")

	root.AddCommand(
		initCmd(), bundleCmd(), fingerprintCmd(), listenCmd(), sendCmd(),
	)
	if err := root.Execute(); err != nil {
		slog.Error("vault", slogger.Err("error", err))
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// device is an opened database together with the identity it holds.
type device struct {
	storage  *vault.Storage
	identity *prekey.Identity
	self     vault.Address
}

func openDevice(cfg config.Config) (*device, error) {
	opts := []vault.StorageOption{
		vault.StorageWithAlgorithm(cfg.Identity.Algorithm),
		vault.StorageWithStoreOptions(
			store.WithTimeout(cfg.Storage.Timeout),
			store.WithArgon2(
				cfg.Storage.Argon2.Time,
				cfg.Storage.Argon2.MemoryKiB,
				cfg.Storage.Argon2.Threads,
			),
		),
	}
	if cfg.Storage.Path != "" {
		opts = append(opts, vault.StorageWithDBPath(cfg.Storage.Path))
	}
	if cfg.Storage.NoPassphrase {
		opts = append(opts, vault.StorageWithNoPassphrase())
	}
	s, err := vault.OpenStorage(opts...)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	id, err := s.Identity()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("identity: %w", err)
	}
	userID := cfg.Identity.UserID
	if userID == "" {
		userID = defaultUserID(id)
	}
	return &device{
		storage:  s,
		identity: id,
		self:     vault.Address{UserID: userID, DeviceID: cfg.Identity.DeviceID},
	}, nil
}

func (d *device) Close() error {
	d.identity.Wipe()
	return d.storage.Close()
}

// sessions builds a SessionStore backed by the device's database.
func (d *device) sessions(cfg config.Config, opts ...vault.StoreOption) (*vault.SessionStore, error) {
	agreement := []x3dh.Option(nil)
	if !cfg.Identity.PostQuantum {
		agreement = append(agreement, x3dh.WithoutKEM())
	}
	opts = append([]vault.StoreOption{
		vault.StoreWithPersister(d.storage),
		vault.StoreWithPreKeys(d.storage),
		vault.StoreWithRatchetOptions(
			ratchet.WithMaxSkip(cfg.Ratchet.MaxSkip),
			ratchet.WithMaxCache(cfg.Ratchet.MaxCache),
		),
		vault.StoreWithAgreementOptions(agreement...),
	}, opts...)
	return vault.NewSessionStore(d.identity, opts...)
}

func connOptions(cfg config.Config) []courier.ConnOption {
	return []courier.ConnOption{
		courier.WithReadTimeout(cfg.Courier.ReadTimeout),
		courier.WithWriteTimeout(cfg.Courier.WriteTimeout),
	}
}
