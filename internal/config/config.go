// Package config loads the command line tool's TOML configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/kamune-org/vault/pkg/attest"
	"github.com/kamune-org/vault/pkg/courier"
	"github.com/kamune-org/vault/pkg/prekey"
	"github.com/kamune-org/vault/pkg/ratchet"
)

type Config struct {
	Identity Identity `toml:"identity"`
	Storage  Storage  `toml:"storage"`
	Ratchet  Ratchet  `toml:"ratchet"`
	Courier  Courier  `toml:"courier"`
	Log      Log      `toml:"log"`
}

type Identity struct {
	UserID         string           `toml:"user_id"`
	DeviceID       uint32           `toml:"device_id"`
	RegistrationID uint32           `toml:"registration_id"`
	Algorithm      attest.Algorithm `toml:"algorithm"`
	OneTimePreKeys int              `toml:"one_time_prekeys"`
	PostQuantum    bool             `toml:"post_quantum"`
	// Rotation is how long a signed pre-key is published.
	Rotation time.Duration `toml:"rotation"`
}

type Storage struct {
	// Path is the database file. Empty means the default location.
	Path         string        `toml:"path"`
	NoPassphrase bool          `toml:"no_passphrase"`
	Timeout      time.Duration `toml:"timeout"`
	Argon2       Argon2        `toml:"argon2"`
}

// Argon2 is the passphrase hashing cost of a newly created database.
type Argon2 struct {
	Time      uint32 `toml:"time"`
	MemoryKiB uint32 `toml:"memory_kib"`
	Threads   uint8  `toml:"threads"`
}

type Ratchet struct {
	MaxSkip  int `toml:"max_skip"`
	MaxCache int `toml:"max_cache"`
}

type Courier struct {
	Network      string        `toml:"network"`
	Address      string        `toml:"address"`
	ReadTimeout  time.Duration `toml:"read_timeout"`
	WriteTimeout time.Duration `toml:"write_timeout"`
}

type Log struct {
	Level slog.Level `toml:"level"`
}

func Default() Config {
	return Config{
		Identity: Identity{
			DeviceID:       1,
			RegistrationID: 1,
			Algorithm:      attest.Ed25519Algorithm,
			OneTimePreKeys: prekey.BatchSize,
			PostQuantum:    true,
			Rotation:       prekey.RotationPeriod,
		},
		Storage: Storage{
			Timeout: time.Second,
			Argon2:  Argon2{Time: 1, MemoryKiB: 64 * 1024, Threads: 4},
		},
		Ratchet: Ratchet{
			MaxSkip:  ratchet.DefaultMaxSkip,
			MaxCache: ratchet.DefaultMaxCache,
		},
		Courier: Courier{
			Network:      courier.TCP.String(),
			Address:      "127.0.0.1:7420",
			ReadTimeout:  10 * time.Minute,
			WriteTimeout: time.Minute,
		},
		Log: Log{Level: slog.LevelInfo},
	}
}

// New reads the file at path over the defaults. A missing file yields the
// defaults.
func New(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return cfg, nil
	case err != nil:
		return cfg, fmt.Errorf("reading file: %w", err)
	}
	if err = toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal: %w", err)
	}
	if err = cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Write encodes cfg as TOML.
func Write(w io.Writer, cfg Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if !c.Identity.Algorithm.Valid() {
		errs = append(errs, fmt.Errorf("identity.algorithm: unknown algorithm %d", c.Identity.Algorithm))
	}
	if c.Identity.OneTimePreKeys < 0 {
		errs = append(errs, errors.New("identity.one_time_prekeys: must not be negative"))
	}
	if c.Ratchet.MaxSkip < 0 {
		errs = append(errs, errors.New("ratchet.max_skip: must not be negative"))
	}
	if c.Ratchet.MaxCache <= 0 {
		errs = append(errs, errors.New("ratchet.max_cache: must be positive"))
	}
	if _, err := courier.ParseNetwork(c.Courier.Network); err != nil {
		errs = append(errs, fmt.Errorf("courier.network: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
