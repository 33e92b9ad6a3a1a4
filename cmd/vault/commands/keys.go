package commands

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kamune-org/vault/internal/config"
	"github.com/kamune-org/vault/pkg/fingerprint"
	"github.com/kamune-org/vault/pkg/prekey"
)

// defaultUserID names a device whose config sets no user id.
func defaultUserID(id *prekey.Identity) string {
	return fingerprint.Pseudonym(id.DH.PublicKey[:])
}

type keyReport struct {
	RotatedSigned bool
	PrunedSigned  int
	AddedOneTime  int
	AddedKEM      bool
}

// maintainPreKeys makes sure the database can publish a complete bundle. The
// signed pre-key is rotated once it is older than the configured period and
// superseded ones are deleted two periods after their successor appeared.
// One-time pre-keys are topped up when fewer than half are left unpublished.
func maintainPreKeys(d *device, cfg config.Config, now time.Time) (keyReport, error) {
	var report keyReport
	signed, _, kems, err := d.storage.PreKeyIDs()
	if err != nil {
		return report, fmt.Errorf("listing pre-keys: %w", err)
	}
	rotation := cfg.Identity.Rotation
	if rotation <= 0 {
		rotation = prekey.RotationPeriod
	}

	rotate := len(signed) == 0
	if !rotate {
		spk, err := d.storage.SignedPreKey(signed[len(signed)-1])
		if err != nil {
			return report, err
		}
		rotate = spk.Expired(now, rotation)
		spk.Wipe()
	}
	if rotate {
		spk, err := prekey.GenerateSignedPreKey(d.identity, nextID(signed))
		if err != nil {
			return report, err
		}
		defer spk.Wipe()
		if err = d.storage.StoreSignedPreKey(spk); err != nil {
			return report, err
		}
		report.RotatedSigned = true
	}

	pruned, err := d.storage.PruneSignedPreKeys(now, 2*rotation)
	if err != nil {
		return report, err
	}
	report.PrunedSigned = len(pruned)

	want := cfg.Identity.OneTimePreKeys
	available, err := d.storage.AvailableOneTimePreKeys()
	if err != nil {
		return report, fmt.Errorf("counting one-time pre-keys: %w", err)
	}
	if available < (want+1)/2 {
		added, err := d.storage.GenerateOneTimePreKeys(want - available)
		if err != nil {
			return report, err
		}
		report.AddedOneTime = len(added)
	}

	if cfg.Identity.PostQuantum && len(kems) == 0 {
		kem, err := prekey.GenerateKEMPreKey(d.identity, nextID(kems))
		if err != nil {
			return report, err
		}
		defer kem.Wipe()
		if err = d.storage.StoreKEMPreKey(kem); err != nil {
			return report, err
		}
		report.AddedKEM = true
	}

	if report != (keyReport{}) {
		slog.Debug(
			"pre-keys updated",
			slog.Bool("rotated_signed", report.RotatedSigned),
			slog.Int("pruned_signed", report.PrunedSigned),
			slog.Int("added_one_time", report.AddedOneTime),
			slog.Bool("added_kem", report.AddedKEM),
		)
	}
	return report, nil
}

// nextID follows the highest id in ids, which are sorted. The newest signed
// and KEM pre-keys are never deleted, so ids do not repeat.
func nextID(ids []uint32) uint32 {
	if len(ids) == 0 {
		return 1
	}
	return ids[len(ids)-1] + 1
}
