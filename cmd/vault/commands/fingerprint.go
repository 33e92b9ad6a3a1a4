package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kamune-org/vault/pkg/fingerprint"
)

func fingerprintCmd() *cobra.Command {
	var (
		qr       bool
		peerID   string
		peerFile string
	)
	cmd := &cobra.Command{
		Use:   "fingerprint",
		Short: "Print the identity fingerprint, or the safety number shared with a peer",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDevice(cfg)
			if err != nil {
				return err
			}
			defer d.Close()

			local, err := d.identity.Public().MarshalBinary()
			if err != nil {
				return err
			}
			if peerFile == "" {
				fmt.Printf("Name:        %s\n", fingerprint.Pseudonym(d.identity.DH.PublicKey[:]))
				fmt.Printf("Fingerprint: %s\n", fingerprint.Identity(local))
				fmt.Printf("Emoji:       %s\n", strings.Join(fingerprint.Emoji(local), " "))
				if qr {
					code, err := fingerprint.QrCode([]byte(fingerprint.Base64(local)))
					if err != nil {
						return err
					}
					os.Stdout.Write(code)
				}
				return nil
			}

			b, err := readBundle(peerFile)
			if err != nil {
				return err
			}
			remote, err := b.Identity.MarshalBinary()
			if err != nil {
				return err
			}
			number := fingerprint.SafetyNumber(
				[]byte(d.self.UserID), local, []byte(peerID), remote,
			)
			fmt.Printf("Peer:          %s\n", fingerprint.Pseudonym(b.Identity.DH[:]))
			fmt.Printf("Safety number: %s\n", number)
			if qr {
				code, err := fingerprint.QrCode([]byte(number))
				if err != nil {
					return err
				}
				os.Stdout.Write(code)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&qr, "qr", false, "also render a QR code")
	cmd.Flags().StringVar(&peerFile, "bundle", "", "peer bundle, as a file or encoded text")
	cmd.Flags().StringVar(&peerID, "peer", "", "peer user id")
	cmd.MarkFlagsRequiredTogether("bundle", "peer")
	return cmd
}
