package commands

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"

	"github.com/spf13/cobra"
)

type bundleJSON struct {
	RegistrationID        uint32       `json:"registrationId"`
	DeviceID              uint32       `json:"deviceId"`
	IdentityKey           string       `json:"identityKey"`
	SignedPreKeyID        uint32       `json:"signedPreKeyId"`
	SignedPreKey          string       `json:"signedPreKey"`
	SignedPreKeySignature string       `json:"signedPreKeySignature"`
	PreKeys               []preKeyJSON `json:"preKeys"`
}

type preKeyJSON struct {
	ID  uint32 `json:"id"`
	Key string `json:"key"`
}

func bundleCmd() *cobra.Command {
	var deviceID uint32
	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Print the pre-key bundle to publish for this device",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			identity, err := s.IdentityKeyPair()
			if err != nil {
				return err
			}
			registrationID, err := s.LocalRegistrationID()
			if err != nil {
				return err
			}
			signed, err := s.LoadSignedPreKeys()
			if err != nil {
				return err
			}
			if len(signed) == 0 {
				return errors.New("no signed pre-key, run init first")
			}
			// The newest signed pre-key is published.
			latest := signed[0]
			for _, r := range signed[1:] {
				if r.Timestamp.After(latest.Timestamp) {
					latest = r
				}
			}

			b := bundleJSON{
				RegistrationID:        registrationID,
				DeviceID:              deviceID,
				IdentityKey:           encode(identity.Public.Serialize()),
				SignedPreKeyID:        latest.ID,
				SignedPreKey:          encode(latest.KeyPair.PublicKey.Serialize()),
				SignedPreKeySignature: encode(latest.Signature[:]),
			}
			ids, err := s.PreKeyIDs()
			if err != nil {
				return err
			}
			for _, id := range ids {
				r, err := s.LoadPreKey(id)
				if err != nil {
					return err
				}
				b.PreKeys = append(b.PreKeys, preKeyJSON{ID: id, Key: encode(r.KeyPair.PublicKey.Serialize())})
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(b)
		},
	}
	cmd.Flags().Uint32Var(&deviceID, "device", 1, "device id to announce")
	return cmd
}

func encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
