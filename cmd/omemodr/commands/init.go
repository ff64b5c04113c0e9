package commands

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/stalker-loki/omemodr"
)

func initCmd() *cobra.Command {
	var (
		version uint32
		preKeys uint32
		force   bool
		topUp   bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the local identity and pre-keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			exists, err := s.HasLocalIdentity()
			if err != nil {
				return err
			}
			switch {
			case exists && topUp:
				return addPreKeys(s, preKeys)
			case exists && !force:
				return fmt.Errorf("identity already exists in %s (use --force to replace it)", dbPath)
			}

			generate := omemodr.GenerateIdentityKeyPair
			if version == 4 {
				generate = omemodr.GenerateOMEMOIdentityKeyPair
			} else if version != 3 {
				return fmt.Errorf("%w: %d", omemodr.ErrInvalidVersion, version)
			}
			identity, err := generate(rand.Reader)
			if err != nil {
				return err
			}
			registrationID, err := omemodr.GenerateRegistrationID(rand.Reader)
			if err != nil {
				return err
			}
			if err := s.SetLocalIdentity(identity, registrationID); err != nil {
				return err
			}

			signed, err := omemodr.GenerateSignedPreKey(rand.Reader, identity, 1, time.Now())
			if err != nil {
				return err
			}
			if err := s.StoreSignedPreKey(signed.ID, signed); err != nil {
				return err
			}
			if err := addPreKeys(s, preKeys); err != nil {
				return err
			}

			fmt.Printf("Identity created.\nRegistration id: %d\nFingerprint: %s\n", registrationID, identity.Public.Fingerprint())
			return nil
		},
	}
	cmd.Flags().Uint32Var(&version, "version", omemodr.DefaultVersion, "protocol version the identity is for (3 or 4)")
	cmd.Flags().Uint32Var(&preKeys, "prekeys", 100, "number of one-time pre-keys to generate")
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing identity")
	cmd.Flags().BoolVar(&topUp, "top-up", false, "only add one-time pre-keys to an existing identity")
	return cmd
}

type preKeyStore interface {
	MaxPreKeyID() (uint32, error)
	StorePreKey(id uint32, record omemodr.PreKeyRecord) error
}

func addPreKeys(s preKeyStore, count uint32) error {
	start, err := s.MaxPreKeyID()
	if err != nil {
		return err
	}
	records, err := omemodr.GeneratePreKeys(rand.Reader, start, count)
	if err != nil {
		return err
	}
	for _, r := range records {
		if err := s.StorePreKey(r.ID, r); err != nil {
			return err
		}
	}
	log.WithField("count", count).Info("generated one-time pre-keys")
	return nil
}
