package commands

import (
	"crypto/rand"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/stalker-loki/omemodr"
	"github.com/stalker-loki/omemodr/message"
	"github.com/stalker-loki/omemodr/redisstore"
)

type demoDevice struct {
	addr   omemodr.Address
	store  omemodr.ProtocolStore
	bundle omemodr.PreKeyBundle
}

func newDemoDevice(name string, version uint32, sessions *redisstore.SessionStore) (*demoDevice, error) {
	generate := omemodr.GenerateIdentityKeyPair
	if version == message.OMEMOVersion {
		generate = omemodr.GenerateOMEMOIdentityKeyPair
	}
	identity, err := generate(rand.Reader)
	if err != nil {
		return nil, err
	}
	registrationID, err := omemodr.GenerateRegistrationID(rand.Reader)
	if err != nil {
		return nil, err
	}
	local := omemodr.NewProtocolStoreInMemory(identity, registrationID)

	signed, err := omemodr.GenerateSignedPreKey(rand.Reader, identity, 1, time.Now())
	if err != nil {
		return nil, err
	}
	if err := local.StoreSignedPreKey(signed.ID, signed); err != nil {
		return nil, err
	}
	preKeys, err := omemodr.GeneratePreKeys(rand.Reader, 0, 1)
	if err != nil {
		return nil, err
	}
	if err := local.StorePreKey(preKeys[0].ID, preKeys[0]); err != nil {
		return nil, err
	}

	var (
		spk = signed.KeyPair.PublicKey
		pk  = preKeys[0].KeyPair.PublicKey
		d   = &demoDevice{
			addr:  omemodr.Address{Name: name, DeviceID: 1},
			store: local,
			bundle: omemodr.PreKeyBundle{
				RegistrationID:        registrationID,
				DeviceID:              1,
				PreKeyID:              preKeys[0].ID,
				PreKey:                &pk,
				SignedPreKeyID:        signed.ID,
				SignedPreKey:          &spk,
				SignedPreKeySignature: signed.Signature[:],
				IdentityKey:           identity.Public,
			},
		}
	)
	if sessions != nil {
		d.store = redisstore.NewProtocolStore(local, sessions)
	}
	return d, nil
}

// transmit encrypts plaintext and decrypts it from its wire form.
func transmit(from, to *omemodr.SessionCipher, version uint32, plaintext []byte) (message.CiphertextMessage, []byte, error) {
	out, err := from.Encrypt(plaintext)
	if err != nil {
		return nil, nil, err
	}
	wire := out.Serialize()

	if out.Type() == message.PreKeyType {
		parse := message.ParsePreKeyWhisperMessage
		if version == message.OMEMOVersion {
			parse = message.ParseOMEMOKeyExchange
		}
		m, err := parse(wire)
		if err != nil {
			return nil, nil, err
		}
		pt, err := to.DecryptPreKeyMessage(m)
		return out, pt, err
	}

	parse := message.ParseWhisperMessage
	if version == message.OMEMOVersion {
		parse = message.ParseOMEMOMessage
	}
	m, err := parse(wire)
	if err != nil {
		return nil, nil, err
	}
	pt, err := to.DecryptMessage(m)
	return out, pt, err
}

func demoCmd() *cobra.Command {
	var (
		version  uint32
		messages int
	)
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a conversation between two in-process devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				reg     = prometheus.NewRegistry()
				metrics = omemodr.NewMetrics(reg)
				opts    = []omemodr.Option{
					omemodr.WithVersion(version),
					omemodr.WithLogger(log),
					omemodr.WithMetrics(metrics),
				}
			)

			sessions, err := openSessions(fmt.Sprintf("demo-%d", time.Now().UnixNano()))
			if err != nil {
				return err
			}
			alice, err := newDemoDevice("alice", version, nil)
			if err != nil {
				return err
			}
			bob, err := newDemoDevice("bob", version, sessions)
			if err != nil {
				return err
			}

			builder, err := omemodr.NewSessionBuilder(alice.store, bob.addr, opts...)
			if err != nil {
				return err
			}
			if err := builder.ProcessPreKeyBundle(bob.bundle); err != nil {
				return err
			}
			aliceCipher, err := omemodr.NewSessionCipher(alice.store, bob.addr, opts...)
			if err != nil {
				return err
			}
			bobCipher, err := omemodr.NewSessionCipher(bob.store, alice.addr, opts...)
			if err != nil {
				return err
			}

			for i := 0; i < messages; i++ {
				for _, leg := range []struct {
					from, to *omemodr.SessionCipher
					label    string
				}{
					{aliceCipher, bobCipher, "alice -> bob"},
					{bobCipher, aliceCipher, "bob -> alice"},
				} {
					out, pt, err := transmit(leg.from, leg.to, version, []byte(fmt.Sprintf("message %d", i)))
					if err != nil {
						return fmt.Errorf("%s: %w", leg.label, err)
					}
					log.WithFields(logrus.Fields{
						"type":  out.Type(),
						"bytes": len(out.Serialize()),
					}).Debug(leg.label)
					fmt.Printf("%s\t%q\n", leg.label, pt)
				}
			}
			return printMetrics(reg)
		},
	}
	cmd.Flags().Uint32Var(&version, "version", omemodr.DefaultVersion, "protocol version (3 or 4)")
	cmd.Flags().IntVarP(&messages, "messages", "n", 3, "messages each side sends")
	return cmd
}

func printMetrics(reg *prometheus.Registry) error {
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, l := range m.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", l.GetName(), l.GetValue()))
			}
			sort.Strings(labels)
			fmt.Printf("%s{%s} %v\n", mf.GetName(), strings.Join(labels, ","), m.GetCounter().GetValue())
		}
	}
	return nil
}
