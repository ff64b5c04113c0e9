package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stalker-loki/omemodr"
)

func sessionsCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "sessions [peer...]",
		Short: "List stored sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			var store omemodr.SessionStore = s
			remote, err := openSessions(owner)
			if err != nil {
				return err
			}
			if remote != nil {
				store = remote
			}

			peers := args
			if len(peers) == 0 {
				if remote != nil {
					return errors.New("name the peers to list when sessions are in redis")
				}
				if peers, err = s.Peers(); err != nil {
					return err
				}
			}

			for _, name := range peers {
				ids, err := store.SubDeviceSessions(name)
				if err != nil {
					return err
				}
				for _, id := range ids {
					addr := omemodr.Address{Name: name, DeviceID: id}
					if err := printSession(store, addr); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "me", "account the redis keys belong to")
	return cmd
}

func printSession(store omemodr.SessionStore, addr omemodr.Address) error {
	record, err := store.LoadSession(addr)
	if err != nil {
		return err
	}
	state := record.SessionState()
	if !state.HasSenderChain() {
		fmt.Printf("%s\tno session\n", addr)
		return nil
	}
	status := "established"
	if state.HasUnacknowledgedPreKeyMessage() {
		status = "awaiting reply"
	}
	fmt.Printf("%s\tv%d\t%s\t%s\tarchived=%d\n",
		addr,
		state.Version(),
		state.RemoteIdentityKey().Fingerprint(),
		status,
		len(record.PreviousStates()),
	)
	return nil
}
