package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/stalker-loki/omemodr/boltstore"
	"github.com/stalker-loki/omemodr/redisstore"
)

var (
	log = logrus.New()

	dbPath    string
	redisAddr string
	verbose   bool
)

func Execute() error {
	root := &cobra.Command{
		Use:          "omemodr",
		Short:        "OMEMO Double Ratchet session engine",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// A missing .env file is fine.
			_ = godotenv.Load()

			if verbose {
				log.SetLevel(logrus.DebugLevel)
			}
			if redisAddr == "" {
				redisAddr = os.Getenv("OMEMODR_REDIS")
			}
			if dbPath == "" {
				dbPath = os.Getenv("OMEMODR_DB")
			}
			if dbPath == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				dbPath = filepath.Join(dir, ".omemodr", "omemodr.db")
			}
			return os.MkdirAll(filepath.Dir(dbPath), 0o700)
		},
	}

	root.PersistentFlags().StringVar(&dbPath, "db", "", "database file (default ~/.omemodr/omemodr.db)")
	root.PersistentFlags().StringVar(&redisAddr, "redis", "", "redis address for session storage (e.g. localhost:6379)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log ratchet events")

	root.AddCommand(initCmd(), bundleCmd(), sessionsCmd(), demoCmd())
	return root.Execute()
}

func openStore() (*boltstore.Store, error) {
	s, err := boltstore.Open(dbPath)
	if err != nil {
		return nil, err
	}
	log.WithField("path", dbPath).Debug("opened store")
	return s, nil
}

// openSessions returns the redis session store if --redis is set, nil otherwise.
func openSessions(owner string) (*redisstore.SessionStore, error) {
	if redisAddr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{Addr: redisAddr})
	s := redisstore.New(client, owner)
	ctx, cancel := commandContext()
	defer cancel()
	if err := s.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis at %s: %w", redisAddr, err)
	}
	log.WithField("addr", redisAddr).Debug("connected to redis")
	return s, nil
}
