package cmd

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ironkeep/auth"
	"github.com/jmcleod/ironkeep/config"
	"github.com/jmcleod/ironkeep/credentials"
	"github.com/jmcleod/ironkeep/crypto"
	"github.com/jmcleod/ironkeep/custody"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users in the configured credential store",
}

var userAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Create a user with a fresh salt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(cfg *config.Config, store credentials.Store) error {
			password, err := readPassword(cmd, "Password: ", true)
			if err != nil {
				return err
			}
			keys := custody.New()
			defer keys.Close()
			svc, err := auth.NewService(store, keys, crypto.NewPool(1), auth.Config{KDFTimeout: cfg.KDF.Timeout})
			if err != nil {
				return err
			}
			cred, err := svc.Register(cmd.Context(), args[0], password)
			if errors.Is(err, credentials.ErrExists) {
				return fmt.Errorf("user %q already exists", credentials.CanonicalUsername(args[0]))
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %s (id %s)\n", cred.Username, cred.UserID)
			return nil
		})
	},
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(_ *config.Config, store credentials.Store) error {
			creds, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "USERNAME\tUSER ID\tCREATED")
			for _, c := range creds {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", c.Username, c.UserID, c.CreatedAt.UTC().Format(time.RFC3339))
			}
			return tw.Flush()
		})
	},
}

var userRemoveCmd = &cobra.Command{
	Use:     "remove <username>",
	Aliases: []string{"rm"},
	Short:   "Delete a user",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(_ *config.Config, store credentials.Store) error {
			username := credentials.CanonicalUsername(args[0])
			err := store.Delete(cmd.Context(), username)
			if errors.Is(err, credentials.ErrNotFound) {
				return fmt.Errorf("user %q not found", username)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed user %s\n", username)
			return nil
		})
	},
}

func withStore(ctx context.Context, fn func(*config.Config, credentials.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Store.Driver == config.DriverMemory {
		return errors.New("the memory store does not outlive this command; configure a persistent store.driver")
	}
	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()
	return fn(cfg, store)
}

func init() {
	userCmd.AddCommand(userAddCmd, userListCmd, userRemoveCmd)
	rootCmd.AddCommand(userCmd)
}
