package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ironkeep/crypto"
)

var hashCmd = &cobra.Command{
	Use:   "hash",
	Short: "Print the Argon2id hash of a password",
	Long: `Reads a password (prompting when stdin is a terminal, otherwise from the
first line of stdin) and prints its PHC-encoded Argon2id hash, suitable for
the password_hash field of a users file.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readPassword(cmd, "Password: ", true)
		if err != nil {
			return err
		}
		hash, err := crypto.HashPassword(password)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashCmd)
}
