package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ironkeep/config"
)

// Version is set at build time with -ldflags "-X ...cmd.Version=v1.2.3".
var Version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "ironkeep",
	Short: "IronKeep is a credential and keychain encryption service",
	Long: `A credential and keychain encryption service: Argon2id password checks,
password-derived session keys held in sealed memory, and encryption of
keychain items with the key of the logged-in user.
Complete documentation is available at https://github.com/jmcleod/ironkeep`,
	Version:      Version,
	SilenceUsage: true,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Path to the YAML config file")
}

// loadConfig reads the --config file, falling back to defaults plus the
// environment when no file is given.
func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}
