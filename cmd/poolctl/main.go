// Command poolctl is a diagnostic client for the fixedpool package: an
// external collaborator that consumes Pool's public surface only, never
// reaching into its internals.
package main

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.WithError(err).Error("poolctl: command failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "poolctl",
		Short: "Inspect and exercise a fixedpool.Pool through its public API",
	}

	root.PersistentFlags().Int("item-size", 32, "item size in bytes")
	root.PersistentFlags().Int("slot-capacity", 0, "items per slot (0 = page-derived default)")
	root.PersistentFlags().String("log-level", "info", "logrus level: trace, debug, info, warn, error")

	viper.SetEnvPrefix("POOLCTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindPFlags(root.PersistentFlags())

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(viper.GetString("log-level"))
		if err != nil {
			return err
		}
		logrus.SetLevel(level)
		return nil
	}

	root.AddCommand(newRunCmd(), newServeCmd())
	return root
}
