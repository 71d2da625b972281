package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "planctl",
	Short: "planctl operates the planmail delivery system",
	Long: `planctl talks to the planmail ops API to pause and resume delivery,
queue manual sends and resend failed items.

Common workflows:

  Pause every send at once:
    planctl stop
  Resume:
    planctl resume

  Send a plan now, optionally to one recipient:
    planctl send 12 --recipient 345

  Resend the failed items of an execution:
    planctl retry 678

The data and calendar commands read the service configuration directly
(CONFIG_PATH or ./configs/config.yaml) instead of going through the API.

Configuration:
  PLANCTL_URL    ops API endpoint (default: http://localhost:8080)`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	viper.SetEnvPrefix("PLANCTL")
	viper.AutomaticEnv()

	rootCmd.PersistentFlags().String("url", "http://localhost:8080", "planmail ops API URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))
}
