package cmd

import (
	"net/http"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Activate the emergency stop",
	Long:  `Pause all delivery. Running executions halt after their current send, keep their cursor and resume once the stop is released.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return setEmergencyStop(cmd, true)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Release the emergency stop",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return setEmergencyStop(cmd, false)
	},
}

func setEmergencyStop(cmd *cobra.Command, active bool) error {
	if _, err := call(http.MethodPost, "/api/v1/emergency-stop", map[string]bool{"active": active}); err != nil {
		return err
	}
	if active {
		cmd.Println("Emergency stop is ON. Delivery is paused.")
	} else {
		cmd.Println("Emergency stop is OFF. Delivery resumes.")
	}
	return nil
}

var throttleCmd = &cobra.Command{
	Use:   "throttle",
	Short: "Inspect or reset the pause between sends",
}

var throttleResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop any rate-limit increase and return to the base pause",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := call(http.MethodPost, "/api/v1/throttle/reset", nil)
		if err != nil {
			return err
		}
		cmd.Printf("Throttle reset to %vs\n", out["throttle_seconds"])
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show scheduler liveness, emergency stop and throttle",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := call(http.MethodGet, "/api/v1/status", nil)
		if err != nil {
			return err
		}
		alive, _ := out["scheduler_alive"].(bool)
		stopped, _ := out["emergency_stop"].(bool)

		cmd.Printf("Scheduler:      %s\n", onOff(alive, "alive", "NOT RESPONDING"))
		if beat, ok := out["scheduler_heartbeat"]; ok {
			cmd.Printf("Last heartbeat: %v\n", beat)
		}
		cmd.Printf("Emergency stop: %s\n", onOff(stopped, "ON", "off"))
		cmd.Printf("Throttle:       %vs\n", out["throttle_seconds"])
		return nil
	},
}

func onOff(v bool, yes, no string) string {
	if v {
		return yes
	}
	return no
}

func init() {
	throttleCmd.AddCommand(throttleResetCmd)
	rootCmd.AddCommand(stopCmd, resumeCmd, throttleCmd, statusCmd)
}
