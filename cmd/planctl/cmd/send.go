package cmd

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var sendCmd = &cobra.Command{
	Use:   "send [plan_id]",
	Short: "Queue a manual send of a plan for today",
	Long: `Create a manual job for the plan. The worker picks it up on its next poll.
Use --recipient to deliver to one recipient and --prompt to replace the plan prompt for this send.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := strconv.ParseUint(args[0], 10, 64); err != nil {
			return fmt.Errorf("invalid plan id %q", args[0])
		}

		body := map[string]interface{}{}
		if id, _ := cmd.Flags().GetUint("recipient"); id > 0 {
			body["recipient_id"] = id
		}
		if prompt, _ := cmd.Flags().GetString("prompt"); prompt != "" {
			body["prompt"] = prompt
		}

		out, err := call(http.MethodPost, "/api/v1/plans/"+args[0]+"/send", body)
		if err != nil {
			return err
		}
		cmd.Printf("Manual job %v queued for %v\n", out["id"], out["date"])
		return nil
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry [execution_id]",
	Short: "Resend the failed items of an execution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := call(http.MethodPost, "/api/v1/executions/"+args[0]+"/retry-failed", nil); err != nil {
			return err
		}
		cmd.Printf("Resend started. Follow it with: planctl execution %s\n", args[0])
		return nil
	},
}

var executionCmd = &cobra.Command{
	Use:   "execution [execution_id]",
	Short: "Show an execution with its items",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := call(http.MethodGet, "/api/v1/executions/"+args[0], nil)
		if err != nil {
			return err
		}
		cmd.Println(pretty(out))
		return nil
	},
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List the jobs of a day",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/api/v1/jobs"
		if date := viper.GetString("date"); date != "" {
			path += "?date=" + date
		}
		out, err := call(http.MethodGet, path, nil)
		if err != nil {
			return err
		}
		jobs, _ := out["jobs"].([]interface{})
		cmd.Printf("%v: %d job(s)\n", out["date"], len(jobs))
		for _, j := range jobs {
			job, ok := j.(map[string]interface{})
			if !ok {
				continue
			}
			cmd.Printf("  #%v plan=%v %v %v retry=%v/%v\n",
				job["id"], job["plan_id"], job["send_type"], job["status"], job["retry_count"], job["max_retries"])
		}
		return nil
	},
}

func init() {
	sendCmd.Flags().Uint("recipient", 0, "deliver to this recipient only")
	sendCmd.Flags().String("prompt", "", "prompt override for this send")

	jobsCmd.Flags().String("date", "", "day to list (YYYY-MM-DD, default today)")
	viper.BindPFlag("date", jobsCmd.Flags().Lookup("date"))

	rootCmd.AddCommand(sendCmd, retryCmd, executionCmd, jobsCmd)
}
