package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

var workflowsAddr string

var workflowsCmd = &cobra.Command{
	Use:   "workflows",
	Short: "Inspect and start workflow runs on a running vaultweaver process",
}

var workflowsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered workflow definitions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getAndPrint(workflowsAddr + "/api/workflows")
	},
}

var workflowsStartCmd = &cobra.Command{
	Use:   "start <workflowId>",
	Short: "Start a workflow run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, _ := json.Marshal(map[string]interface{}{"workflowId": args[0], "input": map[string]interface{}{}})
		resp, err := http.Post(workflowsAddr+"/api/workflows", "application/json", bytes.NewReader(body))
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		out, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 300 {
			return fmt.Errorf("request failed: %s: %s", resp.Status, string(out))
		}
		fmt.Println(string(out))
		return nil
	},
}

var workflowsRunCmd = &cobra.Command{
	Use:   "run <runId>",
	Short: "Show a workflow run's current state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getAndPrint(workflowsAddr + "/api/workflows/runs/" + args[0])
	},
}

var workflowsCancelCmd = &cobra.Command{
	Use:   "cancel <runId>",
	Short: "Cancel an in-progress workflow run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return postAndCheck(workflowsAddr + "/api/workflows/runs/" + args[0] + "/cancel")
	},
}

func init() {
	workflowsCmd.PersistentFlags().StringVar(&workflowsAddr, "addr", "http://127.0.0.1:8787", "address of a running vaultweaver serve process")
	workflowsCmd.AddCommand(workflowsListCmd, workflowsStartCmd, workflowsRunCmd, workflowsCancelCmd)
	rootCmd.AddCommand(workflowsCmd)
}
