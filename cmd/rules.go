package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

var rulesAddr string

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect and administer the rules engine of a running vaultweaver process",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getAndPrint(rulesAddr + "/api/rules")
	},
}

var rulesStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show execution counts and quarantine state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getAndPrint(rulesAddr + "/api/rules/stats")
	},
}

var rulesEnableCmd = &cobra.Command{
	Use:   "enable <ruleId>",
	Short: "Re-enable a quarantined or manually disabled rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return postAndCheck(rulesAddr + "/api/rules/" + args[0] + "/enable")
	},
}

var rulesDisableCmd = &cobra.Command{
	Use:   "disable <ruleId>",
	Short: "Disable a rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return postAndCheck(rulesAddr + "/api/rules/" + args[0] + "/disable")
	},
}

func init() {
	rulesCmd.PersistentFlags().StringVar(&rulesAddr, "addr", "http://127.0.0.1:8787", "address of a running vaultweaver serve process")
	rulesCmd.AddCommand(rulesListCmd, rulesStatsCmd, rulesEnableCmd, rulesDisableCmd)
	rootCmd.AddCommand(rulesCmd)
}

func getAndPrint(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("request failed: %s: %s", resp.Status, string(body))
	}
	var pretty interface{}
	if err := json.Unmarshal(body, &pretty); err != nil {
		fmt.Println(string(body))
		return nil
	}
	out, _ := json.MarshalIndent(pretty, "", "  ")
	fmt.Println(string(out))
	return nil
}

func postAndCheck(url string) error {
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("request failed: %s: %s", resp.Status, string(body))
	}
	fmt.Println("ok")
	return nil
}
