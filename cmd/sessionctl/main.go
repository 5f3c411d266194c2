package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	apiFlag  string
	userFlag string
	rootCmd  = &cobra.Command{
		Use:   "sessionctl",
		Short: "CLI client for the session service REST API",
	}
)

func main() {
	rootCmd.PersistentFlags().StringVarP(&apiFlag, "api", "a", "http://localhost:8002", "Session service base URL")
	rootCmd.PersistentFlags().StringVarP(&userFlag, "user", "u", "", "User ID sent as X-User-ID (required)")

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new session",
		RunE: func(cmd *cobra.Command, args []string) error {
			title, _ := cmd.Flags().GetString("title")
			message, _ := cmd.Flags().GetString("message")
			timeout, _ := cmd.Flags().GetInt("timeout")
			if userFlag == "" {
				return fmt.Errorf("--user required")
			}
			return runCreate(apiFlag, userFlag, title, message, timeout, os.Stdout)
		},
	}
	createCmd.Flags().StringP("title", "t", "", "Session title")
	createCmd.Flags().StringP("message", "m", "", "Initial message content")
	createCmd.Flags().Int("timeout", 0, "Timeout override in minutes")
	rootCmd.AddCommand(createCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, _ := cmd.Flags().GetString("status")
			query, _ := cmd.Flags().GetString("query")
			if userFlag == "" {
				return fmt.Errorf("--user required")
			}
			return runList(apiFlag, userFlag, status, query, os.Stdout)
		},
	}
	listCmd.Flags().StringP("status", "s", "", "Filter by status")
	listCmd.Flags().StringP("query", "q", "", "Title substring filter")
	rootCmd.AddCommand(listCmd)

	getCmd := &cobra.Command{
		Use:   "get <session-id>",
		Short: "Fetch a single session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if userFlag == "" {
				return fmt.Errorf("--user required")
			}
			return runGet(apiFlag, userFlag, args[0], os.Stdout)
		},
	}
	rootCmd.AddCommand(getCmd)

	deleteCmd := &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if userFlag == "" {
				return fmt.Errorf("--user required")
			}
			return runDelete(apiFlag, userFlag, args[0], os.Stdout)
		},
	}
	rootCmd.AddCommand(deleteCmd)

	heartbeatCmd := &cobra.Command{
		Use:   "heartbeat <session-id>",
		Short: "Renew a session's TTL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if userFlag == "" {
				return fmt.Errorf("--user required")
			}
			return runHeartbeat(apiFlag, userFlag, args[0], os.Stdout)
		},
	}
	rootCmd.AddCommand(heartbeatCmd)

	sayCmd := &cobra.Command{
		Use:   "say <session-id> <content>",
		Short: "Append a message to a session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, _ := cmd.Flags().GetString("role")
			if userFlag == "" {
				return fmt.Errorf("--user required")
			}
			return runSay(apiFlag, userFlag, args[0], role, args[1], os.Stdout)
		},
	}
	sayCmd.Flags().StringP("role", "r", "user", "Message role (user, assistant, system)")
	rootCmd.AddCommand(sayCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
