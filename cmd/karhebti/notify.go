package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var notifyListJSON bool

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Manage notifications",
}

var notifyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		notifs, err := client.Notifications(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if notifyListJSON {
			data, _ := json.MarshalIndent(notifs, "", "  ")
			fmt.Println(string(data))
			return nil
		}

		if len(notifs) == 0 {
			fmt.Println("No notifications.")
			return nil
		}

		for _, n := range notifs {
			marker := " "
			if !n.Read {
				marker = "*"
			}
			fmt.Printf("%s [%s] %s - %s\n", marker, n.Type, n.Title, n.Message)
		}
		return nil
	},
}

var notifyReadCmd = &cobra.Command{
	Use:   "read <notification-id>",
	Short: "Mark a notification as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := client.MarkNotificationRead(ctx, args[0]); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Println("Marked as read.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(notifyCmd)
	notifyCmd.AddCommand(notifyListCmd)
	notifyCmd.AddCommand(notifyReadCmd)

	notifyListCmd.Flags().BoolVar(&notifyListJSON, "json", false, "Output raw JSON")
}
