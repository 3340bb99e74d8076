package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	historyPage  int
	historyLimit int
)

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVar(&historyPage, "page", 1, "page number, 1 is the newest")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "messages per page")
}

var historyCmd = &cobra.Command{
	Use:   "history <chat-id>",
	Short: "Print stored messages for a chat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadSession()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()

		res, err := newAPIClient(cfg.serverURL(), cfg.Server.Token).history(ctx, args[0], historyPage, historyLimit)
		if err != nil {
			return fmt.Errorf("history: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(res.Messages) == 0 {
			fmt.Fprintln(out, "No messages.")
			return nil
		}
		for _, m := range res.Messages {
			fmt.Fprintln(out, formatMessage(m))
		}
		fmt.Fprintf(out, "-- page %d of %d (%d messages)\n",
			res.Pagination.Page, res.Pagination.TotalPages, res.Pagination.Total)
		return nil
	},
}

// loadSession loads the config and requires a stored token.
func loadSession() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig(path)
	if err != nil {
		return nil, err
	}
	if cfg.Server.Token == "" {
		return nil, fmt.Errorf("not logged in, run 'chatclient login' first")
	}
	return cfg, nil
}

func formatMessage(m message) string {
	return fmt.Sprintf("[%s] %s %s: %s", m.Timestamp.Local().Format("15:04:05"), m.ChatId, m.SenderId, m.Content)
}
