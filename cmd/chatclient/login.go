package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	loginEmail    string
	loginPassword string

	registerUsername string
)

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(registerCmd)

	for _, cmd := range []*cobra.Command{loginCmd, registerCmd} {
		cmd.Flags().StringVar(&loginEmail, "email", "", "account email address")
		cmd.Flags().StringVar(&loginPassword, "password", "", "account password")
		cmd.MarkFlagRequired("email")
		cmd.MarkFlagRequired("password")
	}
	registerCmd.Flags().StringVar(&registerUsername, "username", "", "display name")
	registerCmd.MarkFlagRequired("username")
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and store the session token",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		cfg, err := loadConfig(path)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()

		sess, err := newAPIClient(cfg.serverURL(), "").login(ctx, loginEmail, loginPassword)
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}

		cfg.Server.Token = sess.Token
		if err := saveConfig(path, cfg); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (%s)\n", sess.User.Username, sess.User.Id)
		return nil
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account on the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configPath()
		if err != nil {
			return err
		}
		cfg, err := loadConfig(path)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()

		u, err := newAPIClient(cfg.serverURL(), "").register(ctx, registerUsername, loginEmail, loginPassword)
		if err != nil {
			return fmt.Errorf("register: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Created account %s (%s). Run 'chatclient login' next.\n", u.Username, u.Id)
		return nil
	},
}
