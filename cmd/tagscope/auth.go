package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(loginCmd, logoutCmd, statusCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in interactively and save the session cookies",
	Long: `Opens a visible browser on the login page. Log in by hand; once the site
accepts the session the cookies are saved and reused by fetch and batch.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Login(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Logged in. Session saved.")
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Delete the saved session cookies",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		return a.Logout()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether a usable saved session exists",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if a.IsAuthenticated() {
			fmt.Fprintln(cmd.OutOrStdout(), "Authenticated: saved session is within its validity window.")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Not authenticated: run `tagscope login`.")
		return nil
	},
}
