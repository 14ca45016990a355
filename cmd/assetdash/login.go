package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nhle/assetdash/internal/credential"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store the dashboard API token in the system keyring",
	RunE: func(cmd *cobra.Command, args []string) error {
		token, _ := cmd.Flags().GetString("token")
		if token == "" {
			form := huh.NewForm(
				huh.NewGroup(
					huh.NewInput().
						Title("API Token").
						Description("Bearer token for the notification API").
						EchoMode(huh.EchoModePassword).
						Value(&token).
						Validate(func(s string) error {
							if strings.TrimSpace(s) == "" {
								return errors.New("token is required")
							}
							return nil
						}),
				),
			)
			if err := form.RunWithContext(cmd.Context()); err != nil {
				return fmt.Errorf("reading token: %w", err)
			}
		}

		if err := credential.NewStore().Set(credential.TokenKey, strings.TrimSpace(token)); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Token saved.")
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored API token",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := credential.NewStore().Delete(credential.TokenKey); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Token removed.")
		return nil
	},
}

func init() {
	loginCmd.Flags().String("token", "", "token to store instead of prompting")
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}
