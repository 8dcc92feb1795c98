package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/queueless/queuewatch/internal/auth"
)

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <token>",
		Short: "Store the bearer credential obtained from the backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			credential := args[0]

			claims, err := auth.ParseClaims(credential)
			if err != nil {
				return fmt.Errorf("credential is not a valid token: %w", err)
			}
			if claims.Expired(time.Now()) {
				return fmt.Errorf("credential already expired at %s", claims.ExpiresAt)
			}

			creds, err := auth.Open(cfg.State.File)
			if err != nil {
				return err
			}
			if err := creds.SetCredential(credential); err != nil {
				return err
			}

			fmt.Printf("logged in as %s", claims.UserID)
			if claims.Role != "" {
				fmt.Printf(" (%s)", claims.Role)
			}
			if !claims.ExpiresAt.IsZero() {
				fmt.Printf(", credential valid until %s", claims.ExpiresAt.Format(time.RFC3339))
			}
			fmt.Println()
			return nil
		},
	}
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Drop the stored credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			creds, err := auth.Open(cfg.State.File)
			if err != nil {
				return err
			}
			if err := creds.ClearCredential(); err != nil {
				return err
			}
			fmt.Println("logged out")
			return nil
		},
	}
}
