package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/easel/internal/auth"
	"github.com/haasonsaas/easel/internal/storage"
)

// buildTokenCmd creates the "token" command for minting access tokens.
func buildTokenCmd() *cobra.Command {
	var (
		secret string
		expiry time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint a JWT for a user",
		Long: `Mint a JWT for a user.

The token is signed with the shared secret and printed to stdout. Pass the
secret with --secret or set EASEL_JWT_SECRET.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("EASEL_JWT_SECRET")
			}
			if secret == "" {
				return fmt.Errorf("no signing secret (use --secret or EASEL_JWT_SECRET)")
			}
			userID := args[0]
			if !auth.ValidUserID(userID) {
				return fmt.Errorf("user id %q is not a valid UUID", userID)
			}

			token, err := auth.NewService(secret, expiry).MintToken(userID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVarP(&secret, "secret", "s", "", "JWT signing secret")
	cmd.Flags().DurationVarP(&expiry, "expiry", "e", 24*time.Hour, "Token lifetime")
	return cmd
}

// buildUserCmd creates the "user" command group.
func buildUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}
	cmd.AddCommand(buildUserCreateCmd(), buildUserListCmd())
	return cmd
}

func buildUserCreateCmd() *cobra.Command {
	var (
		configPath  string
		displayName string
		inviteCode  string
	)

	cmd := &cobra.Command{
		Use:   "create <email>",
		Short: "Create a user account",
		Long: `Create a user account.

With --invite, the invite code is redeemed atomically with the account
creation; an already-redeemed code fails without creating the user.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			users, err := openUsers(configPath)
			if err != nil {
				return err
			}
			defer users.Close()

			ctx := cmd.Context()
			user, err := users.CreateUser(ctx, args[0], displayName)
			if err != nil {
				return err
			}
			if inviteCode != "" {
				if err := users.RedeemInvite(ctx, inviteCode, user.ID); err != nil {
					return fmt.Errorf("redeeming invite: %w", err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %s (%s)\n", user.ID, user.Email)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVarP(&displayName, "name", "n", "", "Display name")
	cmd.Flags().StringVarP(&inviteCode, "invite", "i", "", "Invite code to redeem")
	return cmd
}

func buildUserListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users with public galleries",
		RunE: func(cmd *cobra.Command, args []string) error {
			users, err := openUsers(configPath)
			if err != nil {
				return err
			}
			defer users.Close()

			public, err := users.ListPublicUsers(cmd.Context())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tEMAIL\tNAME\tCREATED")
			for _, u := range public {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", u.ID, u.Email, u.DisplayName, u.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

// buildInviteCmd creates the "invite" command group.
func buildInviteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invite",
		Short: "Manage invite codes",
	}
	cmd.AddCommand(buildInviteNewCmd(), buildInviteListCmd())
	return cmd
}

func buildInviteNewCmd() *cobra.Command {
	var (
		configPath string
		count      int
	)

	cmd := &cobra.Command{
		Use:   "new",
		Short: "Generate invite codes",
		RunE: func(cmd *cobra.Command, args []string) error {
			users, err := openUsers(configPath)
			if err != nil {
				return err
			}
			defer users.Close()

			for i := 0; i < count; i++ {
				inv, err := users.CreateInvite(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), inv.Code)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of codes to generate")
	return cmd
}

func buildInviteListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List invite codes",
		RunE: func(cmd *cobra.Command, args []string) error {
			users, err := openUsers(configPath)
			if err != nil {
				return err
			}
			defer users.Close()

			invites, err := users.ListInvites(cmd.Context())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CODE\tCREATED\tREDEEMED BY")
			for _, inv := range invites {
				redeemed := "-"
				if inv.RedeemedBy != "" {
					redeemed = inv.RedeemedBy
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", inv.Code, inv.CreatedAt.Format(time.RFC3339), redeemed)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func openUsers(configPath string) (*storage.Store, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return storage.Open(cfg.Database.Path)
}
