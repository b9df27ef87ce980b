package main

import (
	"context"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/gamewallet/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/gamewallet/pkg/ledger"
	"github.com/spf13/cobra"
)

const (
	flagGameID      = "game-id"
	flagGameName    = "name"
	flagGameEnabled = "enabled"
	flagUserID      = "user-id"
	flagCurrency    = "currency"
	flagTokenTTL    = "ttl"

	defaultTokenTTL = 24 * time.Hour
)

func newGameCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "game",
		Short: "Manage the game catalog",
	}
	cmd.AddCommand(newGameUpsertCommand())
	return cmd
}

func newGameUpsertCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:   "upsert",
		Short: "Create or update a game",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			gameID, err := ledger.NewGameID(flagString(cmd, flagGameID))
			if err != nil {
				return err
			}
			enabled, err := cmd.Flags().GetBool(flagGameEnabled)
			if err != nil {
				return err
			}
			game := ledger.Game{GameID: gameID, Name: flagString(cmd, flagGameName), Enabled: enabled}
			if err := upsertGame(cmd.Context(), cfg, game); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "game %s enabled=%t\n", gameID.String(), enabled)
			return nil
		},
	}
	addDatabaseFlag(cmd)
	cmd.Flags().String(flagGameID, "", "game identifier (required)")
	cmd.Flags().String(flagGameName, "", "display name")
	cmd.Flags().Bool(flagGameEnabled, true, "accept bets for this game")
	_ = cmd.MarkFlagRequired(flagGameID)
	return cmd
}

func upsertGame(ctx context.Context, cfg *runtimeConfig, game ledger.Game) error {
	db, cleanup, err := openGormDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = cleanup() }()
	return gormstore.New(db).UpsertGame(ctx, game)
}

func newTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage player bearer tokens",
	}
	cmd.AddCommand(newTokenIssueCommand())
	return cmd
}

func newTokenIssueCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a bearer token that resolves to a user and currency",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := ledger.NewUserID(flagString(cmd, flagUserID))
			if err != nil {
				return err
			}
			currency, err := ledger.NewCurrency(flagString(cmd, flagCurrency))
			if err != nil {
				return err
			}
			ttl, err := cmd.Flags().GetDuration(flagTokenTTL)
			if err != nil {
				return err
			}
			token, err := issueToken(cmd.Context(), cfg, userID, currency, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	addDatabaseFlag(cmd)
	addTokenFlags(cmd)
	cmd.Flags().String(flagUserID, "", "player identifier (required)")
	cmd.Flags().String(flagCurrency, "", "wallet currency (required)")
	cmd.Flags().Duration(flagTokenTTL, defaultTokenTTL, "token lifetime")
	_ = cmd.MarkFlagRequired(flagUserID)
	_ = cmd.MarkFlagRequired(flagCurrency)
	return cmd
}

func issueToken(ctx context.Context, cfg *runtimeConfig, userID ledger.UserID, currency ledger.Currency, ttl time.Duration) (string, error) {
	signed, err := signedTokenSource(cfg)
	if err != nil {
		return "", err
	}
	if signed != nil {
		return signed.Issue(userID, currency, ttl)
	}
	db, cleanup, err := openGormDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return "", err
	}
	defer func() { _ = cleanup() }()
	return gormstore.NewTokenSource(db, nil).Issue(ctx, userID, currency, ttl)
}

func flagString(cmd *cobra.Command, name string) string {
	value, err := cmd.Flags().GetString(name)
	if err != nil {
		return ""
	}
	return value
}
