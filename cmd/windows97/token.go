package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/trungvo-ux/windows97/internal/config"
	"github.com/trungvo-ux/windows97/internal/repository"
	"github.com/trungvo-ux/windows97/internal/service"
)

const tokenCommandTimeout = 10 * time.Second

var (
	flagUsername string
	flagToken    string

	tokenCmd = &cobra.Command{
		Use:   "token",
		Short: "Manage chat auth tokens in the shared store",
	}

	tokenIssueCmd = &cobra.Command{
		Use:   "issue",
		Short: "Issue a new token for a user",
		Long: `
Creates a new multi-token record for the user and prints the token.
Existing tokens of the user stay valid.

Usage:
  $ windows97 token issue --username alice
`,
		RunE: runTokenIssue,
	}

	tokenSupersedeCmd = &cobra.Command{
		Use:   "supersede",
		Short: "Move a token into the grace slot of a user",
		Long: `
Removes the token's multi-token record and stores it as the user's last
token. The next request presenting it is answered with a replacement token.

Usage:
  $ windows97 token supersede --username alice --token <token>
`,
		RunE: runTokenSupersede,
	}
)

func init() {
	tokenCmd.PersistentFlags().StringVarP(&flagUsername, "username", "u", "", "username owning the token")
	_ = tokenCmd.MarkPersistentFlagRequired("username")
	tokenSupersedeCmd.Flags().StringVarP(&flagToken, "token", "t", "", "token to supersede")
	_ = tokenSupersedeCmd.MarkFlagRequired("token")

	tokenCmd.AddCommand(tokenIssueCmd)
	tokenCmd.AddCommand(tokenSupersedeCmd)
}

func runTokenIssue(cmd *cobra.Command, _ []string) error {
	return withAuthService(cmd.Context(), func(ctx context.Context, auth *service.AuthService) error {
		token, err := auth.IssueToken(ctx, flagUsername)
		if err != nil {
			return fmt.Errorf("issue token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	})
}

func runTokenSupersede(cmd *cobra.Command, _ []string) error {
	return withAuthService(cmd.Context(), func(ctx context.Context, auth *service.AuthService) error {
		if err := auth.SupersedeToken(ctx, flagUsername, flagToken); err != nil {
			return fmt.Errorf("supersede token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Token moved to the grace slot")
		return nil
	})
}

// withAuthService builds the token service against the configured store for
// one command invocation.
func withAuthService(ctx context.Context, fn func(context.Context, *service.AuthService) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	store, closeFn, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeFn(); err != nil {
			logger.Warn("close store", zap.Error(err))
		}
	}()

	auth := service.NewAuthService(repository.NewKVTokenRepo(store), service.HexTokenGenerator{}, cfg, logger)

	ctx, cancel := context.WithTimeout(ctx, tokenCommandTimeout)
	defer cancel()
	return fn(ctx, auth)
}
