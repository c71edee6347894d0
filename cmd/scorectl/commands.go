package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Dan9191/p2p-lending/internal/middleware"
	"github.com/Dan9191/p2p-lending/internal/scoring"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newEvaluateCmd() *cobra.Command {
	var inputPath, policyPath string

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score one application from a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(inputPath)
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			var in scoring.Input
			if err := json.Unmarshal(raw, &in); err != nil {
				return fmt.Errorf("parse input: %w", err)
			}
			policy, err := scoring.LoadPolicy(policyPath)
			if err != nil {
				return err
			}

			log := logrus.New()
			log.SetOutput(cmd.ErrOrStderr())
			engine, err := scoring.NewEngine(policy, log)
			if err != nil {
				return err
			}
			res, err := engine.Evaluate(in)
			if err != nil && !errors.Is(err, scoring.ErrFallback) {
				return err
			}
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&inputPath, "input", "", "Application JSON file")
	cmd.Flags().StringVar(&policyPath, "policy", "", "Scoring policy YAML file (default: built-in policy)")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func newPolicyCmd() *cobra.Command {
	var policyPath string

	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Print the effective scoring policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			policy, err := scoring.LoadPolicy(policyPath)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), policy)
		},
	}
	cmd.Flags().StringVar(&policyPath, "policy", "", "Scoring policy YAML file (default: built-in policy)")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		wallet string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a wallet session token signed with JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("JWT_SECRET")
			if secret == "" {
				return errors.New("JWT_SECRET is required")
			}
			token, err := middleware.IssueToken(secret, wallet, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&wallet, "wallet", "", "Wallet address used as the token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("wallet")
	return cmd
}
