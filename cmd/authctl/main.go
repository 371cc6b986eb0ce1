package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tidemark/authd/internal/config"
	"github.com/tidemark/authd/internal/repository"
	"github.com/tidemark/authd/internal/service"
)

func main() {
	root := &cobra.Command{
		Use:           "authctl",
		Short:         "Operational tooling for the authd credential service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(clientsCmd(), tokensCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func connect(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

func clientsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clients",
		Short: "Inspect registered OAuth clients",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List clients; secrets are shown only for confidential clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			clients, err := repository.NewPostgresClientRepo(pool).List(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSECRET\tPASSWORD\tPERSONAL\tREVOKED")
			for _, c := range clients {
				secret := "-"
				if c.Confidential() {
					secret = c.Secret
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%t\t%t\n",
					c.ID, c.Name, secret, c.PasswordClient, c.PersonalAccessClient, c.Revoked)
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(list)
	return cmd
}

func tokensCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Manage issued credentials",
	}

	var days int
	cleanup := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete codes, tokens, and sessions expired longer than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			if days <= 0 {
				return fmt.Errorf("--days must be positive")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			sweeper := service.NewSweeper(
				repository.NewPostgresCodeRepo(pool),
				repository.NewPostgresTokenRepo(pool),
				repository.NewPostgresSessionRepo(pool),
				cfg,
				zap.NewNop(),
			)
			deleted, err := sweeper.SweepBefore(ctx, time.Now().AddDate(0, 0, -days))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d expired records\n", deleted)
			return nil
		},
	}
	cleanup.Flags().IntVar(&days, "days", 7, "delete records expired more than this many days ago")

	cmd.AddCommand(cleanup)
	return cmd
}
