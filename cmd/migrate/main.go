// Command migrate manages the JSON migrations directory of a pg-engine
// deployment: apply pending files, record new statements, roll back, reset
// and report status.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"pg-engine/internal/config"
	"pg-engine/internal/dbexec"
	"pg-engine/internal/logging"
	"pg-engine/internal/migrations"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage pg-engine JSON migrations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.DefineFlags(root.PersistentFlags())

	var jsonOutput bool
	status := &cobra.Command{
		Use:   "status",
		Short: "List migration files and whether they are applied",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRunner(cmd, func(_ context.Context, r *migrations.Runner, _ *config.Config) error {
				all, err := r.List()
				if err != nil {
					return err
				}
				return printStatus(cmd.OutOrStdout(), all, jsonOutput)
			})
		},
	}
	status.Flags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	apply := &cobra.Command{
		Use:   "apply",
		Short: "Apply every migration not yet applied",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRunner(cmd, func(ctx context.Context, r *migrations.Runner, _ *config.Config) error {
				n, err := r.Apply(ctx)
				fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", n)
				return err
			})
		},
	}

	var up, down string
	create := &cobra.Command{
		Use:   "create",
		Short: "Run a statement and record it as an applied migration",
		Example: `  migrate create --up "ALTER TABLE users ADD COLUMN verified boolean DEFAULT false" \
                 --down "ALTER TABLE users DROP COLUMN verified"`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRunner(cmd, func(ctx context.Context, r *migrations.Runner, _ *config.Config) error {
				m, err := r.Create(ctx, up, down)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s)\n", m.Filename, m.ID)
				return nil
			})
		},
	}
	create.Flags().StringVar(&up, "up", "", "Statement to run")
	create.Flags().StringVar(&down, "down", "", "Statement that undoes --up")
	_ = create.MarkFlagRequired("up")
	_ = create.MarkFlagRequired("down")

	rollback := &cobra.Command{
		Use:   "rollback <id>",
		Short: "Roll back from the newest migration to the one with this id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRunner(cmd, func(ctx context.Context, r *migrations.Runner, _ *config.Config) error {
				n, err := r.Rollback(ctx, args[0])
				fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migration(s)\n", n)
				return err
			})
		},
	}

	var confirmed bool
	reset := &cobra.Command{
		Use:   "reset",
		Short: "Drop the schema, recreate it empty and remove the migrations directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !confirmed {
				return errors.New("reset drops every object in the schema; pass --yes to confirm")
			}
			return withRunner(cmd, func(ctx context.Context, r *migrations.Runner, cfg *config.Config) error {
				schema := cfg.Database.EffectiveSchema()
				if err := r.Reset(ctx, schema); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "schema %s reset\n", schema)
				return nil
			})
		},
	}
	reset.Flags().BoolVar(&confirmed, "yes", false, "Confirm the reset")

	root.AddCommand(status, apply, create, rollback, reset)
	return root
}

type runnerFunc func(ctx context.Context, r *migrations.Runner, cfg *config.Config) error

// withRunner loads configuration from the root flags, opens the database
// and runs fn with a Runner over the configured directory.
func withRunner(cmd *cobra.Command, fn runnerFunc) error {
	cfg, err := config.LoadFrom(cmd.Root().PersistentFlags())
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logger := logging.NewLogger(logging.Config{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
		Output: cmd.ErrOrStderr(),
	})

	db, err := sql.Open("pgx", cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("connect to %s: %w", cfg.Database.RedactedDSN(), err)
	}

	runner := migrations.New(cfg.Migrations.Dir, dbexec.NewStandardExecutor(db), logger.Logger)
	logger.Debug("migrations runner ready",
		slog.String("dir", runner.Dir()),
		slog.String("schema", cfg.Database.EffectiveSchema()),
	)
	return fn(ctx, runner, cfg)
}

func printStatus(w io.Writer, all []migrations.Migration, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if all == nil {
			all = []migrations.Migration{}
		}
		return enc.Encode(all)
	}
	if len(all) == 0 {
		fmt.Fprintln(w, "no migrations")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tID\tSTATUS\tCREATED")
	for _, m := range all {
		state := "pending"
		if m.Applied {
			state = "applied"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.Filename, m.ID, state, m.Timestamp)
	}
	return tw.Flush()
}
