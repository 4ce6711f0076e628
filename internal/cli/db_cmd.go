package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"ldapapi/internal/config"
	"ldapapi/internal/storage"
)

func openDB(ctx context.Context) (*storage.DB, error) {
	cfg, err := config.Read()
	if err != nil {
		return nil, err
	}
	if cfg.DBURL == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}
	return storage.NewDB(ctx, cfg.DBURL, 2, 0)
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply audit log database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			if err := storage.Migrate(cmd.Context(), db); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newAuditCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent audit log entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			logs, err := storage.NewAuditRepo(db).Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if a.output == "json" {
				return printJSON(cmd.OutOrStdout(), logs)
			}
			w := newTable(cmd.OutOrStdout())
			_, _ = fmt.Fprintln(w, "TIME\tACTOR\tACTION\tOUTCOME")
			for _, l := range logs {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", l.CreatedAt.Local().Format(time.DateTime), orDash(l.Actor), l.Action, l.Outcome)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Number of entries to show")
	return cmd
}
