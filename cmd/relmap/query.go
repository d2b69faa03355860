package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"relmap/internal/app"
	"relmap/internal/logging"
	"relmap/internal/materialize"
)

var (
	queryFlags rowSetFlags
	queryCount bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Run a row set against the database",
	Long: `Run a row set on one database connection and print each object as a
JSON line. With --count only the number of matching rows is printed, and
with --delete the number of deleted rows.`,
	Example: `  relmap query --entities defs.yaml --entity Bank --filter currency__code=USD --eager currency
  relmap query --entities defs.yaml --entity InterBankStatus --count`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Every row set operation of this run logs the run id as its parent.
		runID := uuid.NewString()
		ctx := logging.WithSessionIDContext(cmd.Context(), runID)
		a, err := app.New(cfg, logger)
		if err != nil {
			return err
		}
		a.AttachLoggerProvider(loggerProvider)
		// The app owns the logger provider from here on.
		loggerProvider = nil
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = a.Shutdown(shutdownCtx)
		}()

		if err := a.Init(ctx); err != nil {
			return err
		}
		session, err := a.Manager().Session(ctx)
		if err != nil {
			return err
		}
		defer func() {
			if err := session.Close(); err != nil {
				logger.Warn("failed to close session", slog.String("error", err.Error()))
			}
		}()

		rs, err := queryFlags.build(cmd, session)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		switch {
		case queryFlags.delete:
			n, err := rs.Delete(ctx)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(out, "deleted %d\n", n)
			return err
		case queryCount:
			n, err := rs.Count(ctx)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(out, n)
			return err
		}

		enc := json.NewEncoder(out)
		return rs.Iterate(ctx, func(obj *materialize.Object) error {
			return enc.Encode(obj)
		})
	},
}

func init() {
	queryFlags.bind(queryCmd)
	queryCmd.Flags().BoolVar(&queryCount, "count", false, "print the number of matching rows")
	queryCmd.MarkFlagsMutuallyExclusive("count", "delete")
}
