package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"relmap/internal/app"
	"relmap/internal/planner"
)

var explainFlags rowSetFlags

var explainCmd = &cobra.Command{
	Use:   "explain",
	Short: "Print the SQL a row set compiles to",
	Long: `Print the SQL statement and bound arguments a row set compiles to.

No database connection is made. The dialect follows database.driver.`,
	Example: `  relmap explain --entities defs.yaml --entity Bank --filter currency__code=USD
  relmap explain --entities defs.yaml --entity Bank --exclude name__startswith=Old --delete`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.New(cfg, logger)
		if err != nil {
			return err
		}
		rs, err := explainFlags.build(cmd, a.Manager())
		if err != nil {
			return err
		}

		var query planner.SQLQuery
		if explainFlags.delete {
			query, err = rs.CompileDelete()
		} else {
			var compiled planner.Compiled
			compiled, err = rs.Compile()
			query = compiled.SQLQuery
		}
		if err != nil {
			return err
		}
		return printQuery(cmd.OutOrStdout(), query)
	},
}

func init() {
	explainFlags.bind(explainCmd)
}

func printQuery(w io.Writer, query planner.SQLQuery) error {
	if _, err := fmt.Fprintln(w, query.SQL); err != nil {
		return err
	}
	for i, arg := range formatArgs(query.Args) {
		if _, err := fmt.Fprintf(w, "  [%d] %s\n", i+1, arg); err != nil {
			return err
		}
	}
	return nil
}
