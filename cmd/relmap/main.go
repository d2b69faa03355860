// Command relmap compiles and runs row-set queries against entities declared
// in a YAML definitions file.
//
// Usage:
//
//	relmap explain --entities defs.yaml --entity Bank --filter currency__code=USD
//	relmap query   --entities defs.yaml --entity Bank --order -name --limit 10
//	relmap version
//
// explain only compiles and needs no database. query connects with the
// database.* settings from relmap.yaml, RELMAP_* variables or flags.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
