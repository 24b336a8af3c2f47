// Command onedrivesync is a thin demonstration binary exercising the sync
// engine core's control surface end-to-end (spec §6): start/stop a sync run
// for an account, list its unresolved conflicts, and resolve one. It carries
// no independent business logic — every decision lives in internal/engine.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
