// Package main provides the vinesync command: an offline-first field
// data core with a local cache, a pending-action queue, and background
// sync against the remote backend.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
