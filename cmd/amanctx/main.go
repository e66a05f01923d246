// Package main is the entry point of the amanctx CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/amanctx/cmd/amanctx/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
