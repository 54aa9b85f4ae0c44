// Package main is the entry point of the fundrag CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/fundrag/cmd/fundrag/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
