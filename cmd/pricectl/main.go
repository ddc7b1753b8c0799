// Package main is the entry point for pricectl.
package main

import (
	"fmt"
	"os"

	"claimpricer/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
