// Command floreser runs the FloreSer booking and entitlement API.
//
// Usage:
//
//	floreser [serve|worker|migrate|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/floreser/floreser/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "floreser: %v\n", err)
		os.Exit(1)
	}
}
