// Command planctl is the operator CLI for the planmail delivery system.
package main

import (
	"os"

	"github.com/timmy/planmail/cmd/planctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
