// The main package for the matchforge executable.
package main

import (
	"os"

	"github.com/riftlab/matchforge/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
