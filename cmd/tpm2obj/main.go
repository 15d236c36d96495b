// Command tpm2obj resolves tpm2-tools object identifiers and uses the keys
// they refer to.
package main

import (
	"fmt"
	"os"

	"go.step.sm/tpmobject/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "tpm2obj:", err)
		os.Exit(1)
	}
}
