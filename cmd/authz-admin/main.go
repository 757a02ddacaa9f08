// Command authz-admin administers the authorization API: roles, assignments,
// permission checks, the change feed, and local database tasks.
package main

import (
	"fmt"
	"os"

	"github.com/ehrconnect/authz/cmd/authz-admin/cmd"
)

// Version is set by build flags.
var Version = "dev"

func main() {
	cmd.SetVersion(Version)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
