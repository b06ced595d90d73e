// Command authcore runs the PyroAlert authentication service and its
// maintenance tasks.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "authcore:", err)
		os.Exit(1)
	}
}
