// Command iris runs the agent runtime: a server hosting one or more agents,
// plus client commands to talk to it.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
