// Package main is the agentcore CLI: the multi-tenant assistant agent
// runtime. `agentcore serve` boots the store, deploys every always-on
// agent, and serves the streaming API; `agentcore agents list` inspects
// persisted agent configs.
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
