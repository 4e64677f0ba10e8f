// Package main is the entry point for the kerminal-tunnel binary.
//
// kerminal-tunnel supervises SSH port forwarding defined in a YAML store:
// local forwards, remote forwards and dynamic SOCKS5 proxies, multiplexed
// over shared authenticated sessions.
//
// Usage:
//
//	kerminal-tunnel serve    # run the tunnel service, auto-starting flagged tunnels
//	kerminal-tunnel start    # run named tunnels in the foreground
//	kerminal-tunnel status   # show each tunnel's last journaled state
//	kerminal-tunnel list     # list tunnel definitions from the store
//	kerminal-tunnel doctor   # diagnose definitions before they fail at start
//	kerminal-tunnel events   # show the lifecycle journal
//	kerminal-tunnel import   # pull forward directives out of ~/.ssh/config
//	kerminal-tunnel group    # manage named tunnel groups for serve --group
package main

import (
	"fmt"
	"os"

	"github.com/klpod221/kerminal-sub000/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
