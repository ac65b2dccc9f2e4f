package main

import "github.com/relaycommander/rc-agent/cmd"

func main() {
	cmd.Execute()
}
