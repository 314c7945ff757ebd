package main

import "github.com/relayci/relay-agent/cmd"

func main() {
	cmd.Execute()
}
