package main

import "signalrelay/cmd/cli/command"

func main() {
	command.Execute()
}
