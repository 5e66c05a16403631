package main

import "github.com/pinshare/relay/cmd/relay/cmd"

func main() {
	cmd.Execute()
}
