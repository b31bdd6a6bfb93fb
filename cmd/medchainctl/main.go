package main

import "github.com/rongwang/medchain-server/cmd/medchainctl/cmd"

func main() {
	cmd.Execute()
}
