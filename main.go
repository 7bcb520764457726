package main

import "github.com/Layr-Labs/raffle-sidecar/cmd"

func main() {
	cmd.Execute()
}
