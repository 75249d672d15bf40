package main

import "replaycore/internal/cli"

func main() {
	cli.Execute()
}
