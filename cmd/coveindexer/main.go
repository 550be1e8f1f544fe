package main

import "cove-indexer/internal/cli"

func main() {
	cli.Execute()
}
