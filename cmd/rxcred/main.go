package main

import "github.com/openrx-networks/rxcred/internal/cli"

func main() {
	cli.Execute()
}
