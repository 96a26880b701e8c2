package main

import "crypto-arb-scanner/internal/cli"

func main() {
	cli.Execute()
}
