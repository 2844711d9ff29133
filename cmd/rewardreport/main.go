package main

import "staking-reward-report/internal/cli"

func main() {
	cli.Execute()
}
