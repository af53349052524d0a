package main

import "fx-risk-alerts/internal/cli"

func main() {
	cli.Execute()
}
