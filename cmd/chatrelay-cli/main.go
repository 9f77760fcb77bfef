package main

import "github.com/tansive/chatrelay/internal/cli"

func main() {
	cli.Execute()
}
