package main

import "github.com/inboxkeep/core/internal/cli"

func main() {
	cli.Execute()
}
