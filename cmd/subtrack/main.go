package main

import "github.com/regbridge/subtrack/internal/cli"

func main() {
	cli.Execute()
}
