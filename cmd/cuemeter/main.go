package main

import "github.com/ogulcanaydogan/cuemeter/internal/cli"

func main() {
	cli.Execute()
}
