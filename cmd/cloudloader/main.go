package main

import (
	"fmt"
	"os"

	"cloudloader/cmd/cloudloader/cli"
)

// Set via -ldflags at build time
var (
	commit = "none"
	date   = "unknown"
)

func main() {
	if err := cli.Execute(commit, date); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
