// Command friendsctl seeds data, issues tokens and watches notification streams.
package main

import (
	"os"

	"fitsocial/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
