// Package main is the stretch-agent command line.
package main

import (
	"log"
	"os"

	"github.com/viam-labs/stretch-agent/cli"
)

func main() {
	app := cli.NewApp(os.Stdin, os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
