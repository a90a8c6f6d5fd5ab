package main

import (
	"os"

	"github.com/felixgeelhaar/covkit/internal/cli"
	"github.com/felixgeelhaar/covkit/internal/infrastructure/logging"
)

func main() {
	logs := logging.New(os.Stderr)
	code := cli.Run(os.Args, os.Stdout, os.Stderr, cli.BuildService(os.Stdout, os.Stderr, logs))
	_ = logs.Close()
	os.Exit(code)
}
