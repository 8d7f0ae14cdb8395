package main

import (
	"os"

	"github.com/dshills/tenet/internal/cli"
)

func main() {
	os.Exit(cli.Run())
}
