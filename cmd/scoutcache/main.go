package main

import (
	"os"

	"github.com/saxonscout/scoutcache/internal/cli"
)

func main() {
	os.Exit(cli.Run())
}
