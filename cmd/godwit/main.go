package main

import (
	"os"

	"github.com/perchdata/godwit/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
