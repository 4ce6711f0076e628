package main

import (
	"os"

	"ldapapi/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
