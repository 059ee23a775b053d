// Command replipush applies push requests to a SQLite database.
package main

import (
	"os"

	"github.com/roach88/replipush/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
