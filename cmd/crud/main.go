// Command crud serves the auth API. "crud seed" and "crud reset" create and
// remove the demo accounts.
package main

import (
	"log"
	"os"

	"github.com/slava-viktorov/crud-example/cmd/internal/app"
)

func main() {
	if err := app.Run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}
