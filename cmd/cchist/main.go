// Command cchist is the thin command-line front end for the configuration
// history engine: every subcommand validates its flags and calls exactly
// one internal/engine.Engine method.
package main

import (
	"os"

	"github.com/alecthomas/kingpin/v2"

	"github.com/justSteve/claude-config-history/internal/clicmd"
)

func main() {
	app := kingpin.New("cchist", "Claude configuration history engine")

	a := clicmd.NewApp()
	a.Attach(app)

	defer a.Close() //nolint:errcheck

	kingpin.MustParse(app.Parse(os.Args[1:]))
}
