// Command vinsight manages dashboard watchlists and follows realtime quotes
// for the focused ticker.
package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"
)

var configPath = flag.String("config", "config.yaml", "Path to the YAML configuration file; defaults and environment are used when it does not exist")

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(commander.CommandsCommand(), "")
	register(commander)

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}

// register wires every vinsight subcommand into c.
func register(c *subcommands.Commander) {
	c.Register(&listsCmd{}, "watchlists")
	c.Register(&createCmd{}, "watchlists")
	c.Register(&deleteCmd{}, "watchlists")
	c.Register(&addCmd{}, "watchlists")
	c.Register(&removeCmd{}, "watchlists")
	c.Register(&moveCmd{}, "watchlists")
	c.Register(&reorderCmd{}, "watchlists")
	c.Register(&importCmd{}, "watchlists")

	c.Register(&quoteCmd{}, "quotes")
	c.Register(&pricesCmd{}, "quotes")
	c.Register(&historyCmd{}, "quotes")

	c.Register(&serveCmd{}, "server")
}
