package main

import (
	"os"

	"github.com/ijonas/omikuji/internal/cli"
	"github.com/ijonas/omikuji/internal/logger"
)

func main() {
	Run(cli.NewProductionClient(), os.Args...)
}

// Run the CLI, providing further command instructions by default.
func Run(client *cli.Client, args ...string) {
	app := cli.NewApp(client)
	logger.WarnIf(app.Run(args))
}
