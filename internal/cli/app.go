package cli

import (
	"fmt"

	clipkg "github.com/urfave/cli"

	"github.com/ijonas/omikuji/build/static"
)

// NewApp returns the command-line application. Running with no subcommand
// starts the daemon. Usage errors exit with code 2, runtime failures with 1.
func NewApp(client *Client) *clipkg.App {
	clipkg.VersionFlag = clipkg.BoolFlag{Name: "version, V", Usage: "print the version"}

	app := clipkg.NewApp()
	app.Usage = "EVM blockchain datafeed daemon"
	app.Version = fmt.Sprintf("%v@%v", static.Version, static.Sha)
	app.Flags = []clipkg.Flag{
		clipkg.StringFlag{
			Name:  "config, c",
			Usage: "path to the YAML configuration file",
		},
		clipkg.StringFlag{
			Name:  "private-key-env, p",
			Value: "OMIKUJI_PRIVATE_KEY",
			Usage: "environment variable holding the legacy single private key",
		},
	}
	app.Action = client.RunNode
	app.OnUsageError = usageError
	app.CommandNotFound = func(c *clipkg.Context, command string) {
		fmt.Fprintf(clipkg.ErrWriter, "%s: %q is not a valid command\n", c.App.Name, command)
		clipkg.OsExiter(2)
	}
	app.Commands = []clipkg.Command{
		{
			Name:         "run",
			Usage:        "Run the datafeed daemon (the default when no command is given)",
			Action:       client.RunNode,
			OnUsageError: usageError,
		},
		{
			Name:  "key",
			Usage: "Manage per-network signing keys",
			Subcommands: []clipkg.Command{
				{
					Name:  "import",
					Usage: "Import a private key for a network",
					Flags: []clipkg.Flag{
						networkFlag,
						clipkg.StringFlag{
							Name:  "key, k",
							Usage: "private key as hex; prefer --file or the hidden prompt",
						},
						clipkg.StringFlag{
							Name:  "file, f",
							Usage: "file containing the private key",
						},
						serviceFlag,
					},
					Action:       client.ImportKey,
					OnUsageError: usageError,
				},
				{
					Name:         "export",
					Usage:        "Print a stored private key, after confirmation",
					Flags:        []clipkg.Flag{networkFlag, serviceFlag},
					Action:       client.ExportKey,
					OnUsageError: usageError,
				},
				{
					Name:         "remove",
					Usage:        "Remove the stored key for a network, after confirmation",
					Flags:        []clipkg.Flag{networkFlag, serviceFlag},
					Action:       client.RemoveKey,
					OnUsageError: usageError,
				},
				{
					Name:         "list",
					Usage:        "List networks with a stored key",
					Flags:        []clipkg.Flag{serviceFlag},
					Action:       client.ListKeys,
					OnUsageError: usageError,
				},
				{
					Name:         "migrate",
					Usage:        "Copy keys from environment variables into the configured backend",
					Flags:        []clipkg.Flag{serviceFlag},
					Action:       client.MigrateKeys,
					OnUsageError: usageError,
				},
			},
		},
	}
	return app
}

var (
	networkFlag = clipkg.StringFlag{
		Name:  "network, n",
		Usage: "network the key signs for",
	}
	serviceFlag = clipkg.StringFlag{
		Name:  "service, s",
		Usage: "OS keyring service name, forces the keyring backend",
	}
)

func usageError(c *clipkg.Context, err error, isSubcommand bool) error {
	return clipkg.NewExitError(err.Error(), 2)
}
